package agent

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text untouched",
			in:   "The 2024 RAV4 gets 30 mpg combined.",
			want: "The 2024 RAV4 gets 30 mpg combined.",
		},
		{
			name: "done marker on own line",
			in:   "Here is your answer.\n<|DONE|>\n",
			want: "Here is your answer.",
		},
		{
			name: "done marker inline",
			in:   "Here is your answer. <|DONE|>",
			want: "Here is your answer.",
		},
		{
			name: "done marker case insensitive",
			in:   "Answer.\n<|done|>",
			want: "Answer.",
		},
		{
			name: "leaked tool call tags",
			in:   "Let me check.<tool_calls>fetch_gas_mileage</tool_calls>",
			want: "Let me check.fetch_gas_mileage",
		},
		{
			name: "leaked tool use json fragment",
			in:   `Sure. "toolUse" "arguments": {"year": 2024}`,
			want: `Sure.   {"year": 2024}`,
		},
		{
			name: "leaked tool pipe markers",
			in:   "text <| tool_call |> more <|tool_result|> end",
			want: "text  more  end",
		},
		{
			name: "only markers leaves empty",
			in:   "<|DONE|>",
			want: "",
		},
		{
			name: "whitespace trimmed",
			in:   "  padded reply \n",
			want: "padded reply",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
