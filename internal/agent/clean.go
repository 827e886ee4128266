package agent

import (
	"regexp"
	"strings"
)

// Models occasionally echo internal control markers into their prose.
// Anything matching these patterns is stripped before text reaches
// the user.
var (
	doneLineRe   = regexp.MustCompile(`(?i)(?:^|\n)[ \t]*<\|DONE\|>[ \t]*$`)
	doneInlineRe = regexp.MustCompile(`(?i)\s*<\|DONE\|>\s*`)
	toolMarkupRe = regexp.MustCompile(`(?is)(?:</?tool_calls>|"toolUse"|"arguments"\s*:|<\|\s*tool_(?:call|result)\s*\|>)`)
)

// Clean removes tool markup and done tokens from model text and trims
// the result.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = toolMarkupRe.ReplaceAllString(text, "")
	text = doneLineRe.ReplaceAllString(text, "")
	text = doneInlineRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
