package api

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/openroad-labs/carscout/internal/llm"
)

// transcriptMarkdown renders a session transcript as a markdown
// document. Tool activity is summarized rather than dumped; the raw
// payloads are available from the audit endpoints.
func transcriptMarkdown(sessionID string, msgs []llm.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation %s\n\n", sessionID)

	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser:
			if text := m.Text(); text != "" {
				fmt.Fprintf(&b, "**User:** %s\n\n", text)
			}
			for _, block := range m.Content {
				if block.Kind == llm.BlockToolResult {
					fmt.Fprintf(&b, "*Tool result (%s)*\n\n", block.ToolResult.Status)
				}
			}
		case llm.RoleAssistant:
			if text := m.Text(); text != "" {
				fmt.Fprintf(&b, "**Assistant:** %s\n\n", text)
			}
			for _, use := range m.ToolUses() {
				fmt.Fprintf(&b, "*Called tool `%s`*\n\n", use.Name)
			}
		}
	}
	return b.String()
}

// transcriptHTML renders the markdown transcript to a standalone HTML
// page with no external resources.
func transcriptHTML(sessionID, md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Conversation %s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 48em; margin: 2em auto;">
%s
</body></html>`, sessionID, buf.String())

	return html, nil
}
