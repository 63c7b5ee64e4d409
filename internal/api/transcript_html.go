package api

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/novakit/nova/internal/session"
)

// transcriptHTML renders the transcript as a standalone HTML page.
// Assistant messages are markdown (the model writes lists and
// emphasis); user messages are escaped verbatim.
func transcriptHTML(messages []session.Message) (string, error) {
	var body strings.Builder
	for _, m := range messages {
		who := "You"
		class := "user"
		if m.Role == session.RoleModel {
			who = "Nova"
			class = "model"
		}

		var text string
		if m.Role == session.RoleModel {
			var buf bytes.Buffer
			if err := goldmark.Convert([]byte(m.Text), &buf); err != nil {
				return "", fmt.Errorf("render message %s: %w", m.ID, err)
			}
			text = buf.String()
		} else {
			text = "<p>" + html.EscapeString(m.Text) + "</p>"
		}

		audio := ""
		if m.IsAudio {
			audio = ` <span class="audio">(spoken)</span>`
		}

		fmt.Fprintf(&body, `<div class="message %s">
<div class="meta">%s · %s%s</div>
%s</div>
`, class, who, m.Timestamp.Format("2006-01-02 15:04"), audio, text)
	}

	page := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Nova transcript</title>
<style>
body { font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 42em; margin: 2em auto; }
.message { margin: 1em 0; padding: 0.5em 1em; border-radius: 8px; }
.message.user { background: #eef2ff; }
.message.model { background: #f4f4f5; }
.meta { font-size: 12px; color: #666; margin-bottom: 0.25em; }
</style></head>
<body>
%s</body></html>`, body.String())

	return page, nil
}
