package telegram

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"viewbot/internal/transport"
)

const (
	maxButtonLabel = 40
	buttonsPerRow  = 2
	divider        = "──────────"
)

var (
	boldRe   = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicRe = regexp.MustCompile(`(^|[\s(])_([^_\n]+)_($|[\s).,!?:;])`)
)

// Rendered is a message laid out for Telegram's HTML parse mode.
type Rendered struct {
	HTML    string
	Options []transport.Option
}

// Render lays msg out as Telegram HTML. Header blocks become bold lines,
// sections become paragraphs with one line per field and the first actions
// block becomes the option list for the inline keyboard.
func Render(msg transport.Message) Rendered {
	var parts []string
	hasHeader := false
	for _, b := range msg.Blocks {
		if b.Type == transport.BlockHeader {
			hasHeader = true
			break
		}
	}
	if !hasHeader && strings.TrimSpace(msg.Text) != "" {
		parts = append(parts, "<b>"+html.EscapeString(msg.Text)+"</b>")
	}

	for _, b := range msg.Blocks {
		switch b.Type {
		case transport.BlockHeader:
			if b.Text != nil {
				parts = append(parts, "<b>"+html.EscapeString(b.Text.Text)+"</b>")
			}
		case transport.BlockSection:
			var lines []string
			if b.Text != nil {
				lines = append(lines, textHTML(*b.Text))
			}
			for _, f := range b.Fields {
				lines = append(lines, textHTML(f))
			}
			if len(lines) > 0 {
				parts = append(parts, strings.Join(lines, "\n"))
			}
		case transport.BlockDivider:
			parts = append(parts, divider)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, html.EscapeString(msg.Text))
	}
	return Rendered{HTML: strings.Join(parts, "\n\n"), Options: msg.Options()}
}

func textHTML(t transport.Text) string {
	if t.Type == transport.TextMarkdown {
		return mrkdwnToHTML(t.Text)
	}
	return html.EscapeString(t.Text)
}

// mrkdwnToHTML converts the subset of Slack mrkdwn the compiler emits
// (*bold* and _italic_) to Telegram HTML.
func mrkdwnToHTML(s string) string {
	s = html.EscapeString(s)
	s = boldRe.ReplaceAllString(s, "<b>$1</b>")
	return italicRe.ReplaceAllString(s, "${1}<i>${2}</i>${3}")
}

// truncRunes cuts s to n runes, marking the cut with an ellipsis.
func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
