package tgui

import (
	"fmt"
	"html"
	"strings"
)

// H is HTML that is already escaped for ParseMode="HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func Code(s string) H { return H("<code>" + html.EscapeString(s) + "</code>") }

func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

// Mention links to a Telegram user ID.
func Mention(name string, userID int64) H {
	return Link(name, fmt.Sprintf("tg://user?id=%d", userID))
}

// Field is one "  - <code>label</code> value" line of a Card. Pad labels
// yourself to align values.
func Field(label string, value any) H {
	return H("  - " + Code(label).String() + " " + html.EscapeString(fmt.Sprint(value)))
}

// Card is a bold title followed by one field per line.
func Card(title string, fields ...H) H {
	var b strings.Builder
	b.WriteString("<b>" + html.EscapeString(title) + "</b>")
	for _, f := range fields {
		b.WriteString("\n")
		b.WriteString(f.String())
	}
	return H(b.String())
}

// List numbers items under title, or shows None when there are none.
func List(title string, items ...H) H {
	var b strings.Builder
	b.WriteString("<b>" + html.EscapeString(title) + "</b>:")
	if len(items) == 0 {
		b.WriteString("\n  " + Code("None").String())
		return H(b.String())
	}
	for i, it := range items {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, it)
	}
	return H(b.String())
}
