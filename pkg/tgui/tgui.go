package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Button is an inline keyboard button.
type Button = tele.Btn

// Inline is a small builder for inline keyboards.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row; empty rows are ignored.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Grid appends btns as rows of at most perRow buttons.
func (i *Inline) Grid(perRow int, btns ...tele.Btn) *Inline {
	if perRow <= 0 {
		perRow = 1
	}
	for len(btns) > 0 {
		n := min(perRow, len(btns))
		i.Row(btns[:n]...)
		btns = btns[n:]
	}
	return i
}

// Len is the number of rows.
func (i *Inline) Len() int { return len(i.rows) }

// Markup returns the reply markup, or nil when no rows were added so callers
// can pass it straight into send options.
func (i *Inline) Markup() *tele.ReplyMarkup {
	if len(i.rows) == 0 {
		return nil
	}
	return i.rm
}

// Btn creates a callback button with raw callback data; see Data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// URLBtn creates a URL button.
func URLBtn(text, url string) tele.Btn {
	return tele.Btn{Text: text, URL: url}
}
