package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the single-line input at the bottom of an open chat. Enter
// hands the text to the send callback; whitespace-only input is swallowed
// here so the daemon never sees an empty send.
type Composer struct {
	*tview.InputField
	onSend func(text string)
}

func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || c.onSend == nil {
			return
		}
		text := strings.TrimSpace(c.GetText())
		if text == "" {
			return
		}
		c.onSend(text)
		c.SetText("")
	})

	return c
}

// SetOnSend registers the callback invoked with the trimmed message text.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}
