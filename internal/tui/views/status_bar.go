package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the profile, connection state, and flash messages.
type StatusBar struct {
	*tview.TextView
	profile string
	state   string
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetState updates the connection state display.
func (sb *StatusBar) SetState(state string) {
	sb.state = state
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	state := sb.state
	switch state {
	case "CONNECTED":
		state = "[green]" + state + "[-]"
	case "RECONNECTING", "CONNECTING":
		state = "[yellow]" + state + "[-]"
	case "FAILED":
		state = "[red]" + state + "[-]"
	}

	clock := time.Now().Format("15:04")
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.profile, state, clock)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(sb.flash))
	}

	_, _ = fmt.Fprint(sb, line)
}
