package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matfraga/papo/internal/api"
	"github.com/matfraga/papo/internal/store"
)

// MessageView displays the messages of a single chat, oldest first, with
// delivery markers on own messages.
type MessageView struct {
	*tview.TextView
	chatName string
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv}
}

// SetChatName updates the title with the chat name.
func (mv *MessageView) SetChatName(name string) {
	mv.chatName = name
	mv.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update refreshes the message view. Messages arrive already in display
// order. follow pins the view to the newest message; it comes from the
// stream's anchor signal so a reader scrolled into the backlog is not
// yanked down by every redraw.
func (mv *MessageView) Update(msgs []api.MessageResponse, follow bool) {
	mv.Clear()

	for _, m := range msgs {
		sender := m.SenderID
		if m.IsOwn {
			sender = "You"
		}

		ts := formatTimestamp(m.SentAt)
		marker := deliveryMarker(m)
		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			tview.Escape(sender), ts, marker, tview.Escape(sanitizeForTerminal(m.Body)))
		_, _ = fmt.Fprint(mv, line)
	}

	if follow {
		mv.ScrollToEnd()
	}
}

func deliveryMarker(m api.MessageResponse) string {
	if !m.IsOwn {
		return ""
	}
	switch m.Delivery {
	case store.DeliveryPending:
		return " [yellow]…[-]"
	case store.DeliveryFailed:
		return " [red]!![-]"
	default:
		return " [green]ok[-]"
	}
}
