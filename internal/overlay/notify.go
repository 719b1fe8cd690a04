package overlay

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// Notifier shows each transcript as a desktop notification. The other
// states are not announced.
type Notifier struct {
	title  string
	notify func(title, message, icon string) error
}

// NewNotifier returns a notifier using title as the notification heading.
func NewNotifier(title string) *Notifier {
	return &Notifier{title: title, notify: beeep.Notify}
}

func (n *Notifier) ShowRecording()  {}
func (n *Notifier) ShowProcessing() {}
func (n *Notifier) Hide()           {}

func (n *Notifier) UpdateText(text string) {
	if err := n.notify(n.title, text, ""); err != nil {
		slog.Debug("overlay: notification failed", "err", err)
	}
}
