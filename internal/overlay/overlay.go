// Package overlay shows the dictation state to the user: recording,
// processing, the recognised text, and idle.
//
// Implementations must return quickly; they are called from the session
// controller while it holds no locks, but on its event path.
package overlay

import "log/slog"

// Overlay is a user-facing status indicator.
type Overlay interface {
	ShowRecording()
	ShowProcessing()
	UpdateText(text string)
	Hide()
}

// Nop ignores every call.
type Nop struct{}

func (Nop) ShowRecording()    {}
func (Nop) ShowProcessing()   {}
func (Nop) UpdateText(string) {}
func (Nop) Hide()             {}

// Log writes each state change to a structured logger.
type Log struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l Log) ShowRecording()  { l.logger().Info("overlay: recording") }
func (l Log) ShowProcessing() { l.logger().Info("overlay: processing") }
func (l Log) Hide()           { l.logger().Debug("overlay: hidden") }

func (l Log) UpdateText(text string) {
	l.logger().Info("overlay: transcript", "chars", len([]rune(text)))
}

// Multi fans every call out to each overlay in order.
type Multi []Overlay

// NewMulti drops nil entries.
func NewMulti(overlays ...Overlay) Multi {
	m := make(Multi, 0, len(overlays))
	for _, o := range overlays {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m Multi) ShowRecording() {
	for _, o := range m {
		o.ShowRecording()
	}
}

func (m Multi) ShowProcessing() {
	for _, o := range m {
		o.ShowProcessing()
	}
}

func (m Multi) UpdateText(text string) {
	for _, o := range m {
		o.UpdateText(text)
	}
}

func (m Multi) Hide() {
	for _, o := range m {
		o.Hide()
	}
}
