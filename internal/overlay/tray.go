package overlay

import (
	"sync"

	"github.com/getlantern/systray"
)

const (
	trayIdle       = "typeless"
	trayRecording  = "● REC"
	trayProcessing = "Processing..."
)

// Tray reflects the dictation state in the system tray title and tooltip.
// systray must be running (see [Tray.OnReady]) for updates to be visible.
type Tray struct {
	setTitle   func(string)
	setTooltip func(string)

	mu   sync.Mutex
	last string
}

// NewTray returns a tray overlay bound to the process-wide systray.
func NewTray() *Tray {
	return &Tray{setTitle: systray.SetTitle, setTooltip: systray.SetTooltip}
}

// OnReady initialises the tray menu. Pass it to systray.Run; quit is invoked
// when the user picks the Quit entry.
func (t *Tray) OnReady(quit func()) {
	t.setTitle(trayIdle)
	t.setTooltip("typeless: hold the trigger key to dictate")
	mQuit := systray.AddMenuItem("Quit", "Quit typeless")
	go func() {
		<-mQuit.ClickedCh
		quit()
	}()
}

func (t *Tray) ShowRecording() {
	t.setTitle(trayRecording)
	t.setTooltip("Recording")
}

func (t *Tray) ShowProcessing() {
	t.setTitle(trayProcessing)
	t.setTooltip("Transcribing")
}

// UpdateText keeps the latest transcript in the tooltip.
func (t *Tray) UpdateText(text string) {
	t.mu.Lock()
	t.last = text
	t.mu.Unlock()
	t.setTooltip("Last: " + truncate(text, 64))
}

func (t *Tray) Hide() {
	t.setTitle(trayIdle)
}

// Last returns the most recent transcript shown.
func (t *Tray) Last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
