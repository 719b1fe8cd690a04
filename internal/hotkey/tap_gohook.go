package hotkey

import (
	"errors"
	"sync"

	hook "github.com/robotn/gohook"
)

var _ Tap = (*HookTap)(nil)

// HookTap is a [Tap] backed by libuiohook through gohook. libuiohook only
// observes events, so nothing is consumed. gohook keeps a single global hook,
// so at most one HookTap may be started per process.
type HookTap struct {
	mu      sync.Mutex
	running bool
	out     chan Event
	stop    chan struct{}

	// gen identifies the current hook channel; forwarders of older
	// channels drop whatever they still read.
	gen int
}

// NewHookTap returns a stopped tap.
func NewHookTap() *HookTap {
	return &HookTap{}
}

// Start installs the global hook.
func (t *HookTap) Start() (<-chan Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil, errors.New("hotkey: tap already running")
	}
	t.running = true
	t.out = make(chan Event, 64)
	t.stop = make(chan struct{})
	t.attachLocked()
	return t.out, nil
}

// Enable reinstalls the hook after the OS disabled it. The disable event
// produced by tearing down the old hook is suppressed.
func (t *HookTap) Enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return errors.New("hotkey: tap is not running")
	}
	t.gen++
	hook.End()
	t.attachLocked()
	return nil
}

// Stop removes the hook.
func (t *HookTap) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.gen++
	close(t.stop)
	hook.End()
}

func (t *HookTap) attachLocked() {
	t.gen++
	go t.forward(hook.Start(), t.gen, t.out, t.stop)
}

func (t *HookTap) forward(raw chan hook.Event, gen int, out chan<- Event, stop <-chan struct{}) {
	for ev := range raw {
		t.mu.Lock()
		stale := gen != t.gen
		t.mu.Unlock()
		if stale {
			continue
		}

		e, ok := translate(ev)
		if !ok {
			continue
		}
		select {
		case out <- e:
		case <-stop:
			return
		}
	}
}

// translate maps a gohook event onto an [Event]. Mouse and wheel events are
// ignored.
func translate(ev hook.Event) (Event, bool) {
	switch ev.Kind {
	case hook.HookDisabled:
		return Event{Kind: EventTapDisabled}, true
	case hook.KeyDown, hook.KeyHold, hook.KeyUp:
		return Event{Kind: EventKey, Flags: Modifier(ev.Mask)}, true
	}
	return Event{}, false
}
