// Package hotkey turns raw, system-wide modifier key events into push-to-talk
// edges.
//
// A [Tap] delivers every keyboard event the OS reports. The [Monitor] keeps
// a two-state machine (idle, pressed) for one trigger [Modifier] and pushes an
// [Edge] onto a channel whenever the trigger's presence changes. Events are
// only observed, never swallowed, so the focused application still receives
// them. The monitor also owns the accessibility permission dance: it prompts
// once, polls until the permission is granted, and only then installs the
// tap.
package hotkey

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/typeless/internal/observe"
)

// ErrAlreadyStarted is returned by [Monitor.Start] when called twice.
var ErrAlreadyStarted = errors.New("hotkey: monitor already started")

// Edge is a transition of the trigger key.
type Edge int

const (
	EdgePressed Edge = iota + 1
	EdgeReleased
)

func (e Edge) String() string {
	switch e {
	case EdgePressed:
		return "pressed"
	case EdgeReleased:
		return "released"
	}
	return "unknown"
}

// State is the trigger key state derived from the event stream.
type State int32

const (
	StateIdle State = iota
	StatePressed
)

// PermissionState tracks the accessibility permission.
type PermissionState int32

const (
	PermissionUnchecked PermissionState = iota
	PermissionTrusted
	PermissionUntrusted
)

func (p PermissionState) String() string {
	switch p {
	case PermissionTrusted:
		return "trusted"
	case PermissionUntrusted:
		return "untrusted"
	}
	return "unchecked"
}

// EventKind classifies a raw tap event.
type EventKind int

const (
	// EventKey carries the modifier flags held at the time of any key event.
	EventKey EventKind = iota + 1

	// EventTapDisabled means the OS stopped delivering events to the tap.
	EventTapDisabled
)

// Event is a raw keyboard event as reported by a [Tap].
type Event struct {
	Kind  EventKind
	Flags Modifier
}

// Tap is a system-wide, observe-only keyboard listener.
type Tap interface {
	// Start installs the listener and returns the channel events are
	// delivered on.
	Start() (<-chan Event, error)

	// Enable re-activates the listener after the OS disabled it.
	Enable() error

	// Stop removes the listener. No events are delivered afterwards.
	Stop()
}

// Permission queries and requests the OS permission needed to observe global
// keyboard events.
type Permission interface {
	IsTrusted() bool
	PromptForTrust()
}

// Monitor derives trigger edges from a [Tap]. Create with [NewMonitor]; a
// Monitor can be started once.
type Monitor struct {
	tap          Tap
	perm         Permission
	trigger      Modifier
	pollInterval time.Duration
	metrics      *observe.Metrics

	edges     chan Edge
	ready     chan struct{}
	readyOnce sync.Once

	// state is written only by the event loop goroutine.
	state     atomic.Int32
	permState atomic.Int32

	mu         sync.Mutex
	started    bool
	tapStarted bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// Option configures a [Monitor].
type Option func(*Monitor)

// WithPollInterval sets how often the permission is re-checked while
// untrusted. Defaults to one second.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithEdgeBuffer sets the capacity of the edge channel. Defaults to 16.
func WithEdgeBuffer(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.edges = make(chan Edge, n)
		}
	}
}

// WithMetrics overrides the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Monitor) { m.metrics = met }
}

// NewMonitor creates a monitor for trigger.
func NewMonitor(tap Tap, perm Permission, trigger Modifier, opts ...Option) *Monitor {
	m := &Monitor{
		tap:          tap,
		perm:         perm,
		trigger:      trigger,
		pollInterval: time.Second,
		edges:        make(chan Edge, 16),
		ready:        make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Edges returns the channel edges are delivered on. It is closed by Stop.
func (m *Monitor) Edges() <-chan Edge { return m.edges }

// Ready is closed once the tap is installed.
func (m *Monitor) Ready() <-chan struct{} { return m.ready }

// State returns the current trigger state.
func (m *Monitor) State() State { return State(m.state.Load()) }

// Permission returns the last observed permission state.
func (m *Monitor) Permission() PermissionState { return PermissionState(m.permState.Load()) }

// Start checks the permission and installs the tap. When the permission is
// missing the user is prompted once and Start returns nil immediately; a
// background task polls until the permission is granted and then installs
// the tap. Only a failure to install the tap while trusted is returned.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	if m.perm.IsTrusted() {
		m.permState.Store(int32(PermissionTrusted))
		return m.startTap(ctx)
	}

	m.permState.Store(int32(PermissionUntrusted))
	slog.Warn("hotkey: accessibility permission missing, waiting for it to be granted")
	m.perm.PromptForTrust()

	m.wg.Add(1)
	go m.awaitPermission(ctx)
	return nil
}

// awaitPermission polls until the permission is granted and the tap is
// installed, or ctx ends. A tap that fails to install is retried on the
// next tick.
func (m *Monitor) awaitPermission(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	granted := false
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.perm.IsTrusted() {
				continue
			}
			if !granted {
				granted = true
				m.permState.Store(int32(PermissionTrusted))
				slog.Info("hotkey: accessibility permission granted")
			}
			err := m.startTap(ctx)
			if err == nil {
				return
			}
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures == 1 {
				slog.Error("hotkey: failed to install keyboard tap, retrying", "err", err)
			}
		}
	}
}

func (m *Monitor) startTap(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	events, err := m.tap.Start()
	if err != nil {
		return err
	}
	m.tapStarted = true

	m.wg.Add(1)
	go m.loop(ctx, events)

	m.readyOnce.Do(func() { close(m.ready) })
	slog.Info("hotkey: monitor started", "trigger", m.trigger)
	return nil
}

// loop is the only writer of the trigger state.
func (m *Monitor) loop(ctx context.Context, events <-chan Event) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handle(ctx, ev)
		}
	}
}

func (m *Monitor) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventTapDisabled:
		// Recoverable; the trigger state is kept as is.
		m.metrics.TapReenabled.Add(ctx, 1)
		if err := m.tap.Enable(); err != nil {
			slog.Error("hotkey: failed to re-enable keyboard tap", "err", err)
			return
		}
		slog.Debug("hotkey: keyboard tap re-enabled")

	case EventKey:
		active := m.trigger.In(ev.Flags)
		prev := m.State() == StatePressed
		switch {
		case active && !prev:
			m.state.Store(int32(StatePressed))
			m.emit(ctx, EdgePressed)
		case !active && prev:
			m.state.Store(int32(StateIdle))
			m.emit(ctx, EdgeReleased)
		}
	}
}

// emit never blocks the tap goroutine.
func (m *Monitor) emit(ctx context.Context, e Edge) {
	select {
	case m.edges <- e:
		m.metrics.RecordEdge(ctx, e.String())
	default:
		m.metrics.EdgesDropped.Add(ctx, 1)
		slog.Warn("hotkey: edge dropped, consumer is not keeping up", "edge", e)
	}
}

// Stop cancels permission polling, removes the tap and closes the edge
// channel. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		m.mu.Unlock()

		m.wg.Wait()

		m.mu.Lock()
		if m.tapStarted {
			m.tap.Stop()
		}
		m.mu.Unlock()
		close(m.edges)
	})
}
