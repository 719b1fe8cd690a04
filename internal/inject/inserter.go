// Package inject delivers recognised text to whichever application has
// keyboard focus, by pasting through the clipboard or by typing it.
//
// Clipboard insertion snapshots the clipboard, pastes, waits RestoreDelay and
// puts the snapshot back. A write by another process during that window is
// overwritten by the restore.
package inject

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/typeless/internal/observe"
)

// Mode selects how [Inserter.Deliver] inserts text.
type Mode string

const (
	ModeClipboard Mode = "clipboard"
	ModeDirect    Mode = "direct"
	ModeType      Mode = "type"
)

// Defaults applied to a zero [Config].
const (
	DefaultRestoreDelay = 100 * time.Millisecond
	DefaultKeyDelay     = 5 * time.Millisecond
)

// Config tunes an [Inserter]. It can be swapped at runtime with
// [Inserter.SetConfig].
type Config struct {
	Mode         Mode
	RestoreDelay time.Duration
	KeyDelay     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeClipboard
	}
	if c.RestoreDelay <= 0 {
		c.RestoreDelay = DefaultRestoreDelay
	}
	if c.KeyDelay <= 0 {
		c.KeyDelay = DefaultKeyDelay
	}
	return c
}

// Inserter is safe for concurrent use; operations are serialised so two
// insertions never interleave on the clipboard.
type Inserter struct {
	clip    Clipboard
	kb      Keyboard
	sleep   func(time.Duration)
	metrics *observe.Metrics

	cfgMu sync.RWMutex
	cfg   Config

	opMu sync.Mutex
}

// Option configures an [Inserter].
type Option func(*Inserter)

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(i *Inserter) { i.metrics = m }
}

// New returns an inserter using clip and kb.
func New(clip Clipboard, kb Keyboard, cfg Config, opts ...Option) *Inserter {
	i := &Inserter{
		clip:  clip,
		kb:    kb,
		sleep: time.Sleep,
		cfg:   cfg.withDefaults(),
	}
	for _, o := range opts {
		o(i)
	}
	if i.metrics == nil {
		i.metrics = observe.DefaultMetrics()
	}
	return i
}

// NewSystem returns an inserter bound to the OS clipboard and keyboard.
func NewSystem(cfg Config, opts ...Option) *Inserter {
	return New(SystemClipboard{}, RobotKeyboard{}, cfg, opts...)
}

// Config returns the active configuration.
func (i *Inserter) Config() Config {
	i.cfgMu.RLock()
	defer i.cfgMu.RUnlock()
	return i.cfg
}

// SetConfig replaces the configuration for subsequent operations.
func (i *Inserter) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	i.cfgMu.Lock()
	i.cfg = cfg
	i.cfgMu.Unlock()
	slog.Info("inject: configuration updated", "mode", cfg.Mode)
}

// Deliver inserts text using the configured mode.
func (i *Inserter) Deliver(text string) error {
	mode := i.Config().Mode
	var err error
	switch mode {
	case ModeDirect:
		err = i.InsertDirect(text)
	case ModeType:
		err = i.TypeText(text)
	case ModeClipboard:
		err = i.Insert(text)
	default:
		err = fmt.Errorf("inject: unknown mode %q", mode)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	i.metrics.RecordInjection(context.Background(), string(mode), status)
	return err
}

// Insert pastes text and then restores the previous clipboard text. An
// empty or unreadable clipboard is not restored.
func (i *Inserter) Insert(text string) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	snapshot, readErr := i.clip.ReadText()
	hasSnapshot := readErr == nil && snapshot != ""
	if readErr != nil {
		slog.Debug("inject: clipboard unreadable, nothing to restore", "err", readErr)
	}

	if err := i.clip.WriteText(text); err != nil {
		return fmt.Errorf("inject: write clipboard: %w", err)
	}

	// From here on the snapshot goes back whether or not the paste worked.
	pasteErr := i.kb.Paste()
	if pasteErr == nil {
		i.sleep(i.Config().RestoreDelay)
	}
	if hasSnapshot {
		if err := i.clip.WriteText(snapshot); err != nil {
			slog.Warn("inject: failed to restore clipboard", "err", err)
		}
	}
	if pasteErr != nil {
		return fmt.Errorf("inject: paste: %w", pasteErr)
	}
	return nil
}

// InsertDirect pastes text and leaves it on the clipboard.
func (i *Inserter) InsertDirect(text string) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()
	return i.pasteLocked(text)
}

func (i *Inserter) pasteLocked(text string) error {
	if err := i.clip.WriteText(text); err != nil {
		return fmt.Errorf("inject: write clipboard: %w", err)
	}
	if err := i.kb.Paste(); err != nil {
		return fmt.Errorf("inject: paste: %w", err)
	}
	return nil
}

// TypeText types text key by key without touching the clipboard.
func (i *Inserter) TypeText(text string) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()
	return i.kb.Type(text)
}

// DeleteCharacters sends n backspaces, KeyDelay apart.
func (i *Inserter) DeleteCharacters(n int) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	delay := i.Config().KeyDelay
	for k := range n {
		if err := i.kb.Backspace(); err != nil {
			return fmt.Errorf("inject: delete %d of %d: %w", k+1, n, err)
		}
		if k < n-1 {
			i.sleep(delay)
		}
	}
	return nil
}
