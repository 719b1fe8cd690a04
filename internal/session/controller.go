// Package session turns push-to-talk edges into recordings, transcripts and
// inserted text. A [Controller] owns at most one active session at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/typeless/internal/capture"
	"github.com/MrWong99/typeless/internal/hotkey"
	"github.com/MrWong99/typeless/internal/observe"
	"github.com/MrWong99/typeless/internal/overlay"
)

var (
	// ErrCaptureStartFailed marks sessions whose recorder could not start.
	ErrCaptureStartFailed = errors.New("session: capture start failed")

	// ErrEmptyTranscript marks sessions whose transcript was blank.
	ErrEmptyTranscript = errors.New("session: empty transcript")
)

// Transcriber turns a recording into text. speech.Manager implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Inserter delivers text to the focused application. inject.Inserter
// implements it.
type Inserter interface {
	Deliver(text string) error
}

// Config holds the collaborators of a [Controller].
type Config struct {
	Recorder    capture.Recorder
	Transcriber Transcriber
	Inserter    Inserter

	// Overlay defaults to overlay.Nop.
	Overlay overlay.Overlay

	// TempDir receives the recordings. Defaults to os.TempDir().
	TempDir string

	// Format defaults to capture.SpeechFormat.
	Format capture.Format
}

// Option configures a [Controller].
type Option func(*Controller)

// WithObserver registers fn to receive a snapshot of every session that
// reaches a terminal state. fn runs on the goroutine that ended the session.
func WithObserver(fn func(Session)) Option {
	return func(c *Controller) { c.observer = fn }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller drives the recording session state machine. Create with [New].
type Controller struct {
	rec      capture.Recorder
	tr       Transcriber
	ins      Inserter
	ov       overlay.Overlay
	dir      string
	format   capture.Format
	observer func(Session)
	metrics  *observe.Metrics

	mu  sync.Mutex
	cur *Session

	// wg tracks transcription goroutines.
	wg sync.WaitGroup
}

// New validates cfg and returns an idle controller.
func New(cfg Config, opts ...Option) (*Controller, error) {
	var errs []error
	if cfg.Recorder == nil {
		errs = append(errs, errors.New("recorder is required"))
	}
	if cfg.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if cfg.Inserter == nil {
		errs = append(errs, errors.New("inserter is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	c := &Controller{
		rec:    cfg.Recorder,
		tr:     cfg.Transcriber,
		ins:    cfg.Inserter,
		ov:     cfg.Overlay,
		dir:    cfg.TempDir,
		format: cfg.Format,
	}
	if c.ov == nil {
		c.ov = overlay.Nop{}
	}
	if c.dir == "" {
		c.dir = os.TempDir()
	}
	if c.format == (capture.Format{}) {
		c.format = capture.SpeechFormat
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Run consumes edges until ctx is done or edges is closed. On return any
// capturing session has been aborted and in-flight transcriptions have
// finished.
func (c *Controller) Run(ctx context.Context, edges <-chan hotkey.Edge) error {
	defer c.shutdown(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-edges:
			if !ok {
				return nil
			}
			switch e {
			case hotkey.EdgePressed:
				c.Press(ctx)
			case hotkey.EdgeReleased:
				c.Release(ctx)
			}
		}
	}
}

func (c *Controller) shutdown(ctx context.Context) {
	c.abort(context.WithoutCancel(ctx))
	c.wg.Wait()
}

// Press starts a new session. It is ignored while another session is
// active.
func (c *Controller) Press(ctx context.Context) {
	c.mu.Lock()
	if c.cur != nil && !c.cur.State.Terminal() {
		state := c.cur.State
		c.mu.Unlock()
		slog.Debug("session: press ignored, session active", "state", state)
		return
	}
	id := uuid.NewString()
	s := &Session{
		ID:        id,
		StartedAt: time.Now(),
		State:     StateCapturing,
		AudioPath: capture.PathFor(c.dir, id),
	}
	c.cur = s
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(ctx, 1)
	c.ov.ShowRecording()
	slog.Debug("session: capturing", "session", id, "path", s.AudioPath)

	if err := c.rec.Start(s.AudioPath, c.format); err != nil {
		c.finish(ctx, s, StateFailed, "", fmt.Errorf("%w: %w", ErrCaptureStartFailed, err))
	}
}

// Release stops the capturing session and transcribes it in the
// background. It is ignored unless a session is capturing.
func (c *Controller) Release(ctx context.Context) {
	c.mu.Lock()
	s := c.cur
	if s == nil || s.State != StateCapturing {
		c.mu.Unlock()
		return
	}
	s.State = StateStopping
	c.mu.Unlock()

	err := c.rec.Stop()
	c.metrics.CaptureDuration.Record(ctx, time.Since(s.StartedAt).Seconds())
	if err != nil {
		c.finish(ctx, s, StateFailed, "", fmt.Errorf("session: stop capture: %w", err))
		return
	}
	if !c.transition(s, StateTranscribing) {
		return
	}
	c.ov.ShowProcessing()

	tctx := observe.WithSession(context.WithoutCancel(ctx), s.ID)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.transcribe(tctx, s)
	}()
}

func (c *Controller) transcribe(ctx context.Context, s *Session) {
	ctx, span := observe.StartSpan(ctx, "session.transcribe")
	defer span.End()

	text, err := c.tr.Transcribe(ctx, s.AudioPath)
	if err != nil {
		c.finish(ctx, s, StateFailed, "", fmt.Errorf("session: transcribe: %w", err))
		return
	}
	if strings.TrimSpace(text) == "" {
		c.finish(ctx, s, StateFailed, "", ErrEmptyTranscript)
		return
	}
	if err := c.ins.Deliver(text); err != nil {
		c.finish(ctx, s, StateFailed, text, fmt.Errorf("session: insert text: %w", err))
		return
	}
	c.ov.UpdateText(text)
	c.finish(ctx, s, StateCompleted, text, nil)
}

// abort ends a capturing session without transcribing it.
func (c *Controller) abort(ctx context.Context) {
	c.mu.Lock()
	s := c.cur
	if s == nil || s.State != StateCapturing {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.rec.Stop(); err != nil {
		slog.Debug("session: stop on abort failed", "err", err)
	}
	c.finish(ctx, s, StateAborted, "", nil)
}

func (c *Controller) transition(s *Session, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !isValidTransition(s.State, to) {
		return false
	}
	s.State = to
	return true
}

// finish moves s into the terminal state to, removes its recording and
// hides the overlay. Only the first call for a session has any effect.
func (c *Controller) finish(ctx context.Context, s *Session, to State, text string, err error) {
	c.mu.Lock()
	if !isValidTransition(s.State, to) {
		c.mu.Unlock()
		return
	}
	s.State = to
	s.Text = text
	s.Err = err
	s.EndedAt = time.Now()
	snap := *s
	c.mu.Unlock()

	if rmErr := os.Remove(snap.AudioPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		slog.Warn("session: failed to remove recording", "path", snap.AudioPath, "err", rmErr)
	}
	c.ov.Hide()

	c.metrics.ActiveSessions.Add(ctx, -1)
	c.metrics.RecordSession(ctx, string(to))

	if observe.SessionID(ctx) == "" {
		ctx = observe.WithSession(ctx, snap.ID)
	}
	log := observe.Logger(ctx).With("elapsed", snap.EndedAt.Sub(snap.StartedAt))
	switch to {
	case StateCompleted:
		log.Info("session: completed", "chars", len([]rune(text)))
	case StateFailed:
		log.Warn("session: failed", "err", err)
	default:
		log.Info("session: aborted")
	}

	if c.observer != nil {
		c.observer(snap)
	}
}

// Current returns the most recent session, active or not.
func (c *Controller) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return Session{}, false
	}
	return *c.cur, true
}

// Wait blocks until every background transcription has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}
