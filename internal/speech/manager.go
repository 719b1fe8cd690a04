// Package speech owns the process-wide recognition engine: its lifecycle
// (uninitialized → warming → ready, or initFailed) and serialised
// transcription of recorded WAV files.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/typeless/internal/models"
	"github.com/MrWong99/typeless/internal/observe"
	"github.com/MrWong99/typeless/pkg/provider/asr"
)

var (
	// ErrEngineNotReady is returned by Transcribe unless the engine is ready.
	ErrEngineNotReady = errors.New("speech: engine not ready")

	// ErrDecodeFailed is returned when every decoding pass failed.
	ErrDecodeFailed = errors.New("speech: decode failed")

	// ErrAlreadyInitialized is returned by Initialize while warming or ready.
	ErrAlreadyInitialized = errors.New("speech: already initialized")

	// ErrModelMissing is returned by Initialize when no local path is known.
	ErrModelMissing = errors.New("speech: model files not available")
)

// Status is the engine lifecycle state.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusWarming       Status = "warming"
	StatusReady         Status = "ready"
	StatusInitFailed    Status = "initFailed"
)

// ModelState is a snapshot of the engine state.
type ModelState struct {
	Status    Status
	ModelID   string
	LocalPath string

	// LastError describes the most recent initialisation failure.
	LastError string
}

// EngineLoader creates engines by kind. *config.Registry implements it.
type EngineLoader interface {
	CreateEngine(kind asr.Kind, files asr.ModelFiles) (asr.Engine, error)
}

// Manager owns one engine. Create with [NewManager]; all methods are safe for
// concurrent use.
type Manager struct {
	loader  EngineLoader
	model   models.Model
	metrics *observe.Metrics

	language      string
	threads       int
	warmup        time.Duration
	decodeRetries int

	// mu guards the state fields and engine. It is also the lock model
	// acquisition takes when it publishes a new local path.
	mu        sync.Mutex
	status    Status
	localPath string
	lastErr   error
	engine    asr.Engine

	// inferMu serialises inference; the engine is not assumed thread-safe.
	inferMu sync.Mutex
}

// Option configures a [Manager].
type Option func(*Manager)

// WithLanguage sets the language hint passed to the engine.
func WithLanguage(lang string) Option {
	return func(m *Manager) { m.language = lang }
}

// WithThreads sets the number of inference threads.
func WithThreads(n int) Option {
	return func(m *Manager) { m.threads = n }
}

// WithWarmup sets the length of the silent warm-up clip. Defaults to 500ms.
func WithWarmup(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.warmup = d
		}
	}
}

// WithDecodeRetries sets how many extra decoding passes follow a failed one.
// Defaults to 3.
func WithDecodeRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.decodeRetries = n
		}
	}
}

// WithLocalPath sets the initial model folder, typically when the model was
// already on disk at startup.
func WithLocalPath(dir string) Option {
	return func(m *Manager) { m.localPath = dir }
}

// WithMetrics overrides the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// NewManager returns an uninitialized manager for model.
func NewManager(loader EngineLoader, model models.Model, opts ...Option) *Manager {
	m := &Manager{
		loader:        loader,
		model:         model,
		status:        StatusUninitialized,
		warmup:        500 * time.Millisecond,
		decodeRetries: 3,
		language:      "auto",
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// State returns a snapshot of the model state.
func (m *Manager) State() ModelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := ModelState{Status: m.status, ModelID: m.model.ID, LocalPath: m.localPath}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Ready reports whether Transcribe would run the engine.
func (m *Manager) Ready() bool {
	return m.State().Status == StatusReady
}

// Status returns the engine status name.
func (m *Manager) Status() string {
	return string(m.State().Status)
}

// SetLocalPath records where modelID now lives on disk. Paths for other
// models are ignored.
func (m *Manager) SetLocalPath(modelID, dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if modelID != m.model.ID {
		slog.Debug("speech: ignoring local path for inactive model", "model", modelID, "active", m.model.ID)
		return
	}
	m.localPath = dir
}

// Initialize loads the model and runs one warm-up inference. It may be
// called from the uninitialized and initFailed states; a failure leaves the
// manager in initFailed until a caller retries.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	switch m.status {
	case StatusWarming, StatusReady:
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	if m.localPath == "" {
		m.status = StatusInitFailed
		m.lastErr = ErrModelMissing
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModelMissing, m.model.ID)
	}
	m.status = StatusWarming
	m.lastErr = nil
	dir := m.localPath
	m.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "speech.initialize",
		trace.WithAttributes(attribute.String("model", m.model.ID)))
	defer span.End()
	start := time.Now()

	files := m.model.Files(dir)
	files.Language = m.language
	files.Threads = m.threads

	engine, err := m.loader.CreateEngine(m.model.Engine, files)
	if err != nil {
		err = fmt.Errorf("speech: load model %s: %w", m.model.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		m.mu.Lock()
		m.status = StatusInitFailed
		m.lastErr = err
		m.mu.Unlock()
		return err
	}

	// The first inference pays for lazy allocations; absorb it here.
	silence := make([]float32, int(m.warmup.Seconds()*asr.SampleRate))
	if _, err := engine.Transcribe(ctx, silence, asr.DecodeOptions{}); err != nil {
		slog.Warn("speech: warm-up inference failed", "model", m.model.ID, "err", err)
	}

	m.mu.Lock()
	m.engine = engine
	m.status = StatusReady
	m.mu.Unlock()

	elapsed := time.Since(start)
	m.metrics.WarmupDuration.Record(ctx, elapsed.Seconds())
	observe.Logger(ctx).Info("speech: engine ready", "model", m.model.ID, "elapsed", elapsed)
	return nil
}

// InitializeAsync runs Initialize on its own goroutine. The returned channel
// yields its result and is then closed.
func (m *Manager) InitializeAsync(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- m.Initialize(ctx)
	}()
	return ch
}

// Transcribe recognises the WAV file at audioPath. It fails fast with
// [ErrEngineNotReady] unless the engine is ready, and with [ErrDecodeFailed]
// once the initial pass and every fallback pass have failed. Concurrent
// calls queue behind each other.
func (m *Manager) Transcribe(ctx context.Context, audioPath string) (string, error) {
	m.mu.Lock()
	if m.status != StatusReady {
		status := m.status
		m.mu.Unlock()
		return "", fmt.Errorf("%w (status %s)", ErrEngineNotReady, status)
	}
	m.mu.Unlock()

	m.inferMu.Lock()
	defer m.inferMu.Unlock()

	// Close may have run while this call was queued.
	m.mu.Lock()
	engine := m.engine
	m.mu.Unlock()
	if engine == nil {
		return "", ErrEngineNotReady
	}

	ctx, span := observe.StartSpan(ctx, "speech.transcribe")
	defer span.End()
	start := time.Now()

	samples, err := readSamples(audioPath)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	span.SetAttributes(attribute.Int("samples", len(samples)))

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= m.decodeRetries; attempt++ {
		if attempt > 0 {
			m.metrics.DecodeRetries.Add(ctx, 1)
		}
		attempts++
		opts := asr.DecodeOptions{Temperature: float32(attempt) * 0.2}
		text, err := engine.Transcribe(ctx, samples, opts)
		if err == nil {
			m.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
			return text, nil
		}
		lastErr = err
		observe.Logger(ctx).Debug("speech: decoding pass failed", "attempt", attempt, "temperature", opts.Temperature, "err", err)
		if ctx.Err() != nil {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "decode failed")
	return "", fmt.Errorf("%w after %d attempts: %w", ErrDecodeFailed, attempts, lastErr)
}

// Close releases the engine and returns the manager to uninitialized.
func (m *Manager) Close() error {
	m.inferMu.Lock()
	defer m.inferMu.Unlock()

	m.mu.Lock()
	engine := m.engine
	m.engine = nil
	m.status = StatusUninitialized
	m.mu.Unlock()

	if engine == nil {
		return nil
	}
	return engine.Close()
}
