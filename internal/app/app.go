// Package app wires the typeless subsystems into a running daemon.
//
// New builds every component from the config. Run starts the keyboard
// listener, prepares the speech model in the background and drives
// recording sessions until the context is cancelled. Shutdown releases
// native resources.
//
// Tests inject doubles for the OS-facing parts through functional options
// (WithRecorder, WithTap, WithClipboard, ...). Anything not injected is
// created from its real implementation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/typeless/internal/capture"
	"github.com/MrWong99/typeless/internal/config"
	"github.com/MrWong99/typeless/internal/health"
	"github.com/MrWong99/typeless/internal/hotkey"
	"github.com/MrWong99/typeless/internal/inject"
	"github.com/MrWong99/typeless/internal/models"
	"github.com/MrWong99/typeless/internal/observe"
	"github.com/MrWong99/typeless/internal/overlay"
	"github.com/MrWong99/typeless/internal/session"
	"github.com/MrWong99/typeless/internal/speech"
)

// staleRecordingAge is how old a leftover recording must be before startup
// removes it.
const staleRecordingAge = time.Hour

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Injected or defaulted in New.
	registry   *config.Registry
	recorder   capture.Recorder
	tap        hotkey.Tap
	permission hotkey.Permission
	clipboard  inject.Clipboard
	keyboard   inject.Keyboard
	overlays   []overlay.Overlay
	httpClient *http.Client
	metrics    *observe.Metrics

	model      models.Model
	speech     *speech.Manager
	acquirer   *models.Acquirer
	inserter   *inject.Inserter
	monitor    *hotkey.Monitor
	controller *session.Controller
	health     *health.Handler

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithRegistry supplies the recognition engine factories.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithRecorder replaces the PortAudio microphone recorder.
func WithRecorder(r capture.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithTap replaces the gohook keyboard tap.
func WithTap(t hotkey.Tap) Option {
	return func(a *App) { a.tap = t }
}

// WithPermission replaces the OS accessibility permission check.
func WithPermission(p hotkey.Permission) Option {
	return func(a *App) { a.permission = p }
}

// WithClipboard replaces the system clipboard.
func WithClipboard(c inject.Clipboard) Option {
	return func(a *App) { a.clipboard = c }
}

// WithKeyboard replaces the robotgo keyboard.
func WithKeyboard(k inject.Keyboard) Option {
	return func(a *App) { a.keyboard = k }
}

// WithOverlay adds a status indicator, e.g. the system tray.
func WithOverlay(o overlay.Overlay) Option {
	return func(a *App) { a.overlays = append(a.overlays, o) }
}

// WithHTTPClient replaces the model download client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.httpClient = c }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires every subsystem from cfg, which must already be validated.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Leftovers from crashed sessions ───────────────────────────────
	if n := capture.CleanupStale(cfg.Audio.TempDir, staleRecordingAge); n > 0 {
		slog.Info("removed stale recordings", "count", n, "dir", cfg.Audio.TempDir)
	}

	// ── 2. Speech model + acquisition ────────────────────────────────────
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	// ── 3. Microphone ────────────────────────────────────────────────────
	if a.recorder == nil {
		rec, err := capture.NewPortAudioRecorder()
		if err != nil {
			return nil, fmt.Errorf("app: init audio capture: %w", err)
		}
		a.recorder = rec
		a.closers = append(a.closers, rec.Close)
	}

	// ── 4. Text injection + overlay ──────────────────────────────────────
	if a.clipboard == nil {
		a.clipboard = inject.SystemClipboard{}
	}
	if a.keyboard == nil {
		a.keyboard = inject.RobotKeyboard{}
	}
	a.inserter = inject.New(a.clipboard, a.keyboard, injectConfig(cfg.Inject), inject.WithMetrics(a.metrics))

	ovs := append([]overlay.Overlay{overlay.Log{}}, a.overlays...)
	if cfg.Overlay.Notifications {
		ovs = append(ovs, overlay.NewNotifier("typeless"))
	}

	// ── 5. Hotkey monitor ────────────────────────────────────────────────
	trigger, err := hotkey.ParseModifier(cfg.Hotkey.Trigger)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if a.tap == nil {
		a.tap = hotkey.NewHookTap()
	}
	if a.permission == nil {
		a.permission = hotkey.SystemPermission{}
	}
	a.monitor = hotkey.NewMonitor(a.tap, a.permission, trigger,
		hotkey.WithPollInterval(cfg.Hotkey.PermissionPollInterval),
		hotkey.WithEdgeBuffer(cfg.Hotkey.EdgeBuffer),
		hotkey.WithMetrics(a.metrics),
	)

	// ── 6. Session controller ────────────────────────────────────────────
	a.controller, err = session.New(session.Config{
		Recorder:    a.recorder,
		Transcriber: a.speech,
		Inserter:    a.inserter,
		Overlay:     overlay.NewMulti(ovs...),
		TempDir:     cfg.Audio.TempDir,
		Format: capture.Format{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			BitDepth:   cfg.Audio.BitDepth,
		},
	}, session.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 7. Health ────────────────────────────────────────────────────────
	a.health = health.New(
		health.Signal("hotkey", a.monitor.Ready()),
		health.Status("speech", a.speech),
	)

	return a, nil
}

func (a *App) initSpeech() error {
	model, ok := models.DefaultCatalog().Lookup(a.cfg.Speech.Model)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownModel, a.cfg.Speech.Model)
	}
	a.model = model

	opts := []speech.Option{
		speech.WithLanguage(a.cfg.Speech.Language),
		speech.WithThreads(a.cfg.Speech.Threads),
		speech.WithWarmup(a.cfg.Speech.WarmupDuration),
		speech.WithMetrics(a.metrics),
	}
	if a.cfg.Speech.DecodeRetries != nil {
		opts = append(opts, speech.WithDecodeRetries(*a.cfg.Speech.DecodeRetries))
	}
	a.speech = speech.NewManager(a.registry, model, opts...)
	a.closers = append(a.closers, a.speech.Close)

	acqOpts := []models.Option{
		models.WithLocalPathSetter(a.speech),
		models.WithMetrics(a.metrics),
	}
	if a.httpClient != nil {
		acqOpts = append(acqOpts, models.WithHTTPClient(a.httpClient))
	}
	a.acquirer = NewAcquirer(a.cfg, acqOpts...)
	if a.acquirer.IsAvailable(model.ID) {
		dir, _ := a.acquirer.Dir(model.ID)
		a.speech.SetLocalPath(model.ID, dir)
	}
	return nil
}

// NewAcquirer builds a model acquirer from the models section of cfg.
func NewAcquirer(cfg *config.Config, opts ...models.Option) *models.Acquirer {
	mirrors := make([]models.Mirror, 0, len(cfg.Models.Mirrors))
	for _, m := range cfg.Models.Mirrors {
		mirrors = append(mirrors, models.Mirror{Name: m.Name, Template: m.Template})
	}
	base := []models.Option{
		models.WithDefaultMirror(cfg.Models.DefaultMirror),
		models.WithProbeTimeout(cfg.Models.ProbeTimeout),
	}
	return models.NewAcquirer(cfg.Models.Root, mirrors, append(base, opts...)...)
}

func injectConfig(c config.InjectConfig) inject.Config {
	return inject.Config{
		Mode:         inject.Mode(c.Mode),
		RestoreDelay: c.RestoreDelay,
		KeyDelay:     c.KeyDelay,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Speech returns the speech model manager.
func (a *App) Speech() *speech.Manager { return a.speech }

// Acquirer returns the model acquirer.
func (a *App) Acquirer() *models.Acquirer { return a.acquirer }

// Monitor returns the hotkey monitor.
func (a *App) Monitor() *hotkey.Monitor { return a.monitor }

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.controller }

// Health returns the /healthz and /readyz handler.
func (a *App) Health() *health.Handler { return a.health }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the keyboard listener and blocks, handling push-to-talk
// sessions, until ctx is cancelled. The speech model is downloaded (when
// allowed) and warmed up in the background; sessions started before it is
// ready fail fast.
func (a *App) Run(ctx context.Context) error {
	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("app: start hotkey monitor: %w", err)
	}
	slog.Info("typeless running",
		"trigger", a.cfg.Hotkey.Trigger,
		"model", a.model.ID,
		"inject_mode", a.cfg.Inject.Mode,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.prepareModel(gctx)
		return nil
	})
	g.Go(func() error {
		return a.controller.Run(gctx, a.monitor.Edges())
	})
	return g.Wait()
}

// prepareModel makes sure the configured model is on disk and warms the
// engine up. Failures are logged; the daemon keeps running.
func (a *App) prepareModel(ctx context.Context) {
	id := a.model.ID
	if !a.acquirer.IsAvailable(id) {
		if !a.cfg.Models.AutoDownload {
			slog.Warn("speech model not downloaded; dictation is unavailable until it is",
				"model", id, "hint", "typeless models download "+id)
			return
		}
		slog.Info("speech model missing, downloading", "model", id)
		if _, err := a.acquirer.Download(ctx, id, LogProgress(slog.Default())); err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("model download failed", "model", id, "err", err)
			}
			return
		}
	}

	if err := <-a.speech.InitializeAsync(ctx); err != nil {
		slog.Error("speech engine failed to initialise", "model", id, "err", err)
	}
}

// LogProgress returns a progress sink that logs every tenth percent, or
// every 10 MB when the size is unknown.
func LogProgress(log *slog.Logger) models.ProgressFunc {
	var last int64 = -1
	return func(p models.Progress) {
		var step int64
		switch {
		case p.Total > 0:
			step = p.Written * 10 / p.Total
		case p.Written > 0:
			step = p.Written / (10 << 20)
		default:
			log.Info(p.Message)
			return
		}
		if step != last {
			last = step
			log.Info(p.Message, "mirror", p.Mirror)
		}
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the parts of a config change that take effect
// without a restart. Logging level changes are handled by the caller, which
// owns the log handler.
func (a *App) ApplyConfig(diff config.ConfigDiff) {
	if diff.InjectChanged {
		a.inserter.SetConfig(injectConfig(diff.NewInject))
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", diff.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the keyboard listener and runs the closers. If ctx expires
// first, the remaining closers are skipped and the context error returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.monitor.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
