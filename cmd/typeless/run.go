package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/getlantern/systray"

	"github.com/MrWong99/typeless/internal/app"
	"github.com/MrWong99/typeless/internal/config"
	"github.com/MrWong99/typeless/internal/observe"
	"github.com/MrWong99/typeless/internal/overlay"
	"github.com/MrWong99/typeless/pkg/provider/asr"
	"github.com/MrWong99/typeless/pkg/provider/asr/sherpa"
	"github.com/MrWong99/typeless/pkg/provider/asr/whisper"
)

const shutdownTimeout = 10 * time.Second

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "typeless", "config.yaml")
}

// newEngineRegistry wires the built-in recognition engines.
func newEngineRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterEngine(asr.KindWhisper, whisper.Factory)
	reg.RegisterEngine(asr.KindParaformer, sherpa.ParaformerFactory)
	reg.RegisterEngine(asr.KindSenseVoice, sherpa.SenseVoiceFactory)
	return reg
}

func runDaemon(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	// ── Configuration ─────────────────────────────────────────────────────────
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logs, err := newLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer logs.Close()
	slog.SetDefault(logs.Logger)

	slog.Info("typeless starting",
		"version", version,
		"config", configPath,
		"log_level", cfg.Log.Level,
		"model", cfg.Speech.Model,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics := observe.DefaultMetrics()

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithRegistry(newEngineRegistry()),
		app.WithMetrics(metrics),
	}
	var tray *overlay.Tray
	if cfg.Overlay.Tray {
		tray = overlay.NewTray()
		opts = append(opts, app.WithOverlay(tray))
	}
	application, err := app.New(cfg, opts...)
	if err != nil {
		return err
	}

	// ── Observability endpoint (optional) ─────────────────────────────────────
	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		application.Health().Register(mux)
		mux.Handle("GET /metrics", provider.MetricsHandler())
		srv = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("observability endpoint listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("observability endpoint failed", "err", err)
			}
		}()
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if _, statErr := os.Stat(configPath); statErr == nil {
		watcher, err := config.NewWatcher(configPath, func(diff config.ConfigDiff, _ *config.Config) {
			if diff.LogLevelChanged {
				logs.SetLevel(diff.NewLogLevel)
			}
			application.ApplyConfig(diff)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			go watcher.Run(ctx)
			go reloadOnHangup(ctx, watcher)
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	var runErr error
	if tray != nil {
		// systray owns the main thread until Quit.
		done := make(chan struct{})
		go func() {
			defer close(done)
			runErr = application.Run(ctx)
			systray.Quit()
		}()
		systray.Run(func() { tray.OnReady(stop) }, stop)
		<-done
	} else {
		runErr = application.Run(ctx)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping...")
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("observability endpoint shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// reloadOnHangup re-reads the config file whenever the process receives
// SIGHUP.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config reload failed", "err", err)
			}
		}
	}
}
