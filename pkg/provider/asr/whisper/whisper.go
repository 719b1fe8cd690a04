// Package whisper implements asr.Engine on top of the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/typeless/pkg/provider/asr"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var _ asr.Engine = (*Engine)(nil)

// Engine is a whisper.cpp model loaded once and reused for every utterance.
// A fresh whisper context is created per call, so the model itself is never
// mutated by inference.
type Engine struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// Option configures an Engine.
type Option func(*Engine)

// WithLanguage sets the language code ("en", "de", ...). "auto" enables
// whisper's language detection. Defaults to "auto".
func WithLanguage(lang string) Option {
	return func(e *Engine) {
		if lang != "" {
			e.language = lang
		}
	}
}

// WithThreads sets the number of inference threads. Zero keeps the
// whisper.cpp default.
func WithThreads(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threads = uint(n)
		}
	}
}

// New loads the ggml model at modelPath.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	e := &Engine{model: model, language: "auto"}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Factory adapts [New] to asr.Factory.
func Factory(files asr.ModelFiles) (asr.Engine, error) {
	if files.Weights == "" {
		return nil, fmt.Errorf("whisper: %w: no weights file", asr.ErrInvalidModel)
	}
	return New(files.Weights, WithLanguage(files.Language), WithThreads(files.Threads))
}

// Close releases the model.
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp over samples and joins the resulting segments
// with single spaces.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, opts asr.DecodeOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", e.language, "error", err)
	}
	if e.threads > 0 {
		wctx.SetThreads(e.threads)
	}
	wctx.SetTemperature(opts.Temperature)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
