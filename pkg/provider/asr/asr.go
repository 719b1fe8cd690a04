// Package asr defines the Engine interface for offline speech recognition
// backends.
//
// An Engine wraps a model that has already been loaded into memory and turns
// a complete utterance of 16 kHz mono float32 samples into text. Engines are
// not required to be safe for concurrent use; callers serialise inference.
package asr

import (
	"context"
	"errors"
)

// SampleRate is the only sample rate engines accept.
const SampleRate = 16000

// ErrInvalidModel is returned by factories when the model files are missing
// or do not match the engine kind.
var ErrInvalidModel = errors.New("asr: invalid model files")

// Kind names an engine family. Catalog entries reference a Kind so the
// speech manager knows which factory can load them.
type Kind string

const (
	// KindWhisper loads whisper.cpp ggml weights.
	KindWhisper Kind = "whisper"

	// KindParaformer loads a sherpa-onnx paraformer model.
	KindParaformer Kind = "sherpa-paraformer"

	// KindSenseVoice loads a sherpa-onnx SenseVoice model.
	KindSenseVoice Kind = "sherpa-sensevoice"
)

// ModelFiles locates a model on disk.
type ModelFiles struct {
	// Dir is the model folder.
	Dir string

	// Weights is the absolute path to the weights file.
	Weights string

	// Tokens is the absolute path to the vocabulary file. Empty for engines
	// whose vocabulary is embedded in the weights.
	Tokens string

	// Language is a hint such as "en" or "zh". "auto" or empty lets the
	// engine detect it.
	Language string

	// Threads is the number of inference threads. Zero uses the engine default.
	Threads int
}

// DecodeOptions tunes a single inference pass.
type DecodeOptions struct {
	// Temperature is the sampling temperature. Zero is greedy decoding;
	// fallback passes raise it. Engines without sampling ignore it.
	Temperature float32
}

// Engine is a loaded speech recognition model.
type Engine interface {
	// Transcribe decodes samples (16 kHz, mono, range [-1, 1]) and returns
	// the recognised text. An empty string with a nil error means nothing
	// intelligible was heard.
	Transcribe(ctx context.Context, samples []float32, opts DecodeOptions) (string, error)

	// Close releases the model. The engine must not be used afterwards.
	Close() error
}

// Factory loads a model and returns a ready engine.
type Factory func(files ModelFiles) (Engine, error)
