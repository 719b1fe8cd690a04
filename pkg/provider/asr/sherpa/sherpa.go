// Package sherpa implements asr.Engine with the sherpa-onnx offline
// recognizer. It loads non-streaming paraformer and SenseVoice models made of
// an ONNX weights file plus a tokens.txt vocabulary.
package sherpa

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/MrWong99/typeless/pkg/provider/asr"
	sherpaonnx "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

var _ asr.Engine = (*Engine)(nil)

const featureDim = 80

// Engine wraps a sherpa-onnx OfflineRecognizer.
type Engine struct {
	recognizer *sherpaonnx.OfflineRecognizer
	kind       asr.Kind
}

// New loads the model described by files as the given kind. Only
// [asr.KindParaformer] and [asr.KindSenseVoice] are accepted.
func New(kind asr.Kind, files asr.ModelFiles) (*Engine, error) {
	if err := checkFiles(files); err != nil {
		return nil, err
	}

	cfg := sherpaonnx.OfflineRecognizerConfig{}
	cfg.FeatConfig = sherpaonnx.FeatureConfig{SampleRate: asr.SampleRate, FeatureDim: featureDim}
	cfg.DecodingMethod = "greedy_search"
	cfg.ModelConfig.Tokens = files.Tokens
	cfg.ModelConfig.NumThreads = int32(threads(files.Threads))
	cfg.ModelConfig.Provider = "cpu"

	switch kind {
	case asr.KindParaformer:
		cfg.ModelConfig.Paraformer.Model = files.Weights
	case asr.KindSenseVoice:
		cfg.ModelConfig.SenseVoice.Model = files.Weights
		cfg.ModelConfig.SenseVoice.Language = senseVoiceLanguage(files.Language)
		cfg.ModelConfig.SenseVoice.UseInverseTextNormalization = 1
	default:
		return nil, fmt.Errorf("sherpa: %w: unsupported engine kind %q", asr.ErrInvalidModel, kind)
	}

	r := sherpaonnx.NewOfflineRecognizer(&cfg)
	if r == nil {
		return nil, fmt.Errorf("sherpa: create recognizer for %q failed", files.Weights)
	}
	return &Engine{recognizer: r, kind: kind}, nil
}

// ParaformerFactory is an asr.Factory for paraformer models.
func ParaformerFactory(files asr.ModelFiles) (asr.Engine, error) {
	return New(asr.KindParaformer, files)
}

// SenseVoiceFactory is an asr.Factory for SenseVoice models.
func SenseVoiceFactory(files asr.ModelFiles) (asr.Engine, error) {
	return New(asr.KindSenseVoice, files)
}

// Close releases the recognizer.
func (e *Engine) Close() error {
	if e.recognizer != nil {
		sherpaonnx.DeleteOfflineRecognizer(e.recognizer)
		e.recognizer = nil
	}
	return nil
}

// Transcribe decodes samples in a single offline stream. The recognizer does
// not sample, so opts.Temperature is ignored.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, _ asr.DecodeOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("sherpa: %w", err)
	}
	if e.recognizer == nil {
		return "", fmt.Errorf("sherpa: engine is closed")
	}

	stream := sherpaonnx.NewOfflineStream(e.recognizer)
	if stream == nil {
		return "", fmt.Errorf("sherpa: create stream failed")
	}
	defer sherpaonnx.DeleteOfflineStream(stream)

	stream.AcceptWaveform(asr.SampleRate, samples)
	e.recognizer.Decode(stream)

	result := stream.GetResult()
	if result == nil {
		return "", fmt.Errorf("sherpa: decode produced no result")
	}
	return strings.TrimSpace(result.Text), nil
}

func checkFiles(files asr.ModelFiles) error {
	for _, p := range []string{files.Weights, files.Tokens} {
		if p == "" {
			return fmt.Errorf("sherpa: %w: weights and tokens are required", asr.ErrInvalidModel)
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("sherpa: %w: %v", asr.ErrInvalidModel, err)
		}
	}
	return nil
}

func threads(n int) int {
	if n > 0 {
		return n
	}
	return min(runtime.NumCPU(), 4)
}

// senseVoiceLanguage maps config language codes onto the set SenseVoice
// understands. Unsupported codes fall back to detection.
func senseVoiceLanguage(lang string) string {
	switch lang {
	case "zh", "en", "ja", "ko", "yue":
		return lang
	}
	return "auto"
}
