package speech

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"

	"github.com/MrWong99/typeless/pkg/provider/asr"
)

// readSamples decodes a 16 kHz PCM WAV file into mono float32 samples in
// [-1, 1]. Multi-channel input is down-mixed by averaging.
func readSamples(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav %s: %w", path, err)
	}
	if buf == nil || dec.SampleRate == 0 {
		return nil, fmt.Errorf("decode wav %s: not a PCM wav file", path)
	}
	if int(dec.SampleRate) != asr.SampleRate {
		return nil, fmt.Errorf("sample rate %d Hz, want %d Hz", dec.SampleRate, asr.SampleRate)
	}

	channels := max(int(dec.NumChans), 1)
	scale := float32(int(1) << (max(int(dec.BitDepth), 1) - 1))
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(buf.Data[i*channels+ch]) / scale
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}
