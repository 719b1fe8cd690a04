// Package capture records microphone audio into WAV files.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

var (
	// ErrAlreadyRecording is returned by Start while a recording is running.
	ErrAlreadyRecording = errors.New("capture: already recording")

	// ErrNotRecording is returned by Stop when nothing is being recorded.
	ErrNotRecording = errors.New("capture: not recording")
)

// TempPrefix starts the name of every recording created by [TempPath].
const TempPrefix = "typeless_recording_"

// Format describes the PCM layout written to disk.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// SpeechFormat is what the recognition engines expect.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// Recorder captures audio into a file until stopped.
type Recorder interface {
	// Start begins recording into dest. It returns once the input device
	// delivers audio, or with an error if it cannot.
	Start(dest string, f Format) error

	// Stop ends the recording and finalises the file.
	Stop() error
}

// TempPath returns a fresh, unique recording path in dir.
func TempPath(dir string) string {
	return PathFor(dir, strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// PathFor returns the recording path for session id in dir.
func PathFor(dir, id string) string {
	return filepath.Join(dir, TempPrefix+id+".wav")
}

// CleanupStale removes recordings in dir that are older than maxAge. Crashes
// or kills during a session can leave them behind.
func CleanupStale(dir string, maxAge time.Duration) int {
	matches, err := filepath.Glob(filepath.Join(dir, TempPrefix+"*.wav"))
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, p := range matches {
		info, err := os.Stat(p)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(p); err != nil {
			slog.Warn("capture: failed to remove stale recording", "path", p, "err", err)
			continue
		}
		removed++
	}
	return removed
}

// WAVWriter streams 16-bit PCM frames into a WAV file.
type WAVWriter struct {
	file    *os.File
	enc     *wav.Encoder
	format  *audio.Format
	scratch []int
	frames  int
	rate    int
}

// CreateWAV creates path and writes a WAV header for f.
func CreateWAV(path string, f Format) (*WAVWriter, error) {
	if f.BitDepth != 16 {
		return nil, fmt.Errorf("capture: unsupported bit depth %d", f.BitDepth)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: create %q: %w", path, err)
	}
	return &WAVWriter{
		file:   file,
		enc:    wav.NewEncoder(file, f.SampleRate, f.BitDepth, f.Channels, 1),
		format: &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		rate:   f.SampleRate * f.Channels,
	}, nil
}

// Write appends interleaved samples.
func (w *WAVWriter) Write(samples []int16) error {
	if cap(w.scratch) < len(samples) {
		w.scratch = make([]int, len(samples))
	}
	data := w.scratch[:len(samples)]
	for i, v := range samples {
		data[i] = int(v)
	}
	buf := &audio.IntBuffer{Format: w.format, Data: data, SourceBitDepth: 16}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("capture: write wav: %w", err)
	}
	w.frames += len(samples)
	return nil
}

// Duration is the length of audio written so far.
func (w *WAVWriter) Duration() time.Duration {
	if w.rate == 0 {
		return 0
	}
	return time.Duration(w.frames) * time.Second / time.Duration(w.rate)
}

// Close finalises the header and closes the file.
func (w *WAVWriter) Close() error {
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return fmt.Errorf("capture: finalise wav: %w", encErr)
	}
	return fileErr
}
