package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var _ Recorder = (*PortAudioRecorder)(nil)

// framesPerBuffer is 64ms at 16 kHz.
const framesPerBuffer = 1024

// PortAudioRecorder records from the default input device.
type PortAudioRecorder struct {
	mu     sync.Mutex
	active *recording
}

type recording struct {
	stream *portaudio.Stream
	wav    *WAVWriter
	dest   string
	stop   chan struct{}
	done   chan error
}

// NewPortAudioRecorder initialises PortAudio. Call Close when done.
func NewPortAudioRecorder() (*PortAudioRecorder, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("capture: portaudio init: %w", err)
	}
	return &PortAudioRecorder{}, nil
}

// Start opens the default input stream and starts writing dest.
func (r *PortAudioRecorder) Start(dest string, f Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return ErrAlreadyRecording
	}

	in := make([]int16, framesPerBuffer*f.Channels)
	stream, err := portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), framesPerBuffer, in)
	if err != nil {
		return fmt.Errorf("capture: open input stream: %w", err)
	}
	w, err := CreateWAV(dest, f)
	if err != nil {
		_ = stream.Close()
		return err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = w.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("capture: start input stream: %w", err)
	}

	rec := &recording{
		stream: stream,
		wav:    w,
		dest:   dest,
		stop:   make(chan struct{}),
		done:   make(chan error, 1),
	}
	r.active = rec
	go rec.run(in)
	return nil
}

func (rec *recording) run(in []int16) {
	for {
		select {
		case <-rec.stop:
			rec.done <- nil
			return
		default:
		}
		if err := rec.stream.Read(); err != nil {
			// Overflows lose a buffer but the recording stays usable.
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("capture: input overflowed")
				continue
			}
			rec.done <- fmt.Errorf("capture: read input: %w", err)
			return
		}
		if err := rec.wav.Write(in); err != nil {
			rec.done <- err
			return
		}
	}
}

// Stop ends the current recording and finalises the WAV file.
func (r *PortAudioRecorder) Stop() error {
	r.mu.Lock()
	rec := r.active
	r.active = nil
	r.mu.Unlock()
	if rec == nil {
		return ErrNotRecording
	}

	close(rec.stop)
	readErr := <-rec.done
	stopErr := rec.stream.Stop()
	_ = rec.stream.Close()
	closeErr := rec.wav.Close()

	slog.Debug("capture: recording stopped", "path", rec.dest, "duration", rec.wav.Duration())
	return errors.Join(readErr, stopErr, closeErr)
}

// Close stops a running recording and terminates PortAudio.
func (r *PortAudioRecorder) Close() error {
	if err := r.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
		slog.Warn("capture: stop on close failed", "err", err)
	}
	return portaudio.Terminate()
}
