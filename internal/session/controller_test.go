package session

import (
	"context"
	"errors"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/typeless/internal/capture"
	"github.com/MrWong99/typeless/internal/hotkey"
	"github.com/MrWong99/typeless/internal/speech"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type fakeRecorder struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	starts   []string
	formats  []capture.Format
	stops    int
}

func (r *fakeRecorder) Start(dest string, f capture.Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, dest)
	r.formats = append(r.formats, f)
	if err := os.WriteFile(dest, []byte("RIFF"), 0o600); err != nil {
		return err
	}
	return r.startErr
}

func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return r.stopErr
}

func (r *fakeRecorder) counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts), r.stops
}

type fakeTranscriber struct {
	text string
	err  error

	// gate, when set, blocks Transcribe until closed.
	gate chan struct{}

	mu          sync.Mutex
	paths       []string
	fileExisted []bool
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	_, statErr := os.Stat(path)
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.fileExisted = append(f.fileExisted, statErr == nil)
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	return f.text, f.err
}

type fakeInserter struct {
	err error

	mu    sync.Mutex
	texts []string
}

func (f *fakeInserter) Deliver(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeInserter) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.texts)
}

type fakeOverlay struct {
	mu    sync.Mutex
	calls []string
}

func (o *fakeOverlay) add(s string) {
	o.mu.Lock()
	o.calls = append(o.calls, s)
	o.mu.Unlock()
}
func (o *fakeOverlay) ShowRecording()         { o.add("recording") }
func (o *fakeOverlay) ShowProcessing()        { o.add("processing") }
func (o *fakeOverlay) UpdateText(text string) { o.add("text:" + text) }
func (o *fakeOverlay) Hide()                  { o.add("hide") }

func (o *fakeOverlay) visibility() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, c := range o.calls {
		if c == "recording" || c == "processing" || c == "hide" {
			out = append(out, c)
		}
	}
	return out
}

type harness struct {
	ctrl *Controller
	rec  *fakeRecorder
	tr   *fakeTranscriber
	ins  *fakeInserter
	ov   *fakeOverlay
	dir  string

	mu    sync.Mutex
	ended []Session
}

func newHarness(t *testing.T, tr *fakeTranscriber) *harness {
	t.Helper()
	h := &harness{
		rec: &fakeRecorder{},
		tr:  tr,
		ins: &fakeInserter{},
		ov:  &fakeOverlay{},
		dir: t.TempDir(),
	}
	ctrl, err := New(Config{
		Recorder:    h.rec,
		Transcriber: h.tr,
		Inserter:    h.ins,
		Overlay:     h.ov,
		TempDir:     h.dir,
	}, WithObserver(func(s Session) {
		h.mu.Lock()
		h.ended = append(h.ended, s)
		h.mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.ctrl = ctrl
	return h
}

func (h *harness) endedSessions() []Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.ended)
}

func assertRemoved(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("recording %s still exists (stat err %v)", path, err)
	}
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestSession_PressReleaseInsertsText(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &fakeTranscriber{text: " Hello, world. "})
	ctx := context.Background()

	h.ctrl.Press(ctx)
	cur, ok := h.ctrl.Current()
	if !ok || cur.State != StateCapturing {
		t.Fatalf("after press: %+v, %v", cur, ok)
	}
	if want := capture.PathFor(h.dir, cur.ID); cur.AudioPath != want {
		t.Errorf("AudioPath = %q, want %q", cur.AudioPath, want)
	}
	if h.rec.formats[0] != capture.SpeechFormat {
		t.Errorf("format = %+v, want %+v", h.rec.formats[0], capture.SpeechFormat)
	}

	h.ctrl.Release(ctx)
	h.ctrl.Wait()

	if got := h.ins.delivered(); !slices.Equal(got, []string{" Hello, world. "}) {
		t.Errorf("delivered = %q, want the untrimmed transcript", got)
	}
	if !h.tr.fileExisted[0] {
		t.Error("recording did not exist when transcription ran")
	}
	assertRemoved(t, cur.AudioPath)

	want := []string{"recording", "processing", "hide"}
	if got := h.ov.visibility(); !slices.Equal(got, want) {
		t.Errorf("overlay visibility = %v, want %v", got, want)
	}
	if !slices.Contains(h.ov.calls, "text: Hello, world. ") {
		t.Errorf("overlay calls = %v, want the transcript shown", h.ov.calls)
	}

	ended := h.endedSessions()
	if len(ended) != 1 || ended[0].State != StateCompleted || ended[0].Text != " Hello, world. " || ended[0].Err != nil {
		t.Fatalf("ended = %+v", ended)
	}
	if ended[0].EndedAt.Before(ended[0].StartedAt) {
		t.Error("EndedAt before StartedAt")
	}
}

func TestSession_EngineNotReady(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &fakeTranscriber{err: speech.ErrEngineNotReady})
	ctx := context.Background()

	h.ctrl.Press(ctx)
	path := h.rec.starts[0]
	h.ctrl.Release(ctx)
	h.ctrl.Wait()

	if got := h.ins.delivered(); len(got) != 0 {
		t.Errorf("delivered %q while the engine was not ready", got)
	}
	assertRemoved(t, path)
	if got := h.ov.visibility(); got[len(got)-1] != "hide" {
		t.Errorf("overlay visibility = %v, want hidden", got)
	}
	ended := h.endedSessions()
	if len(ended) != 1 || ended[0].State != StateFailed || !errors.Is(ended[0].Err, speech.ErrEngineNotReady) {
		t.Fatalf("ended = %+v", ended)
	}
}

func TestSession_TranscriptFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		trErr      error
		insErr     error
		stopErr    error
		wantErr    error
		wantInsert bool
	}{
		{name: "whitespace transcript", text: " \n\t", wantErr: ErrEmptyTranscript},
		{name: "decode failure", trErr: speech.ErrDecodeFailed, wantErr: speech.ErrDecodeFailed},
		{name: "insert failure", text: "hi", insErr: errors.New("no focus"), wantInsert: true},
		{name: "stop failure", text: "hi", stopErr: errors.New("device gone")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, &fakeTranscriber{text: tt.text, err: tt.trErr})
			h.ins.err = tt.insErr
			h.rec.stopErr = tt.stopErr
			ctx := context.Background()

			h.ctrl.Press(ctx)
			path := h.rec.starts[0]
			h.ctrl.Release(ctx)
			h.ctrl.Wait()

			ended := h.endedSessions()
			if len(ended) != 1 || ended[0].State != StateFailed || ended[0].Err == nil {
				t.Fatalf("ended = %+v", ended)
			}
			if tt.wantErr != nil && !errors.Is(ended[0].Err, tt.wantErr) {
				t.Errorf("err = %v, want %v", ended[0].Err, tt.wantErr)
			}
			if got := len(h.ins.delivered()) > 0; got != tt.wantInsert {
				t.Errorf("inserted = %v, want %v", got, tt.wantInsert)
			}
			assertRemoved(t, path)
			if got := h.ov.visibility(); got[len(got)-1] != "hide" {
				t.Errorf("overlay visibility = %v", got)
			}
		})
	}
}

func TestSession_CaptureStartFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &fakeTranscriber{text: "x"})
	h.rec.startErr = errors.New("no microphone")
	ctx := context.Background()

	h.ctrl.Press(ctx)
	path := h.rec.starts[0]

	cur, _ := h.ctrl.Current()
	if cur.State != StateFailed || !errors.Is(cur.Err, ErrCaptureStartFailed) {
		t.Fatalf("session = %+v, want failed with ErrCaptureStartFailed", cur)
	}
	assertRemoved(t, path)
	if got := h.ov.visibility(); !slices.Equal(got, []string{"recording", "hide"}) {
		t.Errorf("overlay visibility = %v", got)
	}

	h.ctrl.Release(ctx)
	if _, stops := h.rec.counts(); stops != 0 {
		t.Errorf("Stop called %d times for a failed session", stops)
	}

	// A failed start does not block the next press.
	h.rec.startErr = nil
	h.ctrl.Press(ctx)
	if starts, _ := h.rec.counts(); starts != 2 {
		t.Errorf("starts = %d, want 2", starts)
	}
}

func TestSession_NoOverlappingSessions(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	h := newHarness(t, &fakeTranscriber{text: "one", gate: gate})
	ctx := context.Background()

	h.ctrl.Press(ctx)
	h.ctrl.Press(ctx)
	if starts, _ := h.rec.counts(); starts != 1 {
		t.Fatalf("starts = %d after two presses, want 1", starts)
	}

	h.ctrl.Release(ctx)
	h.ctrl.Release(ctx)
	if _, stops := h.rec.counts(); stops != 1 {
		t.Errorf("stops = %d after two releases, want 1", stops)
	}

	// Pressing while the first session transcribes is ignored.
	h.ctrl.Press(ctx)
	if starts, _ := h.rec.counts(); starts != 1 {
		t.Errorf("starts = %d while transcribing, want 1", starts)
	}
	if cur, _ := h.ctrl.Current(); cur.State != StateTranscribing {
		t.Errorf("state = %s, want transcribing", cur.State)
	}

	close(gate)
	h.ctrl.Wait()

	h.ctrl.Press(ctx)
	if starts, _ := h.rec.counts(); starts != 2 {
		t.Errorf("starts = %d after completion, want 2", starts)
	}
}

func TestSession_ReleaseWithoutPress(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &fakeTranscriber{})
	h.ctrl.Release(context.Background())
	if _, stops := h.rec.counts(); stops != 0 {
		t.Errorf("stops = %d, want 0", stops)
	}
	if _, ok := h.ctrl.Current(); ok {
		t.Error("Current reported a session")
	}
}

func TestRun_ConsumesEdges(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &fakeTranscriber{text: "via edges"})

	edges := make(chan hotkey.Edge, 4)
	edges <- hotkey.EdgePressed
	edges <- hotkey.EdgeReleased
	close(edges)

	if err := h.ctrl.Run(context.Background(), edges); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Run waits for the transcription before returning.
	if got := h.ins.delivered(); !slices.Equal(got, []string{"via edges"}) {
		t.Errorf("delivered = %q", got)
	}
}

func TestRun_CancelAbortsCapture(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &fakeTranscriber{text: "never"})
	ctx, cancel := context.WithCancel(context.Background())

	edges := make(chan hotkey.Edge, 1)
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx, edges) }()

	edges <- hotkey.EdgePressed
	deadline := time.Now().Add(2 * time.Second)
	for {
		if starts, _ := h.rec.counts(); starts == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("press was never handled")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	cur, _ := h.ctrl.Current()
	if cur.State != StateAborted {
		t.Errorf("state = %s, want aborted", cur.State)
	}
	if _, stops := h.rec.counts(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
	assertRemoved(t, cur.AudioPath)
	if len(h.ins.delivered()) != 0 {
		t.Error("aborted session inserted text")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Fatal("New accepted an empty config")
	}
	c, err := New(Config{Recorder: &fakeRecorder{}, Transcriber: &fakeTranscriber{}, Inserter: &fakeInserter{}})
	if err != nil {
		t.Fatal(err)
	}
	if c.dir != os.TempDir() || c.format != capture.SpeechFormat {
		t.Errorf("defaults: dir=%q format=%+v", c.dir, c.format)
	}
}

func TestIsValidTransition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCapturing, StateStopping, true},
		{StateCapturing, StateFailed, true},
		{StateCapturing, StateAborted, true},
		{StateCapturing, StateTranscribing, false},
		{StateStopping, StateTranscribing, true},
		{StateStopping, StateCompleted, false},
		{StateTranscribing, StateCompleted, true},
		{StateTranscribing, StateFailed, true},
		{StateTranscribing, StateAborted, false},
		{StateCompleted, StateCapturing, false},
		{StateFailed, StateFailed, false},
		{StateAborted, StateStopping, false},
	}
	for _, tt := range tests {
		if got := isValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("isValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
