package models

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/typeless/internal/resilience"
	"github.com/MrWong99/typeless/pkg/provider/asr"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

type tarEntry struct {
	name string
	body string
	dir  bool
}

func makeTarGz(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr = &tar.Header{Name: e.name, Mode: 0o755, Typeflag: tar.TypeDir}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if !e.dir {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("tar write: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func validArchive(t *testing.T) []byte {
	t.Helper()
	return makeTarGz(t,
		tarEntry{name: "test-model/", dir: true},
		tarEntry{name: "test-model/model.int8.onnx", body: strings.Repeat("w", 4096)},
		tarEntry{name: "test-model/tokens.txt", body: "a 0\nb 1\n"},
	)
}

// mirrorServer answers HEAD with headStatus and GET with getStatus plus body.
type mirrorServer struct {
	*httptest.Server

	headStatus int
	getStatus  int
	body       []byte

	// block, when set, holds GET requests until closed.
	block   chan struct{}
	started chan struct{}

	// failGets makes that many GETs answer 502 before the body is served.
	failGets atomic.Int32

	// truncate announces the full Content-Length, sends half the body and
	// drops the connection.
	truncate bool

	heads atomic.Int32
	gets  atomic.Int32
}

func newMirrorServer(t *testing.T, headStatus, getStatus int, body []byte) *mirrorServer {
	t.Helper()
	s := &mirrorServer{headStatus: headStatus, getStatus: getStatus, body: body}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			s.heads.Add(1)
			w.WriteHeader(s.headStatus)
		case http.MethodGet:
			s.gets.Add(1)
			if s.block != nil {
				close(s.started)
				<-s.block
			}
			if s.failGets.Add(-1) >= 0 {
				http.Error(w, "boom", http.StatusBadGateway)
				return
			}
			if s.getStatus != http.StatusOK {
				http.Error(w, "boom", s.getStatus)
				return
			}
			if s.truncate {
				w.Header().Set("Content-Length", strconv.Itoa(len(s.body)))
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(s.body[:len(s.body)/2])
				w.(http.Flusher).Flush()
				conn, _, err := w.(http.Hijacker).Hijack()
				if err == nil {
					conn.Close()
				}
				return
			}
			_, _ = w.Write(s.body)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

type fakeSetter struct {
	mu    sync.Mutex
	calls map[string]string
}

func (f *fakeSetter) SetLocalPath(modelID, dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]string)
	}
	f.calls[modelID] = dir
}

func (f *fakeSetter) get(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.calls[id]
	return d, ok
}

func testModel(origin string) Model {
	return Model{
		ID:          "test-model",
		Name:        "Test Model",
		Engine:      asr.KindParaformer,
		URL:         origin + "/asr-models/test-model.tar.gz",
		Archive:     ArchiveTarGz,
		Folder:      "test-model",
		WeightsFile: "model.int8.onnx",
		TokensFile:  "tokens.txt",
	}
}

// newTestAcquirer wires an acquirer with an "origin" mirror on origin and a
// "backup" mirror on backup.
func newTestAcquirer(t *testing.T, origin, backup *mirrorServer, opts ...Option) (*Acquirer, *fakeSetter, string) {
	t.Helper()
	root := t.TempDir()
	setter := &fakeSetter{}
	mirrors := []Mirror{
		{Name: "origin", Template: "{url}"},
		{Name: "backup", Template: backup.URL + "{path}"},
	}
	base := []Option{
		WithCatalog(NewCatalog(testModel(origin.URL))),
		WithHTTPClient(origin.Client()),
		WithLocalPathSetter(setter),
		WithProbeTimeout(2 * time.Second),
	}
	return NewAcquirer(root, mirrors, append(base, opts...)...), setter, root
}

// ─── download ────────────────────────────────────────────────────────────────

func TestDownload_FallbackAfterPrimaryFailure(t *testing.T) {
	t.Parallel()

	archive := validArchive(t)
	origin := newMirrorServer(t, http.StatusOK, http.StatusInternalServerError, nil)
	backup := newMirrorServer(t, http.StatusNotFound, http.StatusOK, archive)
	a, setter, root := newTestAcquirer(t, origin, backup)

	var (
		mu       sync.Mutex
		messages []string
	)
	res, err := a.Download(context.Background(), "test-model", func(p Progress) {
		mu.Lock()
		messages = append(messages, p.Message)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Mirror != "backup" {
		t.Errorf("Mirror = %q, want backup", res.Mirror)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if got := origin.gets.Load(); got != 1 {
		t.Errorf("origin GETs = %d, want 1", got)
	}
	if got := backup.gets.Load(); got != 1 {
		t.Errorf("backup GETs = %d, want exactly one fallback attempt", got)
	}

	wantDir := filepath.Join(root, "test-model")
	if res.Dir != wantDir {
		t.Errorf("Dir = %q, want %q", res.Dir, wantDir)
	}
	if !a.IsAvailable("test-model") {
		t.Error("IsAvailable = false after a successful download")
	}
	if dir, ok := setter.get("test-model"); !ok || dir != wantDir {
		t.Errorf("SetLocalPath got (%q, %v), want %q", dir, ok, wantDir)
	}
	if _, ok := a.Task("test-model"); ok {
		t.Error("task still registered after completion")
	}
	if _, err := os.Stat(filepath.Join(root, ".test-model.tar.gz.download")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temporary download left behind: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawDownload bool
	for _, m := range messages {
		if strings.HasPrefix(m, "Downloading Test Model... ") {
			sawDownload = true
		}
	}
	if !sawDownload {
		t.Errorf("no download progress message in %q", messages)
	}
}

func TestDownload_SecondFailureIsTerminal(t *testing.T) {
	t.Parallel()

	origin := newMirrorServer(t, http.StatusOK, http.StatusInternalServerError, nil)
	backup := newMirrorServer(t, http.StatusNotFound, http.StatusBadGateway, nil)
	a, setter, root := newTestAcquirer(t, origin, backup)

	_, err := a.Download(context.Background(), "test-model", nil)
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("err = %v, want ErrDownloadFailed", err)
	}
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("err = %T, want *DownloadError", err)
	}
	if dlErr.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", dlErr.Attempts)
	}
	if !strings.Contains(dlErr.Reason, "502") {
		t.Errorf("Reason = %q, want the fallback status", dlErr.Reason)
	}
	if origin.gets.Load() != 1 || backup.gets.Load() != 1 {
		t.Errorf("GETs origin=%d backup=%d, want 1 each", origin.gets.Load(), backup.gets.Load())
	}
	if _, ok := setter.get("test-model"); ok {
		t.Error("SetLocalPath called for a failed download")
	}
	if _, err := os.Stat(filepath.Join(root, "test-model")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("model folder exists after failure: %v", err)
	}
}

func TestDownload_ProbeSelectsResponder(t *testing.T) {
	t.Parallel()

	origin := newMirrorServer(t, http.StatusInternalServerError, http.StatusOK, validArchive(t))
	backup := newMirrorServer(t, http.StatusOK, http.StatusOK, validArchive(t))
	a, _, _ := newTestAcquirer(t, origin, backup)

	res, err := a.Download(context.Background(), "test-model", nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Mirror != "backup" || res.Attempts != 1 {
		t.Errorf("got mirror %q after %d attempts, want backup after 1", res.Mirror, res.Attempts)
	}
	if origin.gets.Load() != 0 {
		t.Errorf("origin GETs = %d, want 0", origin.gets.Load())
	}
}

func TestDownload_NoProbeAnswerUsesDefaultMirror(t *testing.T) {
	t.Parallel()

	origin := newMirrorServer(t, http.StatusServiceUnavailable, http.StatusOK, validArchive(t))
	backup := newMirrorServer(t, http.StatusServiceUnavailable, http.StatusOK, validArchive(t))
	a, _, _ := newTestAcquirer(t, origin, backup, WithDefaultMirror("backup"))

	res, err := a.Download(context.Background(), "test-model", nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Mirror != "backup" {
		t.Errorf("Mirror = %q, want the default mirror", res.Mirror)
	}
	if origin.heads.Load() != 1 || backup.heads.Load() != 1 {
		t.Errorf("HEADs origin=%d backup=%d, want every mirror probed once", origin.heads.Load(), backup.heads.Load())
	}
}

func TestDownload_ConcurrentRequestRejected(t *testing.T) {
	t.Parallel()

	origin := newMirrorServer(t, http.StatusOK, http.StatusOK, validArchive(t))
	origin.block = make(chan struct{})
	origin.started = make(chan struct{})
	backup := newMirrorServer(t, http.StatusNotFound, http.StatusOK, validArchive(t))
	a, _, _ := newTestAcquirer(t, origin, backup)

	done := make(chan error, 1)
	go func() {
		_, err := a.Download(context.Background(), "test-model", nil)
		done <- err
	}()
	<-origin.started

	task, ok := a.Task("test-model")
	if !ok {
		t.Fatal("no task registered while downloading")
	}
	if task.Status != TaskDownloading || task.Primary != "origin" || task.Fallback != "backup" {
		t.Errorf("task = %+v", task)
	}

	if _, err := a.Download(context.Background(), "test-model", nil); !errors.Is(err, ErrDownloadInProgress) {
		t.Errorf("second Download err = %v, want ErrDownloadInProgress", err)
	}

	close(origin.block)
	if err := <-done; err != nil {
		t.Fatalf("first Download: %v", err)
	}
	if origin.gets.Load() != 1 {
		t.Errorf("origin GETs = %d, want 1", origin.gets.Load())
	}
}

func TestDownload_ExtractionFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body func(t *testing.T) []byte
	}{
		{name: "corrupt archive", body: func(*testing.T) []byte { return []byte("definitely not gzip") }},
		{name: "missing tokens", body: func(t *testing.T) []byte {
			return makeTarGz(t, tarEntry{name: "test-model/model.int8.onnx", body: "w"})
		}},
		{name: "path escape", body: func(t *testing.T) []byte {
			return makeTarGz(t, tarEntry{name: "../evil.txt", body: "x"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			origin := newMirrorServer(t, http.StatusOK, http.StatusOK, tt.body(t))
			backup := newMirrorServer(t, http.StatusNotFound, http.StatusOK, nil)
			a, setter, root := newTestAcquirer(t, origin, backup)

			_, err := a.Download(context.Background(), "test-model", nil)
			if !errors.Is(err, ErrExtractionFailed) {
				t.Fatalf("err = %v, want ErrExtractionFailed", err)
			}
			if errors.Is(err, ErrDownloadFailed) {
				t.Error("extraction failure also matches ErrDownloadFailed")
			}
			if backup.gets.Load() != 0 {
				t.Error("extraction failure triggered a fallback download")
			}
			if _, ok := setter.get("test-model"); ok {
				t.Error("SetLocalPath called after extraction failure")
			}
			if _, err := os.Stat(filepath.Join(root, "test-model")); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("partial model folder left behind: %v", err)
			}
			if _, err := os.Stat(filepath.Join(filepath.Dir(root), "evil.txt")); !errors.Is(err, os.ErrNotExist) {
				t.Error("archive entry escaped the model root")
			}
		})
	}
}

func TestDownload_UnknownModel(t *testing.T) {
	t.Parallel()
	a := NewAcquirer(t.TempDir(), []Mirror{{Name: "origin", Template: "{url}"}})
	if _, err := a.Download(context.Background(), "nope", nil); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("err = %v, want ErrUnknownModel", err)
	}
}

func TestDownload_OpenBreakerSkipsMirror(t *testing.T) {
	t.Parallel()

	origin := newMirrorServer(t, http.StatusOK, http.StatusInternalServerError, nil)
	backup := newMirrorServer(t, http.StatusNotFound, http.StatusOK, validArchive(t))
	breakers := resilience.NewSet(resilience.Config{MaxFailures: 1, ResetTimeout: time.Hour})
	a, _, root := newTestAcquirer(t, origin, backup, WithBreakers(breakers))

	if _, err := a.Download(context.Background(), "test-model", nil); err != nil {
		t.Fatalf("first Download: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(root, "test-model")); err != nil {
		t.Fatal(err)
	}
	heads := origin.heads.Load()

	res, err := a.Download(context.Background(), "test-model", nil)
	if err != nil {
		t.Fatalf("second Download: %v", err)
	}
	if origin.heads.Load() != heads {
		t.Error("mirror with an open breaker was probed")
	}
	if origin.gets.Load() != 1 {
		t.Errorf("origin GETs = %d, want 1", origin.gets.Load())
	}
	if res.Mirror != "backup" {
		t.Errorf("Mirror = %q, want backup", res.Mirror)
	}
}

func TestDownload_MidStreamFailureFallsBack(t *testing.T) {
	t.Parallel()

	archive := validArchive(t)
	origin := newMirrorServer(t, http.StatusOK, http.StatusOK, archive)
	origin.truncate = true
	backup := newMirrorServer(t, http.StatusNotFound, http.StatusOK, archive)
	a, setter, root := newTestAcquirer(t, origin, backup)

	res, err := a.Download(context.Background(), "test-model", nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Attempts != 2 || res.Mirror != "backup" {
		t.Errorf("got mirror %q after %d attempts, want backup after 2", res.Mirror, res.Attempts)
	}
	if origin.gets.Load() != 1 || backup.gets.Load() != 1 {
		t.Errorf("GETs origin=%d backup=%d, want 1 each", origin.gets.Load(), backup.gets.Load())
	}
	if _, ok := setter.get("test-model"); !ok {
		t.Error("SetLocalPath not called after the fallback succeeded")
	}
	if _, err := os.Stat(filepath.Join(root, ".test-model.tar.gz.download")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temporary download left behind: %v", err)
	}
}

func TestDownload_RetriesAfterBreakersOpen(t *testing.T) {
	t.Parallel()

	archive := validArchive(t)
	origin := newMirrorServer(t, http.StatusOK, http.StatusOK, archive)
	backup := newMirrorServer(t, http.StatusOK, http.StatusOK, archive)
	origin.failGets.Store(3)
	backup.failGets.Store(3)
	a, setter, _ := newTestAcquirer(t, origin, backup)

	for i := range 3 {
		if _, err := a.Download(context.Background(), "test-model", nil); !errors.Is(err, ErrDownloadFailed) {
			t.Fatalf("Download %d: err = %v, want ErrDownloadFailed", i+1, err)
		}
	}
	if origin.gets.Load() != 3 || backup.gets.Load() != 3 {
		t.Fatalf("GETs origin=%d backup=%d, want 3 each", origin.gets.Load(), backup.gets.Load())
	}

	// Both breakers are open now; an explicit retry must still reach a mirror.
	res, err := a.Download(context.Background(), "test-model", nil)
	if err != nil {
		t.Fatalf("Download after mirrors recovered: %v", err)
	}
	if res.Mirror != "origin" || res.Attempts != 1 {
		t.Errorf("got mirror %q after %d attempts, want the default mirror after 1", res.Mirror, res.Attempts)
	}
	if _, ok := setter.get("test-model"); !ok {
		t.Error("SetLocalPath not called")
	}
	if st := a.breakers.Get("origin").State(); st != resilience.StateClosed {
		t.Errorf("origin breaker = %v after a successful download, want closed", st)
	}
}

// ─── availability & catalog ──────────────────────────────────────────────────

func TestIsAvailable(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cat := NewCatalog(
		Model{ID: "sherpa", Folder: "s", WeightsFile: "model.int8.onnx", TokensFile: "tokens.txt"},
		Model{ID: "ggml", Folder: "g", WeightsFile: "ggml-tiny.bin"},
	)
	a := NewAcquirer(root, []Mirror{{Name: "origin", Template: "{url}"}}, WithCatalog(cat))

	write := func(rel string) {
		t.Helper()
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("s/model.int8.onnx")
	if a.IsAvailable("sherpa") {
		t.Error("sherpa model available without tokens")
	}
	write("s/tokens.txt")
	if !a.IsAvailable("sherpa") {
		t.Error("sherpa model unavailable with weights and tokens")
	}

	write("g/ggml-tiny.bin")
	if !a.IsAvailable("ggml") {
		t.Error("ggml model needs no tokens file")
	}
	if a.IsAvailable("unknown") {
		t.Error("unknown model reported available")
	}

	list := a.List()
	if len(list) != 2 || !list[0].Available || list[0].Dir != filepath.Join(root, "s") {
		t.Errorf("List = %+v", list)
	}
}

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()
	cat := DefaultCatalog()
	for _, id := range []string{"paraformer-zh", "sensevoice-small", "whisper-tiny", "whisper-base", "whisper-small"} {
		m, ok := cat.Lookup(id)
		if !ok {
			t.Errorf("Lookup(%q) missing", id)
			continue
		}
		if m.Engine != asr.KindWhisper && m.TokensFile == "" {
			t.Errorf("%s: sherpa model without tokens file", id)
		}
		if !strings.HasSuffix(m.URL, m.archiveName()) {
			t.Errorf("%s: archive name %q not derived from URL", id, m.archiveName())
		}
	}
	if _, ok := cat.Lookup("large-v9"); ok {
		t.Error("Lookup of unknown id succeeded")
	}
}

func TestModelFiles(t *testing.T) {
	t.Parallel()
	m := Model{WeightsFile: "model.int8.onnx", TokensFile: "tokens.txt"}
	files := m.Files("/models/x")
	if files.Dir != "/models/x" || files.Weights != filepath.Join("/models/x", "model.int8.onnx") || files.Tokens != filepath.Join("/models/x", "tokens.txt") {
		t.Errorf("Files = %+v", files)
	}
	if got := (Model{WeightsFile: "ggml.bin"}).Files("/m").Tokens; got != "" {
		t.Errorf("Tokens = %q, want empty", got)
	}
}
