package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"

	"github.com/MrWong99/typeless/internal/observe"
	"github.com/MrWong99/typeless/internal/resilience"
)

// DefaultProbeTimeout bounds each mirror probe.
const DefaultProbeTimeout = 5 * time.Second

// TaskStatus is the phase of an in-flight download.
type TaskStatus string

const (
	TaskProbing        TaskStatus = "probing"
	TaskDownloading    TaskStatus = "downloading"
	TaskExtracting     TaskStatus = "extracting"
	TaskSucceeded      TaskStatus = "succeeded"
	TaskFailedRetrying TaskStatus = "failedRetrying"
	TaskFailed         TaskStatus = "failed"
)

// Task is a snapshot of one download.
type Task struct {
	ModelID      string
	Primary      string
	Fallback     string
	BytesWritten int64
	BytesTotal   int64
	Status       TaskStatus
	StartedAt    time.Time
}

// Result describes a completed download.
type Result struct {
	ModelID  string
	Dir      string
	Mirror   string
	Attempts int
}

// Entry is a catalog model together with its local availability.
type Entry struct {
	Model     Model
	Available bool
	Dir       string
}

// LocalPathSetter is told where a freshly downloaded model lives.
// speech.Manager implements it.
type LocalPathSetter interface {
	SetLocalPath(modelID, dir string)
}

// Acquirer downloads catalog models into a root directory. At most one
// download per model id runs at a time. Create with [NewAcquirer].
type Acquirer struct {
	root          string
	mirrors       []Mirror
	defaultMirror string
	probeTimeout  time.Duration
	client        *http.Client
	catalog       *Catalog
	setter        LocalPathSetter
	breakers      *resilience.Set
	metrics       *observe.Metrics

	mu    sync.Mutex
	tasks map[string]*Task
}

// Option configures an [Acquirer].
type Option func(*Acquirer)

// WithDefaultMirror names the mirror used when no probe answers. Defaults to
// the first mirror.
func WithDefaultMirror(name string) Option {
	return func(a *Acquirer) { a.defaultMirror = name }
}

// WithProbeTimeout bounds each mirror probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(a *Acquirer) {
		if d > 0 {
			a.probeTimeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP/2-enabled default client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Acquirer) { a.client = c }
}

// WithCatalog replaces [DefaultCatalog].
func WithCatalog(c *Catalog) Option {
	return func(a *Acquirer) { a.catalog = c }
}

// WithLocalPathSetter registers the consumer of finished downloads.
func WithLocalPathSetter(s LocalPathSetter) Option {
	return func(a *Acquirer) { a.setter = s }
}

// WithBreakers shares mirror health across acquirers.
func WithBreakers(s *resilience.Set) Option {
	return func(a *Acquirer) { a.breakers = s }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Acquirer) { a.metrics = m }
}

// NewAcquirer returns an acquirer storing models under root and fetching
// them through mirrors. mirrors must not be empty.
func NewAcquirer(root string, mirrors []Mirror, opts ...Option) *Acquirer {
	a := &Acquirer{
		root:         root,
		mirrors:      append([]Mirror(nil), mirrors...),
		probeTimeout: DefaultProbeTimeout,
		tasks:        make(map[string]*Task),
	}
	for _, o := range opts {
		o(a)
	}
	if a.defaultMirror == "" && len(a.mirrors) > 0 {
		a.defaultMirror = a.mirrors[0].Name
	}
	if a.client == nil {
		a.client = newHTTPClient()
	}
	if a.catalog == nil {
		a.catalog = DefaultCatalog()
	}
	if a.breakers == nil {
		a.breakers = resilience.NewSet(resilience.Config{})
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

func newHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		slog.Warn("models: http2 unavailable, using http/1.1", "err", err)
	}
	return &http.Client{Transport: tr}
}

// Catalog returns the catalog in use.
func (a *Acquirer) Catalog() *Catalog { return a.catalog }

// Dir returns where model id is, or would be, stored.
func (a *Acquirer) Dir(id string) (string, error) {
	m, ok := a.catalog.Lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return filepath.Join(a.root, m.Folder), nil
}

// IsAvailable reports whether the weights (and tokens, where the engine
// needs them) of model id exist on disk.
func (a *Acquirer) IsAvailable(id string) bool {
	m, ok := a.catalog.Lookup(id)
	if !ok {
		return false
	}
	return a.available(m)
}

func (a *Acquirer) available(m Model) bool {
	files := m.Files(filepath.Join(a.root, m.Folder))
	if !fileExists(files.Weights) {
		return false
	}
	return files.Tokens == "" || fileExists(files.Tokens)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// List returns every catalog model with its availability.
func (a *Acquirer) List() []Entry {
	models := a.catalog.Models()
	out := make([]Entry, 0, len(models))
	for _, m := range models {
		out = append(out, Entry{
			Model:     m,
			Available: a.available(m),
			Dir:       filepath.Join(a.root, m.Folder),
		})
	}
	return out
}

// Task returns a snapshot of the in-flight download of id.
func (a *Acquirer) Task(id string) (Task, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

func (a *Acquirer) update(id string, fn func(*Task)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.tasks[id]; ok {
		fn(t)
	}
}

// Download fetches and unpacks model id. It probes every mirror, downloads
// from the fastest responder and, on failure, retries exactly once from a
// fallback mirror. A second request for the same id while one is running
// fails with [ErrDownloadInProgress]. sink may be nil.
func (a *Acquirer) Download(ctx context.Context, id string, sink ProgressFunc) (Result, error) {
	m, ok := a.catalog.Lookup(id)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	if len(a.mirrors) == 0 {
		return Result{}, &DownloadError{ModelID: id, Reason: "no mirrors configured"}
	}

	a.mu.Lock()
	if _, busy := a.tasks[id]; busy {
		a.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrDownloadInProgress, id)
	}
	a.tasks[id] = &Task{ModelID: id, Status: TaskProbing, BytesTotal: -1, StartedAt: time.Now()}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.tasks, id)
		a.mu.Unlock()
	}()

	ctx, span := observe.StartSpan(ctx, "models.download",
		trace.WithAttributes(attribute.String("model", id)))
	defer span.End()
	start := time.Now()
	log := observe.Logger(ctx).With("model", id)

	primary := a.probe(ctx, m.URL)
	sources := []Mirror{primary}
	if fb, ok := a.fallbackFor(primary); ok {
		sources = append(sources, fb)
	}
	a.update(id, func(t *Task) {
		t.Primary = primary.Name
		if len(sources) > 1 {
			t.Fallback = sources[1].Name
		}
	})
	log.Info("models: downloading", "mirror", primary.Name, "fallback", len(sources) > 1)

	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return Result{}, &DownloadError{ModelID: id, Reason: "cannot create model directory", Err: err}
	}
	tmp := filepath.Join(a.root, "."+m.archiveName()+".download")
	defer os.Remove(tmp)

	var (
		used     Mirror
		attempts int
		lastErr  error
	)
	for i, src := range sources {
		attempts++
		a.update(id, func(t *Task) {
			t.Status = TaskDownloading
			t.BytesWritten = 0
			t.BytesTotal = -1
		})
		// Breakers only rank mirrors; a chosen source is always tried.
		lastErr = a.fetch(ctx, m, src, tmp, sink)
		if ctx.Err() == nil {
			a.breakers.Get(src.Name).Record(lastErr)
		}
		if lastErr == nil {
			a.metrics.RecordDownloadAttempt(ctx, src.Name, "ok")
			used = src
			break
		}
		a.metrics.RecordDownloadAttempt(ctx, src.Name, "error")
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(sources) {
			log.Warn("models: download failed, retrying from fallback",
				"mirror", src.Name, "fallback", sources[i+1].Name, "err", lastErr)
			a.update(id, func(t *Task) { t.Status = TaskFailedRetrying })
		}
	}
	if lastErr != nil {
		a.update(id, func(t *Task) { t.Status = TaskFailed })
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, "download failed")
		return Result{}, &DownloadError{ModelID: id, Reason: lastErr.Error(), Attempts: attempts, Err: lastErr}
	}

	a.update(id, func(t *Task) { t.Status = TaskExtracting })
	if sink != nil {
		sink(Progress{ModelID: id, Mirror: used.Name, Message: "Extracting " + m.Name + "..."})
	}
	dir := filepath.Join(a.root, m.Folder)
	err := extract(tmp, a.root, m)
	if err == nil && !a.available(m) {
		err = errors.New("archive did not contain the expected model files")
	}
	if err != nil {
		os.RemoveAll(dir)
		a.update(id, func(t *Task) { t.Status = TaskFailed })
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		return Result{}, fmt.Errorf("%w: %s: %w", ErrExtractionFailed, id, err)
	}

	a.update(id, func(t *Task) { t.Status = TaskSucceeded })
	if a.setter != nil {
		a.setter.SetLocalPath(id, dir)
	}
	a.metrics.DownloadDuration.Record(ctx, time.Since(start).Seconds())
	log.Info("models: download complete", "mirror", used.Name, "dir", dir, "elapsed", time.Since(start))
	return Result{ModelID: id, Dir: dir, Mirror: used.Name, Attempts: attempts}, nil
}

func (a *Acquirer) mirror(name string) (Mirror, bool) {
	for _, m := range a.mirrors {
		if m.Name == name {
			return m, true
		}
	}
	return Mirror{}, false
}

// fallbackFor returns the mirror to retry from after primary failed: the
// default mirror, or the first other healthy mirror when primary is the
// default.
func (a *Acquirer) fallbackFor(primary Mirror) (Mirror, bool) {
	if primary.Name != a.defaultMirror {
		if m, ok := a.mirror(a.defaultMirror); ok {
			return m, true
		}
	}
	var others []Mirror
	for _, m := range a.mirrors {
		if m.Name != primary.Name {
			others = append(others, m)
		}
	}
	for _, m := range others {
		if a.breakers.Get(m.Name).Allow() {
			return m, true
		}
	}
	if len(others) > 0 {
		return others[0], true
	}
	return Mirror{}, false
}
