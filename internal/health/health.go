// Package health serves the liveness and readiness endpoints of the daemon.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 once every [Checker] passes, typically when the
//     keyboard listener is running and the speech engine has warmed up.
//
// Both respond with {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// Checker is a named readiness probe. Check returns nil when ready.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Signal reports ready once ch is closed, e.g. hotkey.Monitor.Ready().
func Signal(name string, ch <-chan struct{}) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		select {
		case <-ch:
			return nil
		default:
			return errors.New("not started")
		}
	}}
}

// StatusReporter describes a component with a named lifecycle state.
type StatusReporter interface {
	Ready() bool
	Status() string
}

// Status reports ready while r does, and its status otherwise.
func Status(name string, r StatusReporter) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if r.Ready() {
			return nil
		}
		return fmt.Errorf("status %s", r.Status())
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler is safe for concurrent use; its checkers are fixed by [New].
type Handler struct {
	checkers []Checker
}

// New returns a handler evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently and answers 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			errs[i] = c.Check(ctx)
		}()
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
