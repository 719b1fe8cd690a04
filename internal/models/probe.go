package models

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

// probe races a HEAD request against every healthy mirror and returns the
// first to answer with 2xx. The losers are cancelled, and every probe has
// finished by the time probe returns. Without a winner the default mirror
// is used, unless its breaker is open.
func (a *Acquirer) probe(ctx context.Context, canonical string) Mirror {
	names := make([]string, len(a.mirrors))
	for i, m := range a.mirrors {
		names[i] = m.Name
	}
	healthy := a.breakers.Allowed(names)

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(raceCtx)

	var (
		once   sync.Once
		winner Mirror
		found  bool
	)
	for _, name := range healthy {
		m, _ := a.mirror(name)
		g.Go(func() error {
			err := a.head(gctx, m, canonical)
			switch {
			case err == nil:
				a.metrics.RecordMirrorProbe(ctx, m.Name, "ok")
				once.Do(func() {
					winner, found = m, true
					cancel()
				})
			case errors.Is(err, context.Canceled) && raceCtx.Err() != nil:
				a.metrics.RecordMirrorProbe(ctx, m.Name, "cancelled")
			default:
				a.metrics.RecordMirrorProbe(ctx, m.Name, "error")
			}
			return nil
		})
	}
	_ = g.Wait()

	if found {
		return winner
	}
	if def, ok := a.mirror(a.defaultMirror); ok && a.breakers.Get(def.Name).Allow() {
		return def
	}
	if len(healthy) > 0 {
		m, _ := a.mirror(healthy[0])
		return m
	}
	if def, ok := a.mirror(a.defaultMirror); ok {
		return def
	}
	return a.mirrors[0]
}

func (a *Acquirer) head(ctx context.Context, m Mirror, canonical string) error {
	ctx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	u, err := m.Resolve(canonical)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New(resp.Status)
	}
	return nil
}
