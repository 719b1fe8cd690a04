package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// fetch streams model m from mirror into dest, reporting progress per chunk.
func (a *Acquirer) fetch(ctx context.Context, m Model, mirror Mirror, dest string, sink ProgressFunc) error {
	u, err := mirror.Resolve(m.URL)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "typeless")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", mirror.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned %s", mirror.Name, resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	pw := &progressWriter{
		acq:    a,
		ctx:    ctx,
		model:  m,
		mirror: mirror.Name,
		total:  resp.ContentLength,
		sink:   sink,
	}
	a.update(m.ID, func(t *Task) { t.BytesTotal = resp.ContentLength })

	_, copyErr := io.Copy(io.MultiWriter(out, pw), resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("%s: read body: %w", mirror.Name, copyErr)
	}
	if closeErr != nil {
		return closeErr
	}
	if pw.total > 0 && pw.written != pw.total {
		return fmt.Errorf("%s: truncated body: got %d of %d bytes", mirror.Name, pw.written, pw.total)
	}
	return nil
}

type progressWriter struct {
	acq     *Acquirer
	ctx     context.Context
	model   Model
	mirror  string
	written int64
	total   int64
	sink    ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	p.acq.metrics.DownloadBytes.Add(p.ctx, int64(len(b)))

	written := p.written
	p.acq.update(p.model.ID, func(t *Task) { t.BytesWritten = written })
	if p.sink != nil {
		p.sink(Progress{
			ModelID: p.model.ID,
			Mirror:  p.mirror,
			Written: p.written,
			Total:   p.total,
			Message: progressMessage(p.model.Name, p.written, p.total),
		})
	}
	return len(b), nil
}
