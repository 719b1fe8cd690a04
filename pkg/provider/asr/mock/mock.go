// Package mock provides a test double for asr.Engine.
//
// Script the results returned by successive Transcribe calls with Results;
// once the script is exhausted the last entry is repeated. Calls records every
// invocation so tests can assert on temperatures and on concurrency.
//
// Example:
//
//	e := &mock.Engine{Results: []mock.Result{{Err: errBoom}, {Text: "hi"}}}
//	text, _ := e.Transcribe(ctx, samples, asr.DecodeOptions{})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/typeless/pkg/provider/asr"
)

var _ asr.Engine = (*Engine)(nil)

// Result is one scripted Transcribe outcome.
type Result struct {
	Text string
	Err  error
}

// Call records a single Transcribe invocation.
type Call struct {
	Samples int
	Opts    asr.DecodeOptions
}

// Engine is a mock implementation of asr.Engine.
type Engine struct {
	mu sync.Mutex

	// Results is consumed in order by Transcribe.
	Results []Result

	// Delay, if positive, is slept inside Transcribe to widen race windows.
	Delay time.Duration

	// Calls records every call to Transcribe.
	Calls []Call

	// Closed is set by Close.
	Closed bool

	inFlight    int
	maxInFlight int
}

// Transcribe records the call and returns the next scripted result.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, opts asr.DecodeOptions) (string, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, Call{Samples: len(samples), Opts: opts})
	e.inFlight++
	e.maxInFlight = max(e.maxInFlight, e.inFlight)
	var r Result
	if n := len(e.Results); n > 0 {
		r = e.Results[0]
		if n > 1 {
			e.Results = e.Results[1:]
		}
	}
	delay := e.Delay
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()
	return r.Text, r.Err
}

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closed = true
	return nil
}

// CallCount returns the number of Transcribe calls so far.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// MaxConcurrent returns the highest number of Transcribe calls that were in
// flight at the same time.
func (e *Engine) MaxConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxInFlight
}

// Factory returns an asr.Factory that always yields e, or err when non-nil.
func Factory(e *Engine, err error) asr.Factory {
	return func(asr.ModelFiles) (asr.Engine, error) {
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}
