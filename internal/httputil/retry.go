// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared across stages: a configured
// client, bounded retry state, and a 429-aware request loop.
package httputil

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// RetryBaseDelay is the backoff base used when a RetryState is created with
// a zero base. Tests override this to avoid real sleeps.
var RetryBaseDelay = 10 * time.Second

// ErrRetriesExhausted is returned when a RetryState has no tries left.
var ErrRetriesExhausted = errors.New("retry budget exhausted")

// RetryState is the explicit attempt state of one retried operation. Callers
// inspect Attempts and NextEligible directly instead of relying on a hidden
// wrapper.
type RetryState struct {
	// MaxAttempts is the total number of tries allowed (retries + 1).
	MaxAttempts int

	// Base is the first backoff; each later backoff doubles it.
	Base time.Duration

	// Attempts counts tries started so far.
	Attempts int

	// NextEligible is the earliest time the next try may start.
	NextEligible time.Time
}

// NewRetryState allows maxRetries retries after the first try. A zero or
// negative base falls back to RetryBaseDelay.
func NewRetryState(maxRetries int, base time.Duration) *RetryState {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = RetryBaseDelay
	}
	return &RetryState{MaxAttempts: maxRetries + 1, Base: base}
}

// Begin starts a try. It returns false when the budget is spent.
func (s *RetryState) Begin() bool {
	if s.Attempts >= s.MaxAttempts {
		return false
	}
	s.Attempts++
	return true
}

// CanRetry reports whether another try is allowed.
func (s *RetryState) CanRetry() bool {
	return s.Attempts < s.MaxAttempts
}

// Backoff returns the delay after the current try: Base, 2*Base, 4*Base...
func (s *RetryState) Backoff() time.Duration {
	n := max(s.Attempts-1, 0)
	return time.Duration(math.Pow(2, float64(n))) * s.Base
}

// Schedule sets NextEligible to now plus the current backoff and returns it.
func (s *RetryState) Schedule(now time.Time) time.Time {
	s.NextEligible = now.Add(s.Backoff())
	return s.NextEligible
}

// Wait blocks until NextEligible or until ctx is done.
func (s *RetryState) Wait(ctx context.Context) error {
	return Sleep(ctx, time.Until(s.NextEligible))
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Gate is called before every try, typically to take a rate-limit token.
// A nil Gate admits every try.
type Gate func(ctx context.Context) error

// DoWithRetry executes an HTTP request and retries on HTTP 429 (Too Many
// Requests) while state allows, sleeping for the state's backoff between
// tries. Every try, retries included, first passes gate. On each 429 the
// response body is drained and closed before sleeping. If the context is
// cancelled during a backoff wait the function returns ctx.Err(). After
// exhausting retries the last 429 response is returned so the caller can
// inspect it.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, state *RetryState, gate Gate) (*http.Response, error) {
	for state.Begin() {
		if gate != nil {
			if err := gate(ctx); err != nil {
				return nil, err
			}
		}
		resp, err := client.Do(req.Clone(ctx))
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests || !state.CanRetry() {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		state.Schedule(time.Now())
		if err := state.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return nil, ErrRetriesExhausted
}

// NewClient returns an HTTP client with the configured timeout.
func NewClient(cfg types.HTTPConfig) *http.Client {
	return &http.Client{Timeout: cfg.Timeout}
}
