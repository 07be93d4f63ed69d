// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit provides the token-bucket limiter shared by every worker
// that calls an external API during one pipeline run.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per external API. Build one per pipeline
// run and pass it to each component that calls out; it is safe for
// concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rpm     map[string]float64

	// defaultRPM applies to APIs with no configured rate; 0 means unlimited.
	defaultRPM float64
}

// New creates a Limiter from requests-per-minute settings keyed by API name.
// APIs with no entry use defaultRPM.
func New(rpm map[string]float64, defaultRPM float64) *Limiter {
	cp := make(map[string]float64, len(rpm))
	for k, v := range rpm {
		cp[k] = v
	}
	return &Limiter{
		buckets:    make(map[string]*rate.Limiter),
		rpm:        cp,
		defaultRPM: defaultRPM,
	}
}

// Unlimited returns a Limiter that never waits.
func Unlimited() *Limiter {
	return New(nil, 0)
}

// Wait blocks until api has budget for one request. It only fails when ctx
// is done before budget becomes available.
func (l *Limiter) Wait(ctx context.Context, api string) error {
	if l == nil {
		return ctx.Err()
	}
	if err := l.bucket(api).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter %s: %w", api, err)
	}
	return nil
}

// RPM returns the configured requests per minute for api (0 = unlimited).
func (l *Limiter) RPM(api string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.rpm[api]; ok {
		return v
	}
	return l.defaultRPM
}

func (l *Limiter) bucket(api string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[api]; ok {
		return b
	}

	rpm, ok := l.rpm[api]
	if !ok {
		rpm = l.defaultRPM
	}

	var b *rate.Limiter
	if rpm <= 0 {
		b = rate.NewLimiter(rate.Inf, 1)
	} else {
		b = rate.NewLimiter(rate.Limit(rpm/60), 1)
	}
	l.buckets[api] = b
	return b
}
