// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWait_UnlimitedNeverBlocks(t *testing.T) {
	l := Unlimited()
	ctx := context.Background()

	start := time.Now()
	for range 100 {
		require.NoError(t, l.Wait(ctx, "semantic_scholar"))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestWait_SuspendsUntilBudget(t *testing.T) {
	// 600 rpm = one request every 100ms with a burst of one.
	l := New(map[string]float64{"api": 600}, 0)
	ctx := context.Background()

	start := time.Now()
	for range 3 {
		require.NoError(t, l.Wait(ctx, "api"))
	}
	// First is immediate, the next two wait ~100ms each.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestWait_BucketsAreIndependent(t *testing.T) {
	l := New(map[string]float64{"slow": 1}, 0)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "slow"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "fast"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWait_ContextCancelledWhileWaiting(t *testing.T) {
	l := New(map[string]float64{"api": 1}, 0)
	require.NoError(t, l.Wait(context.Background(), "api"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "api"))
}

func TestWait_SharedAcrossWorkers(t *testing.T) {
	l := New(map[string]float64{"api": 1200}, 0) // one per 50ms
	ctx := context.Background()

	var wg sync.WaitGroup
	start := time.Now()
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Wait(ctx, "api"))
		}()
	}
	wg.Wait()
	// Four requests through one bucket need at least three intervals.
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestRPM_DefaultApplies(t *testing.T) {
	l := New(map[string]float64{"a": 30}, 90)
	assert.Equal(t, 30.0, l.RPM("a"))
	assert.Equal(t, 90.0, l.RPM("b"))
}

func TestWait_NilLimiter(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background(), "anything"))
}
