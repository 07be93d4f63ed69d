// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache provides the content-addressed store that lets repeated runs
// skip resolution, acquisition, and extraction work already done.
//
// Entries are immutable: a key is derived from the stage name and the
// stage's upstream identity, so two writers for one key always carry the
// same value and the first write wins.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Stage names used as key prefixes.
const (
	StageResolve = "resolve"
	StageAcquire = "acquire"
	StageExtract = "extract"
)

// Store is the cache interface the pipeline stages depend on.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key. Putting an existing key is a no-op.
	Put(ctx context.Context, key string, value []byte) error
}

// Key returns the hex SHA-256 of stage and parts joined by NUL bytes. The
// stage name is kept as a readable prefix so entries can be counted and
// cleared per stage.
func Key(stage string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(stage))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return stage + ":" + hex.EncodeToString(h.Sum(nil))
}

// StageOf returns the stage prefix of a key produced by Key.
func StageOf(key string) string {
	stage, _, ok := strings.Cut(key, ":")
	if !ok {
		return ""
	}
	return stage
}

// GetJSON loads key into v. It reports false on a miss.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding cache entry %s: %w", key, err)
	}
	return true, nil
}

// PutJSON stores v under key as JSON.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache entry %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// Memory is an in-process Store, mostly for tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return nil
	}
	m.entries[key] = append([]byte(nil), value...)
	return nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Nop is a Store that never hits and discards writes.
type Nop struct{}

// Get implements Store.
func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Put implements Store.
func (Nop) Put(context.Context, string, []byte) error { return nil }
