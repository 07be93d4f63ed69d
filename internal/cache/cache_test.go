// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Deterministic(t *testing.T) {
	a := Key(StageExtract, "doc-hash", "schema-hash")
	b := Key(StageExtract, "doc-hash", "schema-hash")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "extract:"))
}

func TestKey_DistinguishesPartsAndStages(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"different stage", Key(StageResolve, "x"), Key(StageAcquire, "x")},
		{"different schema", Key(StageExtract, "d", "s1"), Key(StageExtract, "d", "s2")},
		{"part boundaries", Key(StageExtract, "ab", "c"), Key(StageExtract, "a", "bc")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, tt.a, tt.b)
		})
	}
}

func TestStageOf(t *testing.T) {
	assert.Equal(t, "acquire", StageOf(Key(StageAcquire, "doi:10.1/x")))
	assert.Equal(t, "", StageOf("no-prefix"))
}

// storeContract runs the Store behaviour every implementation must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	key := Key(StageResolve, "ref")

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, key, []byte("first")))
	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", string(got))

	// Entries are immutable: a second put for the same key is ignored.
	require.NoError(t, s.Put(ctx, key, []byte("second")))
	got, _, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
}

func TestMemory_Contract(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestSQLite_Contract(t *testing.T) {
	s, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)
}

func TestSQLite_DurableAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := Key(StageAcquire, "doi:10.1234/example")

	s, err := OpenSQLite(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, key, []byte("pdf")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(dir)
	require.NoError(t, err)
	defer s.Close()

	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pdf", string(got))
}

func TestSQLite_StatsAndClear(t *testing.T) {
	s, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Key(StageResolve, "a"), []byte("1")))
	require.NoError(t, s.Put(ctx, Key(StageResolve, "b"), []byte("2")))
	require.NoError(t, s.Put(ctx, Key(StageExtract, "c"), []byte("3")))

	counts, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"resolve": 2, "extract": 1}, counts)

	n, err := s.Clear(ctx, StageResolve)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"extract": 1}, counts)

	n, err = s.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLite_ConcurrentIdenticalWrites(t *testing.T) {
	s, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	key := Key(StageExtract, "same")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, key, []byte("value")))
		}()
	}
	wg.Wait()

	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", string(got))
}

func TestJSONHelpers(t *testing.T) {
	type entry struct {
		Title string
		Year  int
	}
	ctx := context.Background()
	s := NewMemory()
	key := Key(StageResolve, "json")

	var out entry
	ok, err := GetJSON(ctx, s, key, &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, PutJSON(ctx, s, key, entry{Title: "Cores", Year: 2020}))
	ok, err = GetJSON(ctx, s, key, &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry{Title: "Cores", Year: 2020}, out)
}

func TestGetJSON_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	key := Key(StageResolve, "bad")
	require.NoError(t, s.Put(ctx, key, []byte("{not json")))

	var out map[string]any
	_, err := GetJSON(ctx, s, key, &out)
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var s Nop
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func ExampleKey() {
	fmt.Println(StageOf(Key(StageExtract, "doc", "schema")))
	// Output: extract
}
