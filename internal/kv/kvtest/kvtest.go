// Package kvtest holds contract tests every kv.Store backend must pass.
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsclarke/echohook/internal/kv"
)

// Run exercises newStore against the Store contract. newStore must return an
// empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) kv.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s kv.Store)
	}{
		{"GetMissing", testGetMissing},
		{"PutGetDelete", testPutGetDelete},
		{"PutOverwrites", testPutOverwrites},
		{"ListPrefix", testListPrefix},
		{"ListPrefixIsLiteral", testListPrefixIsLiteral},
		{"ApplyAtomic", testApplyAtomic},
		{"ApplyIfAbsent", testApplyIfAbsent},
		{"ApplyIfMatch", testApplyIfMatch},
		{"ApplyConcurrentCAS", testApplyConcurrentCAS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testGetMissing(t *testing.T, s kv.Store) {
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testPutGetDelete(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "bin:1", []byte(`{"id":"1"}`)))

	v, err := s.Get(ctx, "bin:1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, string(v))

	require.NoError(t, s.Delete(ctx, "bin:1"))
	_, err = s.Get(ctx, "bin:1")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	// Deleting again is not an error.
	assert.NoError(t, s.Delete(ctx, "bin:1"))
}

func testPutOverwrites(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("a")))
	require.NoError(t, s.Put(ctx, "k", []byte("b")))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "b", string(v))
}

func testListPrefix(t *testing.T, s kv.Store) {
	ctx := context.Background()
	keys := []string{"request:a:1", "request:a:2", "request:ab:1", "request:b:1", "bin:a"}
	for _, k := range keys {
		require.NoError(t, s.Put(ctx, k, []byte(k)))
	}

	got, err := s.List(ctx, "request:a:")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "request:a:1", string(got["request:a:1"]))
	assert.Equal(t, "request:a:2", string(got["request:a:2"]))

	got, err = s.List(ctx, "nothing:")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testListPrefixIsLiteral(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "token:x", []byte("1")))
	require.NoError(t, s.Put(ctx, "Token:y", []byte("2")))
	require.NoError(t, s.Put(ctx, "token_lookup:z", []byte("3")))

	got, err := s.List(ctx, "token:")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "token:x")

	got, err = s.List(ctx, "tok*")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testApplyAtomic(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "gone", []byte("x")))

	err := s.Apply(ctx,
		kv.Put("one", []byte("1")),
		kv.Put("two", []byte("2")),
		kv.Delete("gone"),
	)
	require.NoError(t, err)

	for k, want := range map[string]string{"one": "1", "two": "2"} {
		v, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, want, string(v))
	}
	_, err = s.Get(ctx, "gone")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testApplyIfAbsent(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "taken", []byte("old")))

	err := s.Apply(ctx,
		kv.Put("fresh", []byte("new")),
		kv.Put("taken", []byte("new")).IfAbsent(),
	)
	assert.ErrorIs(t, err, kv.ErrConflict)

	// Nothing from the failed batch was written.
	_, err = s.Get(ctx, "fresh")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	v, err := s.Get(ctx, "taken")
	require.NoError(t, err)
	assert.Equal(t, "old", string(v))

	require.NoError(t, s.Apply(ctx, kv.Put("fresh", []byte("new")).IfAbsent()))
}

func testApplyIfMatch(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "counter", []byte("1")))

	err := s.Apply(ctx, kv.Put("counter", []byte("3")).IfMatch([]byte("2")))
	assert.ErrorIs(t, err, kv.ErrConflict)

	require.NoError(t, s.Apply(ctx, kv.Put("counter", []byte("2")).IfMatch([]byte("1"))))
	v, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))

	err = s.Apply(ctx, kv.Put("absent", []byte("x")).IfMatch([]byte("x")))
	assert.ErrorIs(t, err, kv.ErrConflict)
}

// testApplyConcurrentCAS checks that compare-and-swap increments from
// concurrent writers are never lost.
func testApplyConcurrentCAS(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "n", []byte("0")))

	const workers, perWorker = 4, 10
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				for {
					cur, err := s.Get(ctx, "n")
					if err != nil {
						t.Errorf("get: %v", err)
						return
					}
					var n int
					_, _ = fmt.Sscanf(string(cur), "%d", &n)
					next := []byte(fmt.Sprintf("%d", n+1))
					err = s.Apply(ctx, kv.Put("n", next).IfMatch(cur))
					if err == nil {
						break
					}
					if !errors.Is(err, kv.ErrConflict) {
						t.Errorf("apply: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	v, err := s.Get(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", workers*perWorker), string(v))
}
