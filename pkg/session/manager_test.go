package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speaknode/speaknode/pkg/graph"
	"github.com/speaknode/speaknode/pkg/schema"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), Options{
		StoreOptions: graph.Options{EmbeddingDim: 4},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCreateListDelete(t *testing.T) {
	m := newManager(t)

	id1, err := m.Create(Meta{Title: "first chat"})
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	id2, err := m.Create(Meta{ID: "custom", Title: "second chat"})
	require.NoError(t, err)
	assert.Equal(t, "custom", id2)

	_, err = m.Create(Meta{ID: "custom"})
	assert.ErrorIs(t, err, ErrScopeExists)

	scopes, err := m.List()
	require.NoError(t, err)
	assert.Len(t, scopes, 2)

	meta, err := m.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "second chat", meta.Title)

	require.NoError(t, m.Delete("custom"))
	_, err = m.Get("custom")
	assert.ErrorIs(t, err, ErrScopeNotFound)
	assert.ErrorIs(t, m.Delete("custom"), ErrScopeNotFound)
}

func TestScopeIDValidation(t *testing.T) {
	m := newManager(t)
	for _, bad := range []string{"../escape", "a/b", "a\\b", "has.dots"} {
		_, err := m.Create(Meta{ID: bad})
		assert.ErrorIs(t, err, ErrBadScopeID, "id %q", bad)
	}
}

func TestWithScopeOpensAndReuses(t *testing.T) {
	m := newManager(t)
	id, err := m.Create(Meta{Title: "chat"})
	require.NoError(t, err)

	ctx := context.Background()
	err = m.WithScope(ctx, id, func(ctx context.Context, store *graph.Store) error {
		_, err := store.Ingest(ctx, schema.Meeting{Title: "m"}, schema.AnalysisResult{
			Topics: []schema.Topic{{Title: "Budget"}},
		})
		return err
	})
	require.NoError(t, err)

	err = m.WithScope(ctx, id, func(_ context.Context, store *graph.Store) error {
		topics, err := store.Topics("")
		if err != nil {
			return err
		}
		assert.Len(t, topics, 1)
		return nil
	})
	require.NoError(t, err)

	err = m.WithScope(ctx, "missing", func(context.Context, *graph.Store) error { return nil })
	assert.ErrorIs(t, err, ErrScopeNotFound)
}

func TestDeleteRemovesStorage(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, Options{StoreOptions: graph.Options{EmbeddingDim: 4}})
	require.NoError(t, err)
	defer m.Close()

	id, err := m.Create(Meta{Title: "chat"})
	require.NoError(t, err)
	err = m.WithScope(context.Background(), id, func(ctx context.Context, store *graph.Store) error {
		_, err := store.Ingest(ctx, schema.Meeting{Title: "m"}, schema.AnalysisResult{})
		return err
	})
	require.NoError(t, err)

	require.NoError(t, m.Delete(id))
	_, statErr := os.Stat(filepath.Join(root, id))
	assert.True(t, os.IsNotExist(statErr), "scope directory removed")
}

func TestManagerRediscoversScopes(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, Options{StoreOptions: graph.Options{EmbeddingDim: 4}})
	require.NoError(t, err)
	id, err := m.Create(Meta{Title: "persisted chat"})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	reopened, err := NewManager(root, Options{StoreOptions: graph.Options{EmbeddingDim: 4}})
	require.NoError(t, err)
	defer reopened.Close()

	meta, err := reopened.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "persisted chat", meta.Title)
}

func TestSameScopeSerializes(t *testing.T) {
	m := newManager(t)
	id, err := m.Create(Meta{Title: "chat"})
	require.NoError(t, err)

	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	firstInside := make(chan struct{})
	releaseFirst := make(chan struct{})
	done := make(chan struct{}, 2)

	go func() {
		_ = m.WithScope(context.Background(), id, func(context.Context, *graph.Store) error {
			record("first start")
			close(firstInside)
			<-releaseFirst
			record("first end")
			return nil
		})
		done <- struct{}{}
	}()

	<-firstInside
	go func() {
		_ = m.WithScope(context.Background(), id, func(context.Context, *graph.Store) error {
			record("second start")
			return nil
		})
		done <- struct{}{}
	}()

	// Give the second operation a chance to (incorrectly) enter.
	time.Sleep(50 * time.Millisecond)
	close(releaseFirst)
	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first start", "first end", "second start"}, events)
}

func TestDifferentScopesDoNotBlock(t *testing.T) {
	m := newManager(t)
	idA, err := m.Create(Meta{Title: "a"})
	require.NoError(t, err)
	idB, err := m.Create(Meta{Title: "b"})
	require.NoError(t, err)

	aInside := make(chan struct{})
	releaseA := make(chan struct{})
	go func() {
		_ = m.WithScope(context.Background(), idA, func(context.Context, *graph.Store) error {
			close(aInside)
			<-releaseA
			return nil
		})
	}()
	<-aInside

	// Scope B must proceed while A's lock is held.
	bDone := make(chan error, 1)
	go func() {
		bDone <- m.WithScope(context.Background(), idB, func(context.Context, *graph.Store) error {
			return nil
		})
	}()

	select {
	case err := <-bDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("operation on a different scope blocked")
	}
	close(releaseA)
}

func TestWithScopeHonorsContext(t *testing.T) {
	m := newManager(t)
	id, err := m.Create(Meta{Title: "chat"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = m.WithScope(ctx, id, func(context.Context, *graph.Store) error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
