package storage

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(context.Background(), t.TempDir(), "example.com", false, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func pageURL(raw string) models.URL {
	return models.URL{URL: raw, Normalized: raw, Type: models.TypeWebpage}
}

func TestNewBadgerStore(t *testing.T) {
	t.Run("fresh store is empty", func(t *testing.T) {
		store := newTestStore(t)
		assert.Equal(t, 0, store.CacheCount())
		_, found, err := store.LatestSession()
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("reopen keeps cache", func(t *testing.T) {
		dir := t.TempDir()
		store1, err := NewBadgerStore(context.Background(), dir, "example.com", false, testLogger())
		require.NoError(t, err)
		require.NoError(t, store1.UpdateCache(pageURL("https://example.com/a"), &models.CacheEntry{ETag: "x"}))
		require.NoError(t, store1.Close())

		store2, err := NewBadgerStore(context.Background(), dir, "example.com", false, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { store2.Close() })
		assert.Equal(t, 1, store2.CacheCount())
	})

	t.Run("reset wipes data", func(t *testing.T) {
		dir := t.TempDir()
		store1, err := NewBadgerStore(context.Background(), dir, "example.com", false, testLogger())
		require.NoError(t, err)
		require.NoError(t, store1.UpdateCache(pageURL("https://example.com/a"), &models.CacheEntry{ETag: "x"}))
		require.NoError(t, store1.Close())

		store2, err := NewBadgerStore(context.Background(), dir, "example.com", true, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { store2.Close() })
		assert.Equal(t, 0, store2.CacheCount())
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewBadgerStore(ctx, t.TempDir(), "example.com", false, testLogger())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBadgerStore_Cache(t *testing.T) {
	store := newTestStore(t)
	u := pageURL("https://example.com/page")

	lm, data, found := store.GetLastModifiedAndData(u)
	assert.False(t, found)
	assert.True(t, lm.IsZero())
	assert.Nil(t, data)

	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entry := &models.CacheEntry{
		URL:          u.URL,
		LastModified: modified,
		ETag:         `"abc"`,
		ContentHash:  utils.HashBytes([]byte("<html></html>")),
		Data:         []byte("<html></html>"),
		FetchedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.UpdateCache(u, entry))
	assert.Equal(t, 1, store.CacheCount())

	lm, data, found = store.GetLastModifiedAndData(u)
	require.True(t, found)
	assert.True(t, modified.Equal(lm))
	assert.Equal(t, []byte("<html></html>"), data)

	got, err := store.GetCacheEntry(u)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, `"abc"`, got.ETag)
	assert.Equal(t, entry.ContentHash, got.ContentHash)

	// Overwriting does not change the count
	entry.ETag = `"def"`
	require.NoError(t, store.UpdateCache(u, entry))
	assert.Equal(t, 1, store.CacheCount())
	got, err = store.GetCacheEntry(u)
	require.NoError(t, err)
	assert.Equal(t, `"def"`, got.ETag)
}

func TestBadgerStore_CacheKeyFallsBackToURL(t *testing.T) {
	store := newTestStore(t)
	u := models.URL{URL: "https://example.com/raw"}
	require.NoError(t, store.UpdateCache(u, &models.CacheEntry{ETag: "e"}))

	got, err := store.GetCacheEntry(models.URL{URL: "https://example.com/raw", Normalized: "https://example.com/raw"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "e", got.ETag)
}

func TestBadgerStore_ConcurrentCacheUpdates(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := pageURL("https://example.com/shared")
			assert.NoError(t, store.UpdateCache(u, &models.CacheEntry{ETag: string(rune('a' + i))}))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.CacheCount())
}

func TestBadgerStore_Snapshots(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadSnapshot("missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	assert.Error(t, store.SaveSnapshot(&models.Snapshot{}), "snapshot without ID must be rejected")

	first := &models.Snapshot{
		SessionID: "first",
		URLs:      []models.URL{{Index: 0, URL: "https://example.com/", ParentIndex: -1}},
		FetchQueue: []*models.QueueEntry{
			{Priority: 0, Collection: &models.Collection{Source: 0}},
		},
		Failed: []int{3},
	}
	require.NoError(t, store.SaveSnapshot(first))

	second := &models.Snapshot{SessionID: "second", Workers: []models.WorkerState{{
		Role:    models.RoleFetcher,
		Slot:    2,
		Pending: map[int][]byte{4: []byte("body")},
	}}}
	require.NoError(t, store.SaveSnapshot(second))

	id, found, err := store.LatestSession()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", id)

	got, err := store.LoadSnapshot("first")
	require.NoError(t, err)
	assert.Equal(t, first.URLs, got.URLs)
	require.Len(t, got.FetchQueue, 1)
	assert.Equal(t, 0, got.FetchQueue[0].Collection.Source)
	assert.Equal(t, []int{3}, got.Failed)

	got, err = store.LoadSnapshot("second")
	require.NoError(t, err)
	require.Len(t, got.Workers, 1)
	assert.Equal(t, []byte("body"), got.Workers[0].Pending[4])
}

func TestBadgerStore_CloseIsIdempotent(t *testing.T) {
	store, err := NewBadgerStore(context.Background(), t.TempDir(), "example.com", false, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestBadgerStore_RunGCStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.RunGC(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC did not return after cancellation")
	}
}
