package eventcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(i int) Event {
	return Event{
		Identifier: fmt.Sprintf("ev-%d", i),
		EventType:  "custom",
		EventName:  "level_complete",
		Payloads:   map[string]any{"level": float64(i)},
		Timestamp:  time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
	}
}

func TestRoundTripBelowThreshold(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := NewFileStore(t.TempDir())
	opts := Options{Enabled: true, MaxCachedEvents: 50}

	c := New(store, opts, logger)
	for i := 0; i < 10; i++ {
		c.CacheEvent(event(i))
	}
	_, err := store.Read(DefaultKey)
	assert.ErrorIs(t, err, ErrNotFound, "below threshold nothing is persisted")

	require.NoError(t, c.SaveEventsToCache())

	reloaded := New(store, opts, logger)
	got := reloaded.GetAndClearPendingEvents()
	require.Len(t, got, 10)
	for i, ev := range got {
		assert.Equal(t, event(i), ev)
	}
}

func TestThresholdPersists(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := NewMemoryStore()
	c := New(store, Options{Enabled: true, MaxCachedEvents: 3}, logger)

	c.CacheEvent(event(1))
	c.CacheEvent(event(2))
	_, err := store.Read(DefaultKey)
	assert.ErrorIs(t, err, ErrNotFound)

	c.CacheEvent(event(3))
	data, err := store.Read(DefaultKey)
	require.NoError(t, err)

	var file cacheFile
	require.NoError(t, json.Unmarshal(data, &file))
	assert.Len(t, file.Events, 3)
	assert.Equal(t, 3, c.Len())
}

func TestGetAndClearTwice(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := NewMemoryStore()
	c := New(store, Options{Enabled: true, MaxCachedEvents: 1}, logger)

	c.CacheEvent(event(1))
	assert.Len(t, c.GetAndClearPendingEvents(), 1)
	assert.Empty(t, c.GetAndClearPendingEvents())

	_, err := store.Read(DefaultKey)
	assert.ErrorIs(t, err, ErrNotFound, "draining clears the persisted copy")
}

func TestCorruptStoreLoadsEmpty(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := NewMemoryStore()
	require.NoError(t, store.Write(DefaultKey, []byte("{not json")))

	c := New(store, Options{Enabled: true}, logger)
	assert.Equal(t, 0, c.Len())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestDisabledCacheIgnoresEvents(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := NewMemoryStore()
	require.NoError(t, store.Write(DefaultKey, []byte(`{"events":[{"identifier":"x"}]}`)))

	c := New(store, Options{Enabled: false}, logger)
	assert.Equal(t, 0, c.Len(), "disabled cache does not load")

	c.CacheEvent(event(1))
	assert.Equal(t, 0, c.Len())
	assert.NoError(t, c.SaveEventsToCache())
}

func TestFileStoreLayout(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root)

	require.NoError(t, store.Write(DefaultKey, []byte(`{"events":[]}`)))
	_, err := os.Stat(filepath.Join(root, "telemetry", "cache", "EventCache.json"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "telemetry", "cache"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is renamed away")

	require.NoError(t, store.Delete(DefaultKey))
	require.NoError(t, store.Delete(DefaultKey))
	_, err = store.Read(DefaultKey)
	assert.ErrorIs(t, err, ErrNotFound)
}
