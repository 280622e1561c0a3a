package resilienttelemetry

import (
	"context"
	"testing"
	"time"

	"github.com/opengovern/resilient-telemetry/eventcache"
	"github.com/opengovern/resilient-telemetry/internal/mockserver"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) *Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = "project-key"
	cfg.InitialDelay = 2 * time.Millisecond
	cfg.MaxDelay = 10 * time.Millisecond
	cfg.TotalTimeout = 5 * time.Second
	cfg.TickInterval = time.Millisecond
	cfg.FlushInterval = 0
	return cfg
}

func runSDK(t *testing.T, s *SDK) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
}

func TestSDKFlushesCachedEventsAtStartup(t *testing.T) {
	server := mockserver.New("project-key")
	defer server.Close()

	logger, _ := test.NewNullLogger()
	store := eventcache.NewMemoryStore()
	require.NoError(t, store.Write(eventcache.DefaultKey, []byte(`{"events":[{"identifier":"old-1"},{"identifier":"old-2"}]}`)))

	s, err := New(testConfig(server.URL()), WithStore(store), WithLogger(logger))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 2, s.Events().Pending())

	runSDK(t, s)
	require.Eventually(t, func() bool { return len(server.Events()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Events().Pending())
}

func TestSDKRecordEventOfflineThenFlush(t *testing.T) {
	server := mockserver.New("project-key")
	defer server.Close()
	server.Fail("/events", 503, 503, 503, 503)

	logger, _ := test.NewNullLogger()
	s, err := New(testConfig(server.URL()), WithStore(eventcache.NewMemoryStore()), WithLogger(logger))
	require.NoError(t, err)
	defer s.Close()
	runSDK(t, s)

	select {
	case err := <-s.RecordEvent(context.Background(), Event{EventType: "custom", EventName: "level_up"}):
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("record did not finish")
	}
	assert.Equal(t, 1, s.Events().Pending())

	ch := s.Flush(context.Background())
	require.NotNil(t, ch)
	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not finish")
	}

	events := server.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "level_up", events[0].EventName)
}

func TestSDKCloseSavesPendingEvents(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := eventcache.NewMemoryStore()
	cfg := testConfig("http://127.0.0.1:1")

	s, err := New(cfg, WithStore(store), WithLogger(logger))
	require.NoError(t, err)

	s.Events().CacheEvent(Event{Identifier: "pending"})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	data, err := store.Read(eventcache.DefaultKey)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pending"`)
}

func TestSDKRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = ""
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestSDKWithMetricsObserver(t *testing.T) {
	server := mockserver.New("project-key")
	defer server.Close()

	logger, _ := test.NewNullLogger()
	obs := &countingObserver{}
	s, err := New(testConfig(server.URL()), WithStore(eventcache.NewMemoryStore()), WithLogger(logger), WithObserver(obs))
	require.NoError(t, err)
	defer s.Close()
	runSDK(t, s)

	_, err = s.API().TestConnection(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, obs.attempts.Load())
}

func TestSDKRecordEventAfterClose(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := eventcache.NewMemoryStore()
	s, err := New(testConfig("http://127.0.0.1:1"), WithStore(store), WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	select {
	case err := <-s.RecordEvent(context.Background(), Event{Identifier: "after-close"}):
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("record did not finish")
	}

	data, err := store.Read(eventcache.DefaultKey)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"after-close"`)
}
