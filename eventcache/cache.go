// Package eventcache buffers telemetry events that could not be delivered
// yet and persists them so they survive a restart.
package eventcache

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultKey is where the cache file lives relative to the store root.
const DefaultKey = "telemetry/cache/EventCache.json"

const DefaultMaxCachedEvents = 50

// Event is one telemetry record as sent to the backend.
type Event struct {
	Identifier string         `json:"identifier"`
	EventType  string         `json:"event_type"`
	EventName  string         `json:"event_name"`
	Payloads   map[string]any `json:"payloads,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type cacheFile struct {
	Events []Event `json:"events"`
}

type Options struct {
	Enabled         bool
	MaxCachedEvents int    // Pending count at which the cache persists itself
	Key             string // Defaults to DefaultKey
}

// Cache is a process-wide pending-event queue. It is safe for concurrent use.
type Cache struct {
	store  Store
	opts   Options
	logger logrus.FieldLogger

	mu      sync.Mutex
	pending []Event
}

// New creates the cache and loads anything persisted earlier. A missing or
// unreadable cache file results in an empty cache.
func New(store Store, opts Options, logger logrus.FieldLogger) *Cache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.MaxCachedEvents <= 0 {
		opts.MaxCachedEvents = DefaultMaxCachedEvents
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	c := &Cache{
		store:  store,
		opts:   opts,
		logger: logger.WithField("component", "eventcache"),
	}
	if opts.Enabled {
		c.load()
	}
	return c
}

func (c *Cache) load() {
	data, err := c.store.Read(c.opts.Key)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		c.logger.WithError(err).Warn("failed to read cached events")
		return
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		c.logger.WithError(err).Warn("cached events are corrupt, ignoring them")
		return
	}

	c.mu.Lock()
	c.pending = append(c.pending, file.Events...)
	c.mu.Unlock()
	c.logger.Debugf("loaded %d cached events", len(file.Events))
}

// CacheEvent queues ev. Once the queue reaches MaxCachedEvents it is
// written to the store. Does nothing when the cache is disabled.
func (c *Cache) CacheEvent(ev Event) {
	if !c.opts.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, ev)
	if len(c.pending) >= c.opts.MaxCachedEvents {
		c.saveLocked()
	}
}

// GetAndClearPendingEvents drains the queue and clears the persisted copy.
// The queue is only emptied once the store call has returned, so a store
// that panics leaves the events queued.
func (c *Cache) GetAndClearPendingEvents() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(c.opts.Key); err != nil {
		c.logger.WithError(err).Warn("failed to clear cached events")
	}

	events := c.pending
	c.pending = nil
	return events
}

// SaveEventsToCache writes the current queue to the store.
func (c *Cache) SaveEventsToCache() error {
	if !c.opts.Enabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Cache) saveLocked() error {
	if len(c.pending) == 0 {
		return nil
	}
	data, err := json.Marshal(cacheFile{Events: c.pending})
	if err != nil {
		c.logger.WithError(err).Error("failed to encode cached events")
		return err
	}
	if err := c.store.Write(c.opts.Key, data); err != nil {
		c.logger.WithError(err).Error("failed to persist cached events")
		return err
	}
	c.logger.Debugf("persisted %d cached events", len(c.pending))
	return nil
}

// Len returns the number of pending events.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Cache) Enabled() bool {
	return c.opts.Enabled
}
