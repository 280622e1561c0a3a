package resilienttelemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opengovern/resilient-telemetry/eventcache"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned for events recorded after the manager was closed.
var ErrClosed = errors.New("resilienttelemetry: event manager closed")

// EventManager delivers events and keeps the ones that could not be sent in
// the event cache until the next flush.
type EventManager struct {
	cache  *eventcache.Cache
	sender EventSender
	logger logrus.FieldLogger

	inFlight atomic.Bool

	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
}

func NewEventManager(cache *eventcache.Cache, sender EventSender, logger logrus.FieldLogger) *EventManager {
	if cache == nil || sender == nil {
		panic("resilienttelemetry: event manager needs a cache and a sender")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EventManager{
		cache:  cache,
		sender: sender,
		logger: logger.WithField("component", "events"),
	}
}

// CacheEvent queues ev for the next flush.
func (m *EventManager) CacheEvent(ev Event) {
	m.cache.CacheEvent(ev)
}

// RecordEvent sends ev right away on its own goroutine. A failed send queues
// the event for a later flush. The returned channel yields the send error
// once, for callers that want to observe it. After close the event is only
// persisted and the channel yields ErrClosed.
func (m *EventManager) RecordEvent(ctx context.Context, ev Event) <-chan error {
	if ev.Identifier == "" {
		ev.Identifier = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	done := make(chan error, 1)
	if !m.track() {
		m.cache.CacheEvent(ev)
		if err := m.cache.SaveEventsToCache(); err != nil {
			m.logger.WithError(err).Error("failed to persist event recorded after close")
		}
		done <- ErrClosed
		close(done)
		return done
	}
	go func() {
		defer m.active.Done()
		defer close(done)
		err := m.sender.SendEvent(ctx, ev)
		if err != nil {
			m.logger.WithError(err).WithField("event", ev.EventName).Debug("failed to send event, caching it")
			m.cache.CacheEvent(ev)
		}
		done <- err
	}()
	return done
}

// TrySendCachedEvents drains the cache and sends the events as one batch.
// It returns nil without doing anything when a batch is already in flight or
// nothing is pending. Otherwise the returned channel yields the batch error
// once. The drain and the send both run on their own goroutine; failed
// batches are re-queued.
func (m *EventManager) TrySendCachedEvents(ctx context.Context) <-chan error {
	if m.cache.Len() == 0 {
		return nil
	}
	if !m.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	if !m.track() {
		m.inFlight.Store(false)
		return nil
	}

	done := make(chan error, 1)
	go func() {
		defer m.active.Done()
		var (
			pending []Event
			err     error
		)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic while sending cached events: %v", r)
				m.logger.WithError(err).Error("failed to send cached events")
				m.requeue(pending)
			}
			m.inFlight.Store(false)
			done <- err
			close(done)
		}()

		pending = m.cache.GetAndClearPendingEvents()
		if len(pending) == 0 {
			return
		}

		err = m.sender.SendEvents(ctx, pending)
		if err != nil {
			m.logger.WithError(err).Warnf("failed to send %d cached events, re-queueing", len(pending))
			m.requeue(pending)
			return
		}
		m.logger.Debugf("sent %d cached events", len(pending))
	}()
	return done
}

// SavePendingEvents persists whatever is queued.
func (m *EventManager) SavePendingEvents() error {
	return m.cache.SaveEventsToCache()
}

// Pending returns the number of queued events.
func (m *EventManager) Pending() int {
	return m.cache.Len()
}

// track registers a send goroutine. It fails once the manager is closed.
func (m *EventManager) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.active.Add(1)
	return true
}

// shutdown stops new sends and blocks until every started one has returned.
func (m *EventManager) shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.active.Wait()
}

func (m *EventManager) requeue(events []Event) {
	for _, ev := range events {
		m.cache.CacheEvent(ev)
	}
}
