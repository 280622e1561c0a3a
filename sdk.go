// sdk.go
// ------
// The sdk.go file contains the SDK struct, the main entry point for hosts.
//
// Key functionalities include:
// - Wiring the heartbeat, request scheduler, resilient client, API, event
//   cache and event manager from a Config with New()
// - Driving the heartbeat, either from the host's frame loop (Tick) or from a
//   ticker goroutine (Run)
// - Recording events and flushing the offline cache
// - Shutting everything down with Close()
package resilienttelemetry

import (
	"context"
	"sync"
	"time"

	"github.com/opengovern/resilient-telemetry/eventcache"
	"github.com/opengovern/resilient-telemetry/internal/heartbeat"
	"github.com/opengovern/resilient-telemetry/transport"
	"github.com/sirupsen/logrus"
)

type options struct {
	transport transport.Transport
	store     eventcache.Store
	logger    logrus.FieldLogger
	observers []Observer
	refresher BearerRefresher
}

type Option func(*options)

// WithTransport replaces the default HTTP transport.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithStore replaces the store derived from Config.StoragePath.
func WithStore(s eventcache.Store) Option {
	return func(o *options) { o.store = s }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

func WithBearerRefresher(fn BearerRefresher) Option {
	return func(o *options) { o.refresher = fn }
}

type SDK struct {
	config    *Config
	logger    logrus.FieldLogger
	heartBeat *heartbeat.HeartBeat
	scheduler *transport.Scheduler
	client    *Client
	api       *API
	cache     *eventcache.Cache
	events    *EventManager

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func New(cfg *Config, opts ...Option) (*SDK, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}
	logger := o.logger
	if cfg.Debug {
		setDebug(logger, true)
	}

	if o.transport == nil {
		t, err := transport.NewHTTPTransport(transport.HTTPTransportConfig{
			ClientCertPath:     cfg.ClientCertPath,
			ClientCertPassword: cfg.ClientCertPassword,
			Compression:        cfg.Compression,
		})
		if err != nil {
			return nil, err
		}
		o.transport = t
	}
	if o.store == nil {
		if cfg.StoragePath != "" {
			o.store = eventcache.NewFileStore(cfg.StoragePath)
		} else {
			logger.Warn("no storage path configured, cached events will not survive a restart")
			o.store = eventcache.NewMemoryStore()
		}
	}

	hb := heartbeat.New(logger)
	scheduler := transport.NewScheduler(hb, o.transport, logger)

	client := NewClient(scheduler, cfg.RetryPolicy(), logger)
	if err := client.SetBaseURI(cfg.BackendURL()); err != nil {
		return nil, err
	}
	client.SetAPIKey(cfg.APIKey)
	client.SetBearerRefresher(o.refresher)
	for _, obs := range o.observers {
		client.AddObserver(obs)
	}

	api := NewAPI(client)
	cache := eventcache.New(o.store, eventcache.Options{
		Enabled:         cfg.EnableOfflineCache,
		MaxCachedEvents: cfg.MaxCachedEvents,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	s := &SDK{
		config:    cfg,
		logger:    logger.WithField("component", "sdk"),
		heartBeat: hb,
		scheduler: scheduler,
		client:    client,
		api:       api,
		cache:     cache,
		events:    NewEventManager(cache, api, logger),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.scheduleFlushes()

	s.logger.WithFields(logrus.Fields{
		"backend":       cfg.BackendURL(),
		"offline_cache": cfg.EnableOfflineCache,
		"cached_events": cache.Len(),
	}).Debug("sdk initialized")
	return s, nil
}

func (s *SDK) scheduleFlushes() {
	if !s.config.EnableOfflineCache {
		return
	}
	s.heartBeat.Wait(heartbeat.WaitAFrame(s.ctx, func() { s.events.TrySendCachedEvents(s.ctx) }))
	if s.config.FlushInterval > 0 {
		s.heartBeat.Wait(heartbeat.IndefiniteLoop(s.ctx, s.config.FlushInterval, func() {
			s.events.TrySendCachedEvents(s.ctx)
		}))
	}
}

// Tick advances the heartbeat by dt. Call it once per host frame.
func (s *SDK) Tick(dt time.Duration) {
	s.heartBeat.Tick(dt)
}

// Run drives the heartbeat at Config.TickInterval until ctx is done or the
// SDK is closed.
func (s *SDK) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	interval := s.config.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	s.heartBeat.Run(ctx, interval)
}

func (s *SDK) Client() *Client {
	return s.client
}

func (s *SDK) API() *API {
	return s.api
}

func (s *SDK) Events() *EventManager {
	return s.events
}

func (s *SDK) Config() *Config {
	return s.config.Clone()
}

// RecordEvent sends ev now and caches it on failure.
func (s *SDK) RecordEvent(ctx context.Context, ev Event) <-chan error {
	return s.events.RecordEvent(ctx, ev)
}

// Flush sends the cached events. See EventManager.TrySendCachedEvents.
func (s *SDK) Flush(ctx context.Context) <-chan error {
	return s.events.TrySendCachedEvents(ctx)
}

// SetDebug switches debug logging when the SDK owns a *logrus.Logger.
func (s *SDK) SetDebug(enabled bool) {
	setDebug(s.logger, enabled)
}

// Close persists pending events, completes outstanding requests with
// NETWORK_ERROR and resets the heartbeat. It is safe to call more than once.
func (s *SDK) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.scheduler.Stop()
		s.events.shutdown()
		if err = s.events.SavePendingEvents(); err != nil {
			s.logger.WithError(err).Error("failed to save pending events")
		}
		s.heartBeat.Reset()
		s.logger.Debug("sdk closed")
	})
	return err
}

func setDebug(logger logrus.FieldLogger, enabled bool) {
	var l *logrus.Logger
	switch v := logger.(type) {
	case *logrus.Logger:
		l = v
	case *logrus.Entry:
		l = v.Logger
	default:
		return
	}
	if enabled {
		l.SetLevel(logrus.DebugLevel)
	} else if l.GetLevel() == logrus.DebugLevel {
		l.SetLevel(logrus.InfoLevel)
	}
}
