package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/opengovern/resilient-telemetry/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var tagNames = []string{
	"method",
	"host",
	"status",
}

// Collector turns client notifications into Prometheus metrics. It registers
// on its own registry so several SDK instances can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	attemptCounter           *prometheus.CounterVec
	attemptDurationHistogram *prometheus.HistogramVec
	networkErrorCounter      *prometheus.CounterVec
	serverErrorCounter       *prometheus.CounterVec
	unauthorizedCounter      prometheus.Counter
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		attemptCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_attempts_total",
			Help:      "request attempts by outcome",
		}, tagNames),

		attemptDurationHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_attempt_duration_seconds",
			Help:      "time between sending a request and receiving its response",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "host"}),

		networkErrorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_errors_total",
			Help:      "attempts that got no response",
		}, []string{"method", "host"}),

		serverErrorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_errors_total",
			Help:      "attempts answered with a 5xx status",
		}, []string{"method", "host"}),

		unauthorizedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unauthorized_total",
			Help:      "requests rejected with 401 after a token refresh",
		}),
	}

	c.registry.MustRegister(
		c.attemptCounter,
		c.attemptDurationHistogram,
		c.networkErrorCounter,
		c.serverErrorCounter,
		c.unauthorizedCounter,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) NetworkErrorOccurred(req *transport.Request) {
	c.networkErrorCounter.WithLabelValues(req.Method, hostname(req.URL)).Inc()
}

func (c *Collector) ServerErrorOccurred(req *transport.Request) {
	c.serverErrorCounter.WithLabelValues(req.Method, hostname(req.URL)).Inc()
}

func (c *Collector) UnauthorizedOccurred(string) {
	c.unauthorizedCounter.Inc()
}

func (c *Collector) AttemptCompleted(req *transport.Request, resp *transport.Response, err error) {
	host := hostname(req.URL)
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
		c.attemptDurationHistogram.WithLabelValues(req.Method, host).Observe(resp.Duration().Seconds())
	}
	c.attemptCounter.WithLabelValues(req.Method, host, status).Inc()
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Listen serves /metrics on addr until ctx is done.
func (c *Collector) Listen(ctx context.Context, addr string) error {
	router := mux.NewRouter()
	router.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
