package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	resilienttelemetry "github.com/opengovern/resilient-telemetry"
	"github.com/opengovern/resilient-telemetry/internal/logging"
	"github.com/opengovern/resilient-telemetry/internal/mockserver"
	"github.com/opengovern/resilient-telemetry/metrics"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

type CliArgs struct {
	help        bool
	verbose     bool
	nocolor     bool
	config      string
	baseURL     string
	apiKey      string
	storage     string
	eventType   string
	eventName   string
	workers     int
	count       int
	jitter      time.Duration
	flush       bool
	mock        bool
	mockFaults  []int
	metricsAddr string
	hold        time.Duration
}

func main() {
	args := CliArgs{}

	flags := pflag.NewFlagSet("telemetry-probe", pflag.ExitOnError)
	flags.BoolVarP(&args.help, "help", "h", false, "Print usage")
	flags.BoolVarP(&args.verbose, "verbose", "v", false, "Run with debug output")
	flags.BoolVar(&args.nocolor, "no-color", false, "Do not use terminal colors in output")
	flags.StringVarP(&args.config, "config", "c", "", "Optional YAML config file (env overrides still apply)")
	flags.StringVar(&args.baseURL, "base-url", "", "Telemetry backend base URL")
	flags.StringVar(&args.apiKey, "api-key", "", "Project API key")
	flags.StringVar(&args.storage, "storage", "", "Directory for the offline event cache")
	flags.StringVar(&args.eventType, "event-type", "custom", "Type of the probe events")
	flags.StringVar(&args.eventName, "event-name", "probe", "Name of the probe events")
	flags.IntVarP(&args.workers, "workers", "w", 4, "Number of concurrent recorders")
	flags.IntVarP(&args.count, "count", "n", 10, "Events recorded by each worker")
	flags.DurationVar(&args.jitter, "jitter", 200*time.Millisecond, "Upper bound of the random pause between events")
	flags.BoolVar(&args.flush, "flush", true, "Flush cached events before exiting")
	flags.BoolVar(&args.mock, "mock", false, "Run against an in-process mock backend")
	flags.IntSliceVar(&args.mockFaults, "mock-fault", nil, "Statuses the mock backend answers /events with first (repeatable)")
	flags.StringVar(&args.metricsAddr, "metrics-addr", "", "Optional address for the Prometheus metrics endpoint")
	flags.DurationVar(&args.hold, "hold", 0, "Keep the metrics endpoint up this long after the run")

	//nolint:errcheck // ignore
	flags.Parse(os.Args[1:])

	if args.help {
		flags.PrintDefaults()
		return
	}

	logger := logging.NewLogger(args.verbose, args.nocolor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &args, logger); err != nil {
		logger.WithError(err).Error("probe failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args *CliArgs, logger *logrus.Logger) error {
	cfg, err := resilienttelemetry.LoadConfig(args.config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if args.baseURL != "" {
		cfg.BaseURL = args.baseURL
	}
	if args.apiKey != "" {
		cfg.APIKey = args.apiKey
	}
	if args.storage != "" {
		cfg.StoragePath = args.storage
	}
	cfg.Debug = cfg.Debug || args.verbose

	if args.mock {
		if cfg.APIKey == "" {
			cfg.APIKey = "probe-key"
		}
		server := mockserver.New(cfg.APIKey)
		defer server.Close()
		if len(args.mockFaults) > 0 {
			server.Fail("/events", args.mockFaults...)
		}
		cfg.BaseURL = server.URL()
		logger.Infof("mock backend listening on %v", server.URL())
		defer func() {
			logger.WithField("events", len(server.Events())).Info("mock backend received events")
		}()
	}

	collector := metrics.NewCollector("telemetry")
	if args.metricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := collector.Listen(metricsCtx, args.metricsAddr); err != nil {
				logger.WithError(err).Error("metrics endpoint failed")
			}
		}()
		logger.Infof("metrics available at http://%v/metrics", args.metricsAddr)
	}

	sdk, err := resilienttelemetry.New(cfg,
		resilienttelemetry.WithLogger(logger),
		resilienttelemetry.WithObserver(collector),
		resilienttelemetry.WithObserver(resilienttelemetry.ObserverFuncs{
			OnUnauthorized: func(string) {
				logger.WithField("color", color.FgRed).Warn("backend rejected the credentials")
			},
		}),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := sdk.Close(); err != nil {
			logger.WithError(err).Warn("close failed")
		}
	}()
	go sdk.Run(ctx)

	health, err := sdk.API().TestConnection(ctx)
	if err != nil {
		return fmt.Errorf("test connection: %w", err)
	}
	logger.WithField("status", health.Status).Info("backend reachable")

	sent, failed := record(ctx, sdk, args, logger)
	logger.WithFields(logrus.Fields{
		"sent":    sent,
		"failed":  failed,
		"pending": sdk.Events().Pending(),
	}).Info("recording finished")
	printRateLimitInfo(sdk, logger)

	if args.flush {
		flush(ctx, sdk, logger)
	}

	if args.hold > 0 && args.metricsAddr != "" {
		logger.Infof("holding metrics endpoint for %v", args.hold)
		select {
		case <-time.After(args.hold):
		case <-ctx.Done():
		}
	}
	return nil
}

// record runs args.workers recorders, each sending args.count events with a
// random pause in between.
func record(ctx context.Context, sdk *resilienttelemetry.SDK, args *CliArgs, logger logrus.FieldLogger) (sent, failed int64) {
	var okCount, errCount atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < args.workers; w++ {
		workerID := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for n := 1; n <= args.count; n++ {
				if args.jitter > 0 {
					select {
					case <-time.After(time.Duration(rng.Int63n(int64(args.jitter)))):
					case <-ctx.Done():
						return
					}
				}

				ev := resilienttelemetry.Event{
					EventType: args.eventType,
					EventName: args.eventName,
					Payloads: map[string]any{
						"worker":  workerID,
						"attempt": n,
					},
				}
				select {
				case err := <-sdk.RecordEvent(ctx, ev):
					log := logger.WithFields(logrus.Fields{"worker": workerID, "attempt": n})
					if err != nil {
						errCount.Add(1)
						log.WithError(err).Debug("event cached for later")
						continue
					}
					okCount.Add(1)
					log.Debug("event sent")
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	wg.Wait()
	return okCount.Load(), errCount.Load()
}

func flush(ctx context.Context, sdk *resilienttelemetry.SDK, logger logrus.FieldLogger) {
	done := sdk.Flush(ctx)
	if done == nil {
		logger.Info("nothing to flush")
		return
	}
	select {
	case err := <-done:
		if err != nil {
			logger.WithError(err).Warn("flush failed, events stay cached")
			return
		}
		logger.WithField("color", color.FgGreen).Info("cached events flushed")
	case <-ctx.Done():
	}
}

func printRateLimitInfo(sdk *resilienttelemetry.SDK, logger logrus.FieldLogger) {
	u, err := url.Parse(sdk.Config().BackendURL())
	if err != nil {
		return
	}
	info := sdk.Client().RateLimiter().GetRateLimitInfo(u.Host)
	if info == nil {
		logger.Debug("no rate limit info available")
		return
	}

	fields := logrus.Fields{}
	if info.RemainingRequests != nil {
		fields["remaining"] = *info.RemainingRequests
	}
	if info.ResetRequestsAt != nil {
		fields["reset_at"] = time.UnixMilli(*info.ResetRequestsAt)
	}
	logger.WithFields(fields).Info("rate limit info")
}
