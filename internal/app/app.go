package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bchoi12/birdtown-sub001/internal/config"
	servernet "github.com/bchoi12/birdtown-sub001/internal/net"
	"github.com/bchoi12/birdtown-sub001/internal/net/ws"
	"github.com/bchoi12/birdtown-sub001/internal/netcode"
	"github.com/bchoi12/birdtown-sub001/internal/netcode/loop"
	"github.com/bchoi12/birdtown-sub001/internal/telemetry"
	"github.com/bchoi12/birdtown-sub001/logging"
	loggingSinks "github.com/bchoi12/birdtown-sub001/logging/sinks"
)

const (
	loggingForwardedMetricKey    = "logging_events_forwarded"
	loggingDroppedMetricKey      = "logging_events_dropped"
	loggingSinkDroppedMetricKey  = "logging_sink_dropped"
	loggingSinkFailuresMetricKey = "logging_sink_failures"
)

type Config struct {
	Logger   telemetry.Logger
	Settings config.Config
	// Resolver is consulted for unit ids announced by peers that have no
	// local unit yet.
	Resolver netcode.Resolver
	// Setup registers application units before the loop starts.
	Setup func(agg *netcode.Aggregator, policy netcode.Policy) error
	// Hooks run inside every step, after the server status refresh.
	Hooks loop.Hooks
}

// Server is the assembled replication server.
type Server struct {
	Aggregator *netcode.Aggregator
	Loop       *loop.Loop
	Peers      *ws.Handler
	Handler    http.Handler
	Counters   *telemetry.Counters

	router  *logging.Router
	jsonLog *os.File
	status  *statusUnit
}

// New assembles the server without starting it.
func New(cfg Config) (*Server, error) {
	settings := cfg.Settings
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	s := &Server{Counters: telemetry.NewCounters()}

	logConfig := settings.Logging()
	var sinks []logging.NamedSink
	if logConfig.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout)})
	}
	if logConfig.HasSink("json") {
		out := os.Stdout
		if logConfig.JSON.FilePath != "" {
			file, err := os.OpenFile(logConfig.JSON.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open json log: %w", err)
			}
			s.jsonLog = file
			out = file
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(out, logConfig.JSON.FlushInterval)})
	}
	router, err := logging.NewRouter(nil, logConfig, sinks)
	if err != nil {
		return nil, fmt.Errorf("failed to construct logging router: %w", err)
	}
	s.router = router

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter, err := telemetry.NewPrometheus(registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	metrics := telemetry.Multi(s.Counters, exporter)

	s.Aggregator = netcode.NewAggregator(netcode.Deps{
		Publisher: router,
		Metrics:   metrics,
		Epsilon:   settings.Epsilon,
	})

	policy := settings.Policy()
	status, err := newStatusUnit(s.Aggregator.Deps(), policy, time.Now(), settings.TickRate)
	if err != nil {
		return nil, fmt.Errorf("register status unit: %w", err)
	}
	if err := s.Aggregator.Add(StatusUnitID, status); err != nil {
		return nil, err
	}
	s.status = status
	if cfg.Setup != nil {
		if err := cfg.Setup(s.Aggregator, policy); err != nil {
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	s.Peers = ws.NewHandler(nil, ws.HandlerConfig{
		Logger:       fallbackLogger,
		Publisher:    router,
		WriteTimeout: settings.WriteTimeout,
	})

	hooks := cfg.Hooks
	prepare := hooks.Prepare
	hooks.Prepare = func(seq uint64) {
		s.status.refresh(time.Now(), s.Peers.Peers().Len())
		if prepare != nil {
			prepare(seq)
		}
	}
	afterStep := hooks.AfterStep
	hooks.AfterStep = func(result loop.StepResult) {
		s.storeLoggingStats(metrics)
		if afterStep != nil {
			afterStep(result)
		}
	}
	s.Loop = loop.New(s.Aggregator, s.Peers, cfg.Resolver, settings.Loop(), loop.Deps{
		Publisher: router,
		Metrics:   metrics,
	}, hooks)
	s.Peers.SetReceiver(s.Loop)

	s.Handler = servernet.NewHTTPHandler(s.Peers, servernet.HTTPHandlerConfig{
		Logger:        fallbackLogger,
		Observability: settings.Observability(),
		Loop:          s.Loop,
		TickRate:      settings.TickRate,
		Counters:      s.Counters,
		Gatherer:      registry,
	})
	return s, nil
}

func (s *Server) storeLoggingStats(metrics telemetry.Metrics) {
	stats := s.router.Stats()
	metrics.Store(loggingForwardedMetricKey, stats.Forwarded)
	metrics.Store(loggingDroppedMetricKey, stats.Dropped)
	metrics.Store(loggingSinkDroppedMetricKey, stats.SinkDropped)
	metrics.Store(loggingSinkFailuresMetricKey, stats.SinkFailures)
}

// Close flushes the logging router.
func (s *Server) Close(ctx context.Context) error {
	err := s.router.Close(ctx)
	if s.jsonLog != nil {
		err = errors.Join(err, s.jsonLog.Close())
	}
	return err
}

// Run serves cfg.Settings.Addr and drives the tick loop until ctx is done.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
		cfg.Logger = telemetryLogger
	}

	s, err := New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(context.Background()); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan error, 1)
	go func() { loopDone <- s.Loop.Run(ctx) }()

	srv := &http.Server{Addr: cfg.Settings.Addr, Handler: s.Handler}
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.ListenAndServe() }()
	telemetryLogger.Printf("server listening on %s", srv.Addr)

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		cancel()
		<-loopDone
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetryLogger.Printf("shutdown: %v", err)
	}
	<-loopDone
	return nil
}
