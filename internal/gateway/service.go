// Package gateway assembles the snapshot gateway from configuration.
//
// A Service is built once at process start and handed to the HTTP layer.
// It owns every long-lived component and their lifecycles.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmylchreest/camgate/internal/backoff"
	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/config"
	"github.com/jmylchreest/camgate/internal/cycle"
	"github.com/jmylchreest/camgate/internal/detector"
	"github.com/jmylchreest/camgate/internal/fetcher"
	"github.com/jmylchreest/camgate/internal/framecache"
	"github.com/jmylchreest/camgate/internal/observability"
	"github.com/jmylchreest/camgate/internal/orchestrator"
	"github.com/jmylchreest/camgate/internal/publish"
	"github.com/jmylchreest/camgate/internal/scheduler"
	"github.com/jmylchreest/camgate/internal/stream"
	"github.com/jmylchreest/camgate/internal/version"
	"github.com/jmylchreest/camgate/internal/viewstate"
	"github.com/jmylchreest/camgate/pkg/httpclient"
)

// Maintenance job names.
const (
	JobCacheSweep   = "cache-sweep"
	JobBackoffPrune = "backoff-prune"
)

// Service holds the wired gateway components.
type Service struct {
	Pool         *httpclient.Pool
	Endpoints    *camera.Endpoints
	Cache        *framecache.Cache
	Backoff      *backoff.Registry
	Metrics      *observability.Metrics
	Fetcher      *fetcher.Fetcher
	Orchestrator *orchestrator.Orchestrator
	Cycle        *cycle.Scheduler
	View         *viewstate.Controller
	Stream       *stream.Session
	Maintenance  *scheduler.Scheduler

	// Optional components; nil when disabled.
	Detector  *detector.Client
	Poller    *viewstate.Poller
	Forwarder *publish.Forwarder

	config    *config.Config
	logger    *slog.Logger
	startedAt time.Time

	mu      sync.Mutex
	started bool
	ctx     context.Context
}

// Snapshot is a point-in-time view of the gateway for health reporting.
type Snapshot struct {
	Uptime       time.Duration
	Stream       stream.Status
	CachedFrames int
	BackedOff    []backoff.Entry
	// Detector is "disabled" or the detector circuit state.
	Detector   string
	View       viewstate.State
	Generation uint64
}

// Options are the process-level dependencies of a Service.
type Options struct {
	Logger *slog.Logger
	// Registerer receives the gateway metrics. Metrics are disabled when nil.
	Registerer prometheus.Registerer
	// Transport replaces the head-end network transport, mainly for tests.
	Transport http.RoundTripper
}

// New wires every component described by cfg. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	endpoints, err := camera.NewEndpoints(cfg.Camera.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("camera endpoints: %w", err)
	}

	var metrics *observability.Metrics
	if opts.Registerer != nil {
		metrics, err = observability.NewMetrics(opts.Registerer)
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	pool := httpclient.NewPool(httpclient.PoolConfig{
		Username:             cfg.Camera.Username,
		Password:             cfg.Camera.Password,
		ConnectTimeout:       cfg.Camera.ConnectTimeout,
		ReadTimeout:          cfg.Camera.ReadTimeout,
		StreamConnectTimeout: cfg.Camera.StreamConnectTimeout,
		MaxIdleConns:         cfg.Camera.MaxIdleConns,
		MaxIdleConnsPerHost:  cfg.Camera.MaxIdleConnsPerHost,
		UserAgent:            version.UserAgent(),
		Transport:            opts.Transport,
		Logger:               logger,
	})

	// Expiry is driven by the maintenance scheduler, so no go-cache janitor.
	cache := framecache.New(cfg.Fetch.CacheCeiling, 0)
	registry := backoff.NewRegistry()

	svc := &Service{
		Pool:      pool,
		Endpoints: endpoints,
		Cache:     cache,
		Backoff:   registry,
		Metrics:   metrics,
		config:    cfg,
		logger:    logger.With(slog.String("component", "gateway")),
	}

	var snapshotAnnotator, streamAnnotator *detector.Annotator
	if cfg.Detector.Enabled {
		filter := detector.NewFilter(cfg.Detector.Thresholds, cfg.Detector.DefaultThreshold)
		client, err := detector.NewClient(detector.ClientConfig{
			Endpoint:      cfg.Detector.Endpoint,
			Timeout:       cfg.Detector.Timeout,
			ConfThreshold: filter.Min(),
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("detector client: %w", err)
		}
		svc.Detector = client
		snapshotAnnotator = detector.NewAnnotator(client, filter, cfg.Detector.JPEGQuality).WithLogger(logger)
		streamAnnotator = detector.NewAnnotator(client, filter, cfg.Stream.JPEGQuality).WithLogger(logger)
	}

	fetchCfg := fetcher.Config{
		Timeout:              cfg.Camera.ConnectTimeout + cfg.Camera.ReadTimeout,
		OverloadBackoff:      cfg.Fetch.OverloadBackoff,
		ConnectionBackoffCap: cfg.Fetch.ConnectionBackoffCap,
	}
	svc.Fetcher = fetcher.New(pool, endpoints, cache, registry, fetchCfg).
		WithLogger(logger).
		WithMetrics(metrics)
	if snapshotAnnotator != nil {
		svc.Fetcher.WithAnnotator(snapshotAnnotator)
	}

	policy := orchestrator.Policy{
		InteractiveTTL: cfg.Fetch.InteractiveTTL,
		CycleTTL:       cfg.Fetch.CycleTTL,
		StaleTTL:       cfg.Fetch.StaleTTL,
	}
	svc.Orchestrator = orchestrator.New(svc.Fetcher, cache, registry, policy, cfg.Fetch.MaxConcurrent).
		WithLogger(logger).
		WithMetrics(metrics)

	svc.Cycle, err = cycle.New(channelList(cfg.Cycle.GroupA), channelList(cfg.Cycle.GroupB), cfg.Cycle.Interval, time.Now())
	if err != nil {
		return nil, fmt.Errorf("cycle scheduler: %w", err)
	}

	svc.View = viewstate.NewController(svc.Cycle, svc.Orchestrator).WithLogger(logger)

	if cfg.Prefetch.Enabled {
		svc.Poller = viewstate.NewPoller(svc.Orchestrator, svc.Cycle).
			WithLogger(logger).
			WithConfig(viewstate.PollerConfig{
				SingleInterval: cfg.Prefetch.SingleInterval,
				GridInterval:   cfg.Prefetch.GridInterval,
				CycleInterval:  cfg.Cycle.RefreshInterval,
			})
		svc.View.OnChange(svc.Poller.Restart)
	}

	svc.Stream = stream.NewSession(pool, endpoints, cache, stream.Config{
		IdleTimeout:    cfg.Camera.StreamReadTimeout,
		StallThreshold: cfg.Stream.StallThreshold,
		ConnectTimeout: cfg.Camera.StreamConnectTimeout,
		DetectInterval: cfg.Detector.StreamInterval,
	}).WithLogger(logger).WithMetrics(metrics)
	if streamAnnotator != nil {
		svc.Stream.WithAnnotator(streamAnnotator)
	}

	if cfg.Forwarder.Enabled {
		svc.Forwarder, err = publish.New(publish.Config{
			URL:           cfg.Forwarder.URL,
			Interval:      cfg.Forwarder.Interval,
			Timeout:       cfg.Forwarder.Timeout,
			RetryAttempts: cfg.Forwarder.RetryAttempts,
			RetryDelay:    cfg.Forwarder.RetryDelay,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("forwarder: %w", err)
		}
		svc.Stream.WithPublisher(svc.Forwarder)
	}

	svc.Maintenance = scheduler.NewScheduler().WithLogger(logger)
	if err := svc.Maintenance.Add(JobCacheSweep, cfg.Maintenance.SweepSchedule, svc.sweepCache); err != nil {
		return nil, fmt.Errorf("scheduling %s: %w", JobCacheSweep, err)
	}
	if err := svc.Maintenance.Add(JobBackoffPrune, cfg.Maintenance.SweepSchedule, svc.pruneBackoff); err != nil {
		return nil, fmt.Errorf("scheduling %s: %w", JobBackoffPrune, err)
	}

	return svc, nil
}

// Start launches the background components: maintenance jobs, the
// forwarder and, when prefetch is enabled, the acquisition loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("gateway already started")
	}

	if err := s.Maintenance.Start(ctx); err != nil {
		return fmt.Errorf("starting maintenance: %w", err)
	}
	if s.Forwarder != nil {
		if err := s.Forwarder.Start(ctx); err != nil {
			s.Maintenance.Stop()
			return fmt.Errorf("starting forwarder: %w", err)
		}
	}
	if s.Poller != nil {
		if err := s.Poller.Start(ctx, s.View.Get()); err != nil {
			s.Maintenance.Stop()
			if s.Forwarder != nil {
				s.Forwarder.Stop()
			}
			return fmt.Errorf("starting poller: %w", err)
		}
	}

	s.started = true
	s.ctx = ctx
	s.startedAt = time.Now()
	s.logger.Info("gateway started",
		slog.String("camera", s.Endpoints.Base()),
		slog.Int("max_concurrent", s.config.Fetch.MaxConcurrent),
		slog.Bool("prefetch", s.Poller != nil),
		slog.Bool("detector", s.Detector != nil),
		slog.Bool("forwarder", s.Forwarder != nil),
	)
	return nil
}

// Stop halts every background component and the main stream.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if s.Poller != nil {
		s.Poller.Stop()
	}
	s.Orchestrator.Interrupt()
	s.Stream.Stop()
	if s.Forwarder != nil {
		s.Forwarder.Stop()
	}
	s.Maintenance.Stop()
	s.started = false
	s.ctx = nil
	s.logger.Info("gateway stopped")
}

// Uptime reports how long the service has been running.
func (s *Service) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0
	}
	return time.Since(s.startedAt)
}

// Snapshot reports the current gateway state.
func (s *Service) Snapshot() Snapshot {
	snap := Snapshot{
		Uptime:       s.Uptime(),
		Stream:       s.Stream.Status(),
		CachedFrames: s.Cache.Len(),
		BackedOff:    s.Backoff.Active(),
		Detector:     "disabled",
		View:         s.View.Get(),
		Generation:   s.Orchestrator.Generation(),
	}
	if s.Detector != nil {
		snap.Detector = s.Detector.CircuitState().String()
	}
	return snap
}

// StartStream starts the main stream under the service lifetime rather
// than the caller's. A fresh head-end session is used when no stream is
// running. It reports whether a new reader was started.
func (s *Service) StartStream() bool {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if !s.Stream.Streaming() {
		s.Pool.Reset()
	}
	return s.Stream.Start(ctx)
}

// StopStream stops the main stream and drops its cached frame.
func (s *Service) StopStream() {
	s.Stream.Stop()
}

// MainFrame returns the latest main-stream frame and its detections.
func (s *Service) MainFrame() ([]byte, []detector.Detection, bool) {
	f, ok := s.Cache.Get(camera.MainChannel, s.config.Fetch.CacheCeiling)
	if !ok {
		return nil, nil, false
	}
	return f.Data, s.Stream.Detections(), true
}

// OpenChannelStream opens the head-end MJPEG stream for one channel. The
// caller owns the response body.
func (s *Service) OpenChannelStream(ctx context.Context, ch camera.ChannelID) (*http.Response, error) {
	if !ch.Valid() {
		return nil, fmt.Errorf("%w: %d", camera.ErrInvalidChannel, ch)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Endpoints.ChannelStream(ch), nil)
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	resp, err := s.Pool.StreamClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening channel %s stream: %w", ch, err)
	}
	return resp, nil
}

// Relogin drops the head-end session so the next requests authenticate
// on fresh connections.
func (s *Service) Relogin() {
	s.Pool.Reset()
	s.logger.Info("head-end session reset")
}

func (s *Service) sweepCache(_ context.Context) {
	if n := s.Cache.Sweep(); n > 0 {
		s.logger.Debug("swept expired frames", slog.Int("removed", n))
	}
}

func (s *Service) pruneBackoff(_ context.Context) {
	if n := s.Backoff.Prune(); n > 0 {
		s.logger.Debug("pruned expired backoffs", slog.Int("removed", n))
	}
}

func channelList(in []int) []camera.ChannelID {
	out := make([]camera.ChannelID, len(in))
	for i, ch := range in {
		out[i] = camera.ChannelID(ch)
	}
	return out
}
