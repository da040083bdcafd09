// Package orchestrator serves multi-channel frame requests from the cache
// and fans out bounded snapshot fetches for the rest.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/detector"
	"github.com/jmylchreest/camgate/internal/fetcher"
	"github.com/jmylchreest/camgate/internal/framecache"
	"github.com/jmylchreest/camgate/internal/observability"
)

// Intent selects how fresh cached frames must be.
type Intent int

const (
	// IntentInteractive is single-channel polling; only very fresh frames count.
	IntentInteractive Intent = iota
	// IntentCycle is the rotating group view.
	IntentCycle
	// IntentGrid tolerates stale frames.
	IntentGrid
)

func (i Intent) String() string {
	switch i {
	case IntentInteractive:
		return "interactive"
	case IntentCycle:
		return "cycle"
	case IntentGrid:
		return "grid"
	default:
		return "unknown"
	}
}

// allowsStale reports whether a backed-off channel may be served from a
// stale frame.
func (i Intent) allowsStale() bool {
	return i == IntentCycle || i == IntentGrid
}

// Policy holds the cache freshness windows.
type Policy struct {
	InteractiveTTL time.Duration
	CycleTTL       time.Duration
	StaleTTL       time.Duration
}

// DefaultPolicy returns 0.5s interactive, 2s cycle and 30s stale windows.
func DefaultPolicy() Policy {
	return Policy{
		InteractiveTTL: 500 * time.Millisecond,
		CycleTTL:       2 * time.Second,
		StaleTTL:       30 * time.Second,
	}
}

func (p Policy) freshness(i Intent) time.Duration {
	switch i {
	case IntentInteractive:
		return p.InteractiveTTL
	case IntentCycle:
		return p.CycleTTL
	case IntentGrid:
		return p.StaleTTL
	default:
		return p.InteractiveTTL
	}
}

// Fetcher fetches one channel.
type Fetcher interface {
	Fetch(ctx context.Context, ch camera.ChannelID, withDetection bool) (fetcher.Result, error)
}

// BackoffChecker reports whether a channel is backed off.
type BackoffChecker interface {
	IsBackedOff(ch camera.ChannelID) (bool, time.Duration)
}

// Request describes one FetchMany call.
type Request struct {
	Channels      []camera.ChannelID
	Intent        Intent
	WithDetection bool
}

// Response is whatever subset of the requested channels could be served.
type Response struct {
	Campaign   string
	Frames     map[camera.ChannelID][]byte
	Detections map[camera.ChannelID][]detector.Detection
	// Superseded is set when a newer campaign cut this one short.
	Superseded bool
}

// Orchestrator coordinates campaigns. All campaigns share one concurrency
// bound on outbound fetches.
type Orchestrator struct {
	fetcher Fetcher
	cache   framecache.Store
	backoff BackoffChecker
	policy  Policy
	sem     *semaphore.Weighted

	mu            sync.Mutex
	generation    uint64
	cancelCurrent context.CancelFunc

	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates an orchestrator allowing at most maxConcurrent fetches in flight.
func New(f Fetcher, cache framecache.Store, registry BackoffChecker, policy Policy, maxConcurrent int) *Orchestrator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		fetcher: f,
		cache:   cache,
		backoff: registry,
		policy:  policy,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger.
func (o *Orchestrator) WithLogger(logger *slog.Logger) *Orchestrator {
	o.logger = logger.With(slog.String("component", "orchestrator"))
	return o
}

// WithMetrics sets the metrics collector.
func (o *Orchestrator) WithMetrics(m *observability.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

type outcome struct {
	channel camera.ChannelID
	result  fetcher.Result
	err     error
}

// FetchMany starts a new campaign for req. Channels are served from the
// cache when fresh for the intent; backed-off channels are never fetched.
// The rest are fetched with bounded concurrency. If the campaign is
// superseded it stops dispatching and returns what has completed so far;
// fetches already in flight still finish and write the cache.
func (o *Orchestrator) FetchMany(ctx context.Context, req Request) Response {
	camp := o.Begin(ctx)
	defer camp.End()

	resp := Response{
		Campaign:   camp.ID.String(),
		Frames:     make(map[camera.ChannelID][]byte, len(req.Channels)),
		Detections: make(map[camera.ChannelID][]detector.Detection),
	}
	logger := o.logger.With(slog.String("campaign", resp.Campaign))

	fresh := o.policy.freshness(req.Intent)
	seen := make(map[camera.ChannelID]struct{}, len(req.Channels))
	var pending []camera.ChannelID
	for _, ch := range req.Channels {
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}

		if f, ok := o.cache.Get(ch, fresh); ok {
			resp.Frames[ch] = f.Data
			o.metrics.RecordCacheLookup("hit")
			continue
		}
		if blocked, _ := o.backoff.IsBackedOff(ch); blocked {
			if req.Intent.allowsStale() {
				if f, ok := o.cache.Get(ch, o.policy.StaleTTL); ok {
					resp.Frames[ch] = f.Data
					o.metrics.RecordCacheLookup("stale")
					continue
				}
			}
			o.metrics.RecordCacheLookup("backoff")
			continue
		}
		o.metrics.RecordCacheLookup("miss")
		pending = append(pending, ch)
	}

	results := make(chan outcome, len(pending))
	dispatched := 0
	fetchCtx := context.WithoutCancel(ctx)
	for _, ch := range pending {
		if !camp.Current() {
			break
		}
		if err := o.sem.Acquire(camp.Context(), 1); err != nil {
			break
		}
		if !camp.Current() {
			o.sem.Release(1)
			break
		}
		dispatched++
		go func(ch camera.ChannelID) {
			defer o.sem.Release(1)
			res, err := o.fetcher.Fetch(fetchCtx, ch, req.WithDetection)
			results <- outcome{channel: ch, result: res, err: err}
		}(ch)
	}

	collect := func(out outcome) {
		if out.err != nil {
			logger.Debug("channel fetch failed", slog.String("channel", out.channel.String()), slog.String("error", out.err.Error()))
			return
		}
		resp.Frames[out.channel] = out.result.Data
		if len(out.result.Detections) > 0 {
			resp.Detections[out.channel] = out.result.Detections
		}
	}

wait:
	for i := 0; i < dispatched; i++ {
		select {
		case out := <-results:
			collect(out)
		case <-camp.Context().Done():
			for {
				select {
				case out := <-results:
					collect(out)
				default:
					break wait
				}
			}
		}
	}

	resp.Superseded = !camp.Current()
	if resp.Superseded {
		o.metrics.RecordCampaign("superseded")
	} else {
		o.metrics.RecordCampaign("completed")
	}
	logger.Debug("campaign finished",
		slog.String("intent", req.Intent.String()),
		slog.Int("requested", len(seen)),
		slog.Int("dispatched", dispatched),
		slog.Int("served", len(resp.Frames)),
		slog.Bool("superseded", resp.Superseded),
	)
	return resp
}
