// Package fetcher acquires single snapshots from the camera head-end.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jmylchreest/camgate/internal/backoff"
	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/detector"
	"github.com/jmylchreest/camgate/internal/framecache"
	"github.com/jmylchreest/camgate/internal/observability"
	"github.com/jmylchreest/camgate/pkg/httpclient"
)

// maxSnapshotSize bounds a single snapshot body.
const maxSnapshotSize = 8 << 20

// Annotator draws detections onto a frame.
type Annotator interface {
	Annotate(ctx context.Context, jpegData []byte) ([]byte, []detector.Detection, error)
}

// Config holds the backoff policy and request bound for snapshot fetches.
type Config struct {
	// Timeout bounds one request including the body read.
	Timeout time.Duration
	// OverloadBackoff is applied when the head-end answers 503.
	OverloadBackoff time.Duration
	// ConnectionBackoffCap caps the backoff applied after a connection error.
	ConnectionBackoffCap time.Duration
}

// DefaultConfig returns 8s per request, 45s overload backoff and a 30s cap
// on connection backoff.
func DefaultConfig() Config {
	return Config{
		Timeout:              8 * time.Second,
		OverloadBackoff:      45 * time.Second,
		ConnectionBackoffCap: 30 * time.Second,
	}
}

// ConnectionBackoff is the pause applied after a refused or reset
// connection: a quarter of the overload backoff in whole seconds, capped.
func (c Config) ConnectionBackoff() time.Duration {
	d := (c.OverloadBackoff / 4).Truncate(time.Second)
	if c.ConnectionBackoffCap > 0 && d > c.ConnectionBackoffCap {
		d = c.ConnectionBackoffCap
	}
	return d
}

// Result is a successfully fetched frame.
type Result struct {
	Channel    camera.ChannelID
	Data       []byte
	Detections []detector.Detection
}

// Fetcher fetches, validates and caches snapshots for one head-end. It is
// safe for concurrent use across channels.
type Fetcher struct {
	pool      *httpclient.Pool
	endpoints *camera.Endpoints
	cache     framecache.Store
	backoff   *backoff.Registry
	annotator Annotator
	metrics   *observability.Metrics
	config    Config
	logger    *slog.Logger
}

// New creates a fetcher.
func New(pool *httpclient.Pool, endpoints *camera.Endpoints, cache framecache.Store, registry *backoff.Registry, cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Fetcher{
		pool:      pool,
		endpoints: endpoints,
		cache:     cache,
		backoff:   registry,
		config:    cfg,
		logger:    slog.Default(),
	}
}

// WithLogger sets the logger.
func (f *Fetcher) WithLogger(logger *slog.Logger) *Fetcher {
	f.logger = logger.With(slog.String("component", "fetcher"))
	return f
}

// WithAnnotator enables detection overlays for fetches that ask for them.
func (f *Fetcher) WithAnnotator(a Annotator) *Fetcher {
	f.annotator = a
	return f
}

// WithMetrics sets the metrics collector.
func (f *Fetcher) WithMetrics(m *observability.Metrics) *Fetcher {
	f.metrics = m
	return f
}

// Fetch retrieves one snapshot for ch. Failures are returned as *Error and
// update the backoff registry according to their kind. On success the frame
// (annotated when withDetection is set and an annotator is configured) is
// written to the cache.
func (f *Fetcher) Fetch(ctx context.Context, ch camera.ChannelID, withDetection bool) (Result, error) {
	if blocked, remaining := f.backoff.IsBackedOff(ch); blocked {
		f.metrics.RecordFetch(ch.String(), observability.OutcomeBackoff)
		return Result{}, &Error{Kind: KindBackoff, Channel: ch, Backoff: remaining}
	}

	start := time.Now()
	data, err := f.get(ctx, ch)
	elapsed := time.Since(start)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			f.metrics.RecordFetch(ch.String(), fe.Kind.outcome())
			f.metrics.RecordFetchDuration(fe.Kind.outcome(), elapsed.Seconds())
		}
		return Result{}, err
	}

	res := Result{Channel: ch, Data: data}
	if withDetection && f.annotator != nil {
		annotated, dets, derr := f.annotator.Annotate(ctx, data)
		if derr != nil {
			f.metrics.RecordFetch(ch.String(), observability.OutcomeDetector)
			f.logger.Warn("detection failed, serving raw frame",
				slog.String("channel", ch.String()),
				slog.String("error", derr.Error()),
			)
		} else {
			res.Data = annotated
			res.Detections = dets
		}
	}

	f.cache.Put(ch, res.Data)
	f.metrics.RecordFetch(ch.String(), observability.OutcomeSuccess)
	f.metrics.RecordFetchDuration(observability.OutcomeSuccess, elapsed.Seconds())
	f.logger.Debug("snapshot fetched",
		slog.String("channel", ch.String()),
		slog.Int("bytes", len(res.Data)),
		slog.Duration("duration", elapsed),
	)
	return res, nil
}

// get performs the request and classifies its outcome.
func (f *Fetcher) get(ctx context.Context, ch camera.ChannelID) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoints.Snapshot(ch), nil)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Channel: ch, Err: err}
	}

	client, release := f.pool.Acquire()
	defer release()

	resp, err := client.Do(req)
	if err != nil {
		return nil, f.transportError(ch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		fe := &Error{Kind: KindHTTPStatus, Channel: ch, Status: resp.StatusCode}
		if resp.StatusCode == http.StatusServiceUnavailable {
			fe.Backoff = f.config.OverloadBackoff
			f.backoff.SetBackoff(ch, fe.Backoff)
			f.metrics.RecordBackoff("overload")
			f.logger.Warn("head-end overloaded, backing off channel",
				slog.String("channel", ch.String()),
				slog.Duration("backoff", fe.Backoff),
			)
		} else {
			f.logger.Debug("snapshot http error",
				slog.String("channel", ch.String()),
				slog.Int("status", resp.StatusCode),
			)
		}
		return nil, fe
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize+1))
	if err != nil {
		return nil, f.transportError(ch, err)
	}
	if len(data) > maxSnapshotSize {
		return nil, &Error{Kind: KindMalformed, Channel: ch, Err: fmt.Errorf("snapshot larger than %d bytes", maxSnapshotSize)}
	}
	if !camera.ValidJPEG(data) {
		f.logger.Debug("malformed snapshot",
			slog.String("channel", ch.String()),
			slog.Int("bytes", len(data)),
		)
		return nil, &Error{Kind: KindMalformed, Channel: ch, Err: errors.New("payload is not a complete JPEG")}
	}
	return data, nil
}

// transportError classifies a request or body read error. Timeouts and
// abandoned requests carry no penalty; anything else is a connection
// failure and backs the channel off.
func (f *Fetcher) transportError(ch camera.ChannelID, err error) error {
	if isTimeout(err) || errors.Is(err, context.Canceled) {
		f.logger.Debug("snapshot timed out",
			slog.String("channel", ch.String()),
			slog.String("error", err.Error()),
		)
		return &Error{Kind: KindTimeout, Channel: ch, Err: err}
	}

	d := f.config.ConnectionBackoff()
	f.backoff.SetBackoff(ch, d)
	f.metrics.RecordBackoff("connection")
	f.logger.Warn("connection error, backing off channel",
		slog.String("channel", ch.String()),
		slog.Duration("backoff", d),
		slog.String("error", err.Error()),
	)
	return &Error{Kind: KindConnection, Channel: ch, Backoff: d, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
