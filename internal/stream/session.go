// Package stream reads the head-end's primary MJPEG stream and keeps the
// latest frame in the cache under the main channel.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/detector"
	"github.com/jmylchreest/camgate/internal/framecache"
	"github.com/jmylchreest/camgate/internal/observability"
	"github.com/jmylchreest/camgate/pkg/httpclient"
)

// Connection status values reported by Status.
const (
	StatusStopped    = "stopped"
	StatusConnecting = "connecting"
	StatusStreaming  = "streaming"
)

// chunkSize is the read size for the stream body.
const chunkSize = 4096

// maxBuffer bounds the demux buffer when the stream carries no frame markers.
const maxBuffer = 4 << 20

// ErrIdle is recorded when the stream delivers no bytes within the idle timeout.
var ErrIdle = errors.New("stream idle timeout")

// Annotator draws detections onto a frame.
type Annotator interface {
	Annotate(ctx context.Context, jpegData []byte) ([]byte, []detector.Detection, error)
}

// Publisher receives every new main frame.
type Publisher interface {
	Offer(frame []byte)
}

// SessionReset rebuilds the head-end session.
type SessionReset interface {
	Reset()
}

// Config holds stream timing.
type Config struct {
	// IdleTimeout ends the stream when no bytes arrive for this long.
	IdleTimeout time.Duration
	// StallThreshold is how old the last frame may be before Start treats a
	// running stream as stalled and restarts it.
	StallThreshold time.Duration
	// ConnectTimeout is how long Start leaves a reader that has not yet
	// produced a frame before treating it as stalled.
	ConnectTimeout time.Duration
	// DetectInterval is the minimum time between detections.
	DetectInterval time.Duration
}

// DefaultConfig returns a 10s idle timeout, 5s stall threshold, 5s connect
// grace and one detection every 2s.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    10 * time.Second,
		StallThreshold: 5 * time.Second,
		ConnectTimeout: 5 * time.Second,
		DetectInterval: 2 * time.Second,
	}
}

// Status describes the stream for health reporting.
type Status struct {
	Streaming  bool      `json:"streaming"`
	Connection string    `json:"connection"`
	LastFrame  time.Time `json:"last_frame,omitempty"`
	Frames     uint64    `json:"frames"`
}

// Session is the long-lived main stream reader. Restarting after a failure
// is always an explicit Start.
type Session struct {
	pool      *httpclient.Pool
	endpoints *camera.Endpoints
	cache     framecache.Store
	config    Config

	annotator Annotator
	publisher Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time

	streaming atomic.Bool
	frames    atomic.Uint64

	// runMu serialises Start and Stop. The reader never takes it.
	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	connection string
	startedAt  time.Time
	lastFrame  time.Time
	detections []detector.Detection
}

// NewSession creates a stopped session.
func NewSession(pool *httpclient.Pool, endpoints *camera.Endpoints, cache framecache.Store, cfg Config) *Session {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = def.StallThreshold
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.DetectInterval <= 0 {
		cfg.DetectInterval = def.DetectInterval
	}
	return &Session{
		pool:       pool,
		endpoints:  endpoints,
		cache:      cache,
		config:     cfg,
		logger:     slog.Default(),
		now:        time.Now,
		connection: StatusStopped,
	}
}

// WithLogger sets the logger.
func (s *Session) WithLogger(logger *slog.Logger) *Session {
	s.logger = logger.With(slog.String("component", "stream"))
	return s
}

// WithAnnotator enables throttled detection on the main stream.
func (s *Session) WithAnnotator(a Annotator) *Session {
	s.annotator = a
	return s
}

// WithPublisher forwards each new frame to p.
func (s *Session) WithPublisher(p Publisher) *Session {
	s.publisher = p
	return s
}

// WithMetrics sets the metrics collector.
func (s *Session) WithMetrics(m *observability.Metrics) *Session {
	s.metrics = m
	return s
}

// WithClock overrides the clock used for frame times and stall checks.
func (s *Session) WithClock(now func() time.Time) *Session {
	s.now = now
	return s
}

// Streaming reports the streaming flag.
func (s *Session) Streaming() bool {
	return s.streaming.Load()
}

// Start begins reading the main stream. If a stream is already running and
// has produced a frame within the stall threshold, or is still waiting for
// its first frame within the connect timeout, Start does nothing and
// returns false. A stalled stream is stopped, the head-end session reset
// and a new stream started. The stream runs until Stop, ctx cancellation,
// a connection error or the idle timeout.
func (s *Session) Start(ctx context.Context) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.streaming.Load() {
		s.mu.Lock()
		last, conn, started := s.lastFrame, s.connection, s.startedAt
		s.mu.Unlock()
		if s.healthy(last, conn, started) {
			s.logger.Debug("stream healthy, start ignored", slog.String("connection", conn))
			return false
		}
		s.logger.Warn("stream stalled, restarting", slog.Time("last_frame", last))
		s.halt()
		s.pool.Reset()
	}
	if s.cancel != nil {
		// previous reader ended on its own
		s.halt()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Lock()
	s.connection = StatusConnecting
	s.startedAt = s.now()
	s.lastFrame = time.Time{}
	s.mu.Unlock()
	s.streaming.Store(true)
	s.metrics.SetStreamActive(true)

	go s.run(runCtx, s.done)
	return true
}

// healthy reports whether a running reader is making progress. Before the
// first frame it gets the connect timeout, plus the stall threshold once
// the head-end has accepted the request.
func (s *Session) healthy(last time.Time, conn string, started time.Time) bool {
	now := s.now()
	if !last.IsZero() {
		return now.Sub(last) <= s.config.StallThreshold
	}
	switch conn {
	case StatusConnecting:
		return now.Sub(started) <= s.config.ConnectTimeout
	case StatusStreaming:
		return now.Sub(started) <= s.config.ConnectTimeout+s.config.StallThreshold
	}
	return false
}

// Stop clears the streaming flag, waits for the reader to exit and drops
// the cached main frame and detections.
func (s *Session) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.halt()
	s.cache.Delete(camera.MainChannel)
	s.mu.Lock()
	s.detections = nil
	s.connection = StatusStopped
	s.mu.Unlock()
}

// halt stops the reader and waits for it. Callers must hold runMu.
func (s *Session) halt() {
	s.streaming.Store(false)
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
		s.done = nil
	}
	s.metrics.SetStreamActive(false)
}

// Wait blocks until the current reader, if any, exits.
func (s *Session) Wait() {
	s.runMu.Lock()
	done := s.done
	s.runMu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns the current connection state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Streaming:  s.streaming.Load(),
		Connection: s.connection,
		LastFrame:  s.lastFrame,
		Frames:     s.frames.Load(),
	}
}

// Detections returns the detections for the latest annotated main frame.
func (s *Session) Detections() []detector.Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]detector.Detection(nil), s.detections...)
}

func (s *Session) setConnection(status string) {
	s.mu.Lock()
	s.connection = status
	s.mu.Unlock()
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.streaming.Store(false)
		s.metrics.SetStreamActive(false)
	}()

	err := s.read(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		s.logger.Info("stream stopped")
		return
	}
	s.setConnection("error: " + err.Error())
	s.logger.Warn("stream ended", slog.String("error", err.Error()))
}

// read opens the stream and demuxes frames until the flag is cleared or
// the connection ends.
func (s *Session) read(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoints.MainStream(s.now()), nil)
	if err != nil {
		return fmt.Errorf("creating stream request: %w", err)
	}

	resp, err := s.pool.StreamClient().Do(req)
	if err != nil {
		return fmt.Errorf("connecting to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.setConnection(fmt.Sprintf("http %d", resp.StatusCode))
		s.logger.Warn("stream rejected", slog.Int("status", resp.StatusCode))
		return nil
	}

	s.setConnection(StatusStreaming)
	s.logger.Info("stream connected")

	idle := time.AfterFunc(s.config.IdleTimeout, func() { cancel(ErrIdle) })
	defer idle.Stop()

	limiter := rate.NewLimiter(rate.Every(s.config.DetectInterval), 1)
	chunk := make([]byte, chunkSize)
	var buf []byte

	for s.streaming.Load() {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			idle.Reset(s.config.IdleTimeout)
			buf = append(buf, chunk[:n]...)
			buf = s.demux(ctx, buf, limiter)
		}
		if rerr != nil {
			if errors.Is(context.Cause(ctx), ErrIdle) {
				return ErrIdle
			}
			if errors.Is(rerr, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return rerr
		}
	}
	return nil
}

// demux extracts every complete frame from buf and returns the remainder.
func (s *Session) demux(ctx context.Context, buf []byte, limiter *rate.Limiter) []byte {
	for {
		frame, rest, ok := camera.NextFrame(buf)
		buf = rest
		if !ok {
			break
		}
		s.handleFrame(ctx, frame, limiter)
	}
	if len(buf) > maxBuffer {
		s.logger.Warn("stream buffer overflow, discarding", slog.Int("bytes", len(buf)))
		buf = buf[:0]
	}
	return buf
}

func (s *Session) handleFrame(ctx context.Context, frame []byte, limiter *rate.Limiter) {
	s.cache.Put(camera.MainChannel, frame)
	s.frames.Add(1)
	s.metrics.RecordStreamFrame()

	s.mu.Lock()
	s.lastFrame = s.now()
	s.mu.Unlock()

	out := frame
	if s.annotator != nil && limiter.Allow() {
		annotated, dets, err := s.annotator.Annotate(ctx, frame)
		if err != nil {
			s.metrics.RecordFetch(camera.MainChannel.String(), observability.OutcomeDetector)
			s.logger.Debug("stream detection failed", slog.String("error", err.Error()))
		} else {
			out = annotated
			s.cache.Put(camera.MainChannel, annotated)
			s.mu.Lock()
			s.detections = dets
			s.mu.Unlock()
		}
	}

	if s.publisher != nil {
		s.publisher.Offer(out)
	}
}
