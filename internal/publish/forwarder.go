// Package publish pushes the latest main frame to a remote receiver.
package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmylchreest/camgate/pkg/httpclient"
)

// Config configures the forwarder.
type Config struct {
	// URL is the receiver base; frames are posted to {URL}/receive_image.
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	// RetryAttempts is how many times a post refused with 429, 502, 503
	// or 504 is repeated, starting RetryDelay apart and doubling.
	RetryAttempts int
	RetryDelay    time.Duration
	Logger        *slog.Logger
	// HTTPClient replaces the underlying client, mainly for tests.
	HTTPClient *http.Client
}

type payload struct {
	Image     string  `json:"image"`
	Timestamp float64 `json:"timestamp"`
}

// Forwarder posts at most one frame per interval. Offer never blocks; a
// frame offered while a send is pending replaces the pending one.
type Forwarder struct {
	endpoint string
	client   *httpclient.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time

	pending chan []byte

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	sent   uint64
	failed uint64
}

// New creates a stopped forwarder.
func New(cfg Config) (*Forwarder, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("forwarder url is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.Logger = cfg.Logger
	hc.RetryAttempts = cfg.RetryAttempts
	if cfg.RetryDelay > 0 {
		hc.RetryDelay = cfg.RetryDelay
	}
	hc.BaseClient = cfg.HTTPClient
	if hc.BaseClient == nil {
		hc.BaseClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Forwarder{
		endpoint: strings.TrimRight(cfg.URL, "/") + "/receive_image",
		client:   httpclient.New(hc),
		limiter:  rate.NewLimiter(rate.Every(cfg.Interval), 1),
		logger:   cfg.Logger.With(slog.String("component", "forwarder")),
		now:      time.Now,
		pending:  make(chan []byte, 1),
	}, nil
}

// Offer queues frame for sending if the interval allows it.
func (f *Forwarder) Offer(frame []byte) {
	if !f.limiter.Allow() {
		return
	}
	select {
	case f.pending <- frame:
	default:
		// a send is already queued; keep the newer frame
		select {
		case <-f.pending:
		default:
		}
		select {
		case f.pending <- frame:
		default:
		}
	}
}

// Start runs the send loop until ctx ends or Stop is called.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return fmt.Errorf("forwarder already started")
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.loop(ctx, f.done)
	f.logger.Info("forwarder started", slog.String("endpoint", f.endpoint))
	return nil
}

// Stop ends the send loop and waits for it.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Stats returns how many frames were sent and how many sends failed.
func (f *Forwarder) Stats() (sent, failed uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent, f.failed
}

func (f *Forwarder) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-f.pending:
			err := f.send(ctx, frame)
			f.mu.Lock()
			if err != nil {
				f.failed++
			} else {
				f.sent++
			}
			f.mu.Unlock()
			if err != nil {
				f.logger.Warn("frame forward failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (f *Forwarder) send(ctx context.Context, frame []byte) error {
	now := f.now()
	body, err := json.Marshal(payload{
		Image:     base64.StdEncoding.EncodeToString(frame),
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("receiver returned %d", resp.StatusCode)
	}
	f.logger.Debug("frame forwarded", slog.Int("bytes", len(frame)))
	return nil
}
