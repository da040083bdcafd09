package httpclient

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// PoolConfig configures the head-end session.
type PoolConfig struct {
	Username string
	Password string

	// ConnectTimeout bounds TCP connection setup for snapshot requests.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers on snapshot requests.
	ReadTimeout time.Duration
	// StreamConnectTimeout bounds connection setup for long-lived MJPEG reads.
	StreamConnectTimeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	UserAgent           string

	// Transport replaces the network transport, mainly for tests. Basic Auth
	// is still applied on top of it.
	Transport http.RoundTripper

	Logger *slog.Logger
}

// DefaultPoolConfig returns the head-end defaults: 3s connect, 5s read,
// 5s stream connect, up to 20 idle connections.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		ConnectTimeout:       3 * time.Second,
		ReadTimeout:          5 * time.Second,
		StreamConnectTimeout: 5 * time.Second,
		MaxIdleConns:         20,
		MaxIdleConnsPerHost:  10,
		UserAgent:            DefaultUserAgentHeader,
	}
}

// Pool is the resettable head-end session.
//
// Snapshot requests run between Acquire and the returned release func and
// hold a shared lock for the whole request and body read. Reset takes the
// exclusive lock, so it waits for in-flight snapshots and no snapshot starts
// on a transport that is being torn down. While a Reset waits, new Acquire
// calls block behind it until the in-flight snapshots drain (up to the
// connect plus read timeout).
//
// The stream client is published through an atomic pointer and never takes
// the lock, so stream starts and channel proxies are not held up by a
// pending Reset; they get the current client until the swap.
type Pool struct {
	mu         sync.RWMutex
	config     PoolConfig
	snapshot   *http.Client
	stream     atomic.Pointer[http.Client]
	transports []*http.Transport
	generation atomic.Uint64
	logger     *slog.Logger
}

// NewPool builds a pool with fresh transports.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgentHeader
	}
	p := &Pool{config: cfg, logger: cfg.Logger}
	p.build()
	return p
}

// build creates new clients. Callers must hold mu exclusively (or be the constructor).
func (p *Pool) build() {
	p.transports = p.transports[:0]
	p.snapshot = &http.Client{Transport: p.roundTripper(p.config.ConnectTimeout, p.config.ReadTimeout)}
	p.stream.Store(&http.Client{Transport: p.roundTripper(p.config.StreamConnectTimeout, p.config.ReadTimeout)})
	p.generation.Add(1)
}

func (p *Pool) roundTripper(connect, header time.Duration) http.RoundTripper {
	base := p.config.Transport
	if base == nil {
		t := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   connect,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          p.config.MaxIdleConns,
			MaxIdleConnsPerHost:   p.config.MaxIdleConnsPerHost,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: header,
			// The head-end returns JPEG; compression negotiation only adds latency.
			DisableCompression: true,
		}
		p.transports = append(p.transports, t)
		base = t
	}
	return &authTransport{
		base:      base,
		username:  p.config.Username,
		password:  p.config.Password,
		userAgent: p.config.UserAgent,
	}
}

// Acquire returns the snapshot client and a release func that must be
// called once the response body has been fully read and closed.
func (p *Pool) Acquire() (*http.Client, func()) {
	p.mu.RLock()
	return p.snapshot, p.mu.RUnlock
}

// StreamClient returns the client for long-lived MJPEG reads. It neither
// blocks Reset nor waits for one; a reset closes its idle connections but
// leaves an active stream alone.
func (p *Pool) StreamClient() *http.Client {
	return p.stream.Load()
}

// Reset discards pooled connections and rebuilds both clients. It blocks
// until in-flight snapshot requests have released the pool.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
	p.build()

	p.logger.Info("camera session reset", slog.Uint64("generation", p.generation.Load()))
}

// Generation increments on every Reset, starting at 1.
func (p *Pool) Generation() uint64 {
	return p.generation.Load()
}

// authTransport adds fixed Basic Auth and a User-Agent to every request.
type authTransport struct {
	base      http.RoundTripper
	username  string
	password  string
	userAgent string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if t.username != "" || t.password != "" {
		r.SetBasicAuth(t.username, t.password)
	}
	if r.Header.Get(HeaderUserAgent) == "" {
		r.Header.Set(HeaderUserAgent, t.userAgent)
	}
	return t.base.RoundTrip(r)
}

var _ http.RoundTripper = (*authTransport)(nil)
