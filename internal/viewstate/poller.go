package viewstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/cycle"
	"github.com/jmylchreest/camgate/internal/orchestrator"
)

// FetchManyer runs a multi-channel campaign.
type FetchManyer interface {
	FetchMany(ctx context.Context, req orchestrator.Request) orchestrator.Response
}

// PollerConfig holds the refresh interval for each kind of view.
type PollerConfig struct {
	// SingleInterval is used in single view.
	// Default: 1 second
	SingleInterval time.Duration

	// GridInterval is used for the n-up grids.
	// Default: 5 seconds
	GridInterval time.Duration

	// CycleInterval is used for both cycle modes.
	// Default: 5 seconds
	CycleInterval time.Duration
}

// DefaultPollerConfig returns the default poller configuration.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		SingleInterval: time.Second,
		GridInterval:   5 * time.Second,
		CycleInterval:  5 * time.Second,
	}
}

// Poller is the single acquisition loop. It fetches the channels the
// current view needs on the view's interval, keeping the cache warm.
// Restart replaces the running loop, so at most one loop drives fetches.
type Poller struct {
	mu sync.Mutex

	orch   FetchManyer
	cycle  *cycle.Scheduler
	config PollerConfig
	now    func() time.Time
	logger *slog.Logger

	parent context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a stopped poller.
func NewPoller(orch FetchManyer, sched *cycle.Scheduler) *Poller {
	return &Poller{
		orch:   orch,
		cycle:  sched,
		config: DefaultPollerConfig(),
		now:    time.Now,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger.
func (p *Poller) WithLogger(logger *slog.Logger) *Poller {
	p.logger = logger.With(slog.String("component", "poller"))
	return p
}

// WithConfig applies non-zero intervals from config.
func (p *Poller) WithConfig(config PollerConfig) *Poller {
	if config.SingleInterval > 0 {
		p.config.SingleInterval = config.SingleInterval
	}
	if config.GridInterval > 0 {
		p.config.GridInterval = config.GridInterval
	}
	if config.CycleInterval > 0 {
		p.config.CycleInterval = config.CycleInterval
	}
	return p
}

// Start runs the loop for state until ctx ends or Stop is called.
func (p *Poller) Start(ctx context.Context, state State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.parent != nil {
		return fmt.Errorf("poller already started")
	}
	p.parent = ctx
	p.launch(state)
	return nil
}

// Restart stops the running loop, waits for it to exit and starts a new
// one for state. It is a no-op when the poller was never started.
func (p *Poller) Restart(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.parent == nil {
		return
	}
	p.halt()
	p.launch(state)
}

// Stop ends the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.halt()
	p.parent = nil
}

// Running reports whether a loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil
}

// launch starts the loop. Callers must hold mu.
func (p *Poller) launch(state State) {
	ctx, cancel := context.WithCancel(p.parent)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, state, p.done)
}

// halt cancels the loop and waits for it. Callers must hold mu.
func (p *Poller) halt() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

func (p *Poller) interval(m Mode) time.Duration {
	switch m {
	case ModeSingle:
		return p.config.SingleInterval
	case ModeGrid4, ModeGrid9, ModeGrid16:
		return p.config.GridInterval
	case ModeCycle, ModeCycleExpanded:
		return p.config.CycleInterval
	default:
		return p.config.GridInterval
	}
}

// request builds the campaign for one poll of state.
func (p *Poller) request(state State) orchestrator.Request {
	switch state.Mode {
	case ModeSingle:
		return orchestrator.Request{
			Channels: []camera.ChannelID{state.SelectedChannel},
			Intent:   orchestrator.IntentInteractive,
		}
	case ModeGrid4, ModeGrid9, ModeGrid16:
		return orchestrator.Request{
			Channels: camera.FirstN(state.Mode.GridSize()),
			Intent:   orchestrator.IntentGrid,
		}
	case ModeCycle, ModeCycleExpanded:
		return orchestrator.Request{
			Channels: p.cycle.CurrentGroup(p.now()),
			Intent:   orchestrator.IntentCycle,
		}
	default:
		return orchestrator.Request{}
	}
}

func (p *Poller) run(ctx context.Context, state State, done chan struct{}) {
	defer close(done)

	interval := p.interval(state.Mode)
	p.logger.Debug("poller started",
		slog.String("mode", state.Mode.String()),
		slog.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		req := p.request(state)
		if len(req.Channels) > 0 {
			resp := p.orch.FetchMany(ctx, req)
			p.logger.Debug("poll completed",
				slog.String("campaign", resp.Campaign),
				slog.Int("frames", len(resp.Frames)),
			)
		}

		select {
		case <-ctx.Done():
			p.logger.Debug("poller stopping", slog.String("mode", state.Mode.String()))
			return
		case <-ticker.C:
		}
	}
}
