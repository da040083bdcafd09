package orchestrator

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// Campaign is one logical multi-channel fetch. It stays current until a
// newer campaign begins or the orchestrator is interrupted.
type Campaign struct {
	ID         ulid.ULID
	Generation uint64

	ctx    context.Context
	cancel context.CancelFunc
	o      *Orchestrator
}

// Begin starts a new campaign, superseding the current one. The returned
// campaign's context is derived from ctx and is cancelled on supersession.
func (o *Orchestrator) Begin(ctx context.Context) *Campaign {
	cctx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	if o.cancelCurrent != nil {
		o.cancelCurrent()
	}
	o.generation++
	c := &Campaign{
		ID:         ulid.Make(),
		Generation: o.generation,
		ctx:        cctx,
		cancel:     cancel,
		o:          o,
	}
	o.cancelCurrent = cancel
	o.mu.Unlock()

	return c
}

// Interrupt supersedes the current campaign without starting a new one.
func (o *Orchestrator) Interrupt() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelCurrent != nil {
		o.cancelCurrent()
		o.cancelCurrent = nil
	}
	o.generation++
	o.logger.Debug("campaign interrupted", "generation", o.generation)
}

// Generation returns the number of campaigns begun or interrupted so far.
func (o *Orchestrator) Generation() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation
}

// Current reports whether c is still the logically current campaign.
func (c *Campaign) Current() bool {
	return c.o.Generation() == c.Generation && c.ctx.Err() == nil
}

// Context is cancelled when the campaign is superseded or ended.
func (c *Campaign) Context() context.Context {
	return c.ctx
}

// End releases the campaign's context. It does not affect newer campaigns.
func (c *Campaign) End() {
	c.cancel()
	c.o.mu.Lock()
	if c.o.generation == c.Generation {
		c.o.cancelCurrent = nil
	}
	c.o.mu.Unlock()
}
