package viewstate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/cycle"
)

// State is the complete view state. It is always replaced wholesale.
type State struct {
	Mode            Mode
	SelectedChannel camera.ChannelID
	// CycleIndex and LastGroupSwitch are reported from the cycle scheduler
	// and ignored by Replace.
	CycleIndex      int
	LastGroupSwitch time.Time
}

// Interrupter stops the current fetch campaign.
type Interrupter interface {
	Interrupt()
}

// Listener is notified after every mode change with the new state.
type Listener func(State)

// Controller owns the view state. Transitions come only from explicit
// commands; a change of mode interrupts the current fetch campaign and
// notifies listeners so the acquisition loop can restart.
type Controller struct {
	mu        sync.Mutex
	state     State
	cycle     *cycle.Scheduler
	interrupt Interrupter
	listeners []Listener
	now       func() time.Time
	logger    *slog.Logger
}

// DefaultChannel is the channel shown when none has been selected.
const DefaultChannel camera.ChannelID = 1

// DefaultState is the state at startup: single view on DefaultChannel.
func DefaultState() State {
	return State{Mode: ModeSingle, SelectedChannel: DefaultChannel}
}

// NewController starts in DefaultState.
func NewController(sched *cycle.Scheduler, interrupt Interrupter) *Controller {
	return &Controller{
		state:     DefaultState(),
		cycle:     sched,
		interrupt: interrupt,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// WithLogger sets the logger.
func (c *Controller) WithLogger(logger *slog.Logger) *Controller {
	c.logger = logger.With(slog.String("component", "viewstate"))
	return c
}

// WithClock overrides the clock.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// OnChange registers a listener for mode changes.
func (c *Controller) OnChange(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Get returns the current state.
func (c *Controller) Get() State {
	c.mu.Lock()
	s := c.state
	c.mu.Unlock()
	return c.decorate(s)
}

func (c *Controller) decorate(s State) State {
	if c.cycle != nil {
		now := c.now()
		s.CycleIndex = c.cycle.Index(now)
		s.LastGroupSwitch = c.cycle.LastSwitch()
	}
	return s
}

// SelectChannel switches to single view on ch.
func (c *Controller) SelectChannel(ch camera.ChannelID) (State, error) {
	if !ch.Valid() || ch == camera.MainChannel {
		return State{}, camera.ErrInvalidChannel
	}
	return c.apply(func(s State) State {
		s.Mode = ModeSingle
		s.SelectedChannel = ch
		return s
	}), nil
}

// SetGrid switches to the n-up grid. n == 1 selects single view.
func (c *Controller) SetGrid(n int) (State, error) {
	m, err := GridMode(n)
	if err != nil {
		return State{}, err
	}
	return c.SetMode(m), nil
}

// SetMode switches to m, keeping the selected channel.
func (c *Controller) SetMode(m Mode) State {
	return c.apply(func(s State) State {
		s.Mode = m
		return s
	})
}

// ChangeView switches to m and always interrupts the current campaign,
// including when m is already the current mode.
func (c *Controller) ChangeView(m Mode) State {
	return c.transition(func(s State) State {
		s.Mode = m
		return s
	}, true)
}

// ToggleCycle enters cycle mode, or returns to single view if already in it.
func (c *Controller) ToggleCycle() State {
	return c.toggle(ModeCycle)
}

// ToggleCycleExpanded enters expanded cycle mode, or returns to single view
// if already in it.
func (c *Controller) ToggleCycleExpanded() State {
	return c.toggle(ModeCycleExpanded)
}

func (c *Controller) toggle(m Mode) State {
	return c.apply(func(s State) State {
		if s.Mode == m {
			s.Mode = ModeSingle
		} else {
			s.Mode = m
		}
		return s
	})
}

// Replace overwrites the state wholesale; nothing is carried over from the
// previous state. Last writer wins. A zero selected channel means
// DefaultChannel.
func (c *Controller) Replace(next State) (State, error) {
	if next.SelectedChannel == 0 {
		next.SelectedChannel = DefaultChannel
	}
	if !next.SelectedChannel.Valid() {
		return State{}, camera.ErrInvalidChannel
	}
	return c.apply(func(State) State {
		return State{Mode: next.Mode, SelectedChannel: next.SelectedChannel}
	}), nil
}

// apply runs a transition and, if the mode changed, interrupts the current
// campaign, restarts the cycle when entering a cycle mode, and notifies
// listeners outside the lock. A new selection in single view notifies
// listeners without interrupting.
func (c *Controller) apply(fn func(State) State) State {
	return c.transition(fn, false)
}

// transition is apply with forceInterrupt, which interrupts the current
// campaign even when the mode is unchanged.
func (c *Controller) transition(fn func(State) State, forceInterrupt bool) State {
	c.mu.Lock()
	prev := c.state
	next := fn(prev)
	c.state = next
	changed := prev.Mode != next.Mode
	retarget := next.Mode == ModeSingle && prev.SelectedChannel != next.SelectedChannel
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	if forceInterrupt && !changed && c.interrupt != nil {
		c.interrupt.Interrupt()
		c.logger.Debug("view reasserted, campaign interrupted",
			slog.String("mode", next.Mode.String()),
		)
	}

	if retarget && !changed {
		decorated := c.decorate(next)
		for _, l := range listeners {
			l(decorated)
		}
		return decorated
	}

	if changed {
		if next.Mode.Cycling() && !prev.Mode.Cycling() && c.cycle != nil {
			c.cycle.Reset(c.now())
		}
		if c.interrupt != nil {
			c.interrupt.Interrupt()
		}
		c.logger.Info("view mode changed",
			slog.String("from", prev.Mode.String()),
			slog.String("to", next.Mode.String()),
			slog.String("channel", next.SelectedChannel.String()),
		)
		decorated := c.decorate(next)
		for _, l := range listeners {
			l(decorated)
		}
		return decorated
	}
	return c.decorate(next)
}
