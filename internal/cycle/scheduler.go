// Package cycle alternates between two fixed channel groups on an interval.
package cycle

import (
	"errors"
	"sync"
	"time"

	"github.com/jmylchreest/camgate/internal/camera"
)

// DefaultInterval is how long each group is shown.
const DefaultInterval = 20 * time.Second

// Default channel groups.
var (
	DefaultGroupA = []camera.ChannelID{2, 3, 4, 7, 11, 14}
	DefaultGroupB = []camera.ChannelID{1, 5, 10, 13, 14, 15}
)

// ErrEmptyGroup is returned when either group has no channels.
var ErrEmptyGroup = errors.New("cycle groups must not be empty")

// Scheduler decides which group is active. It never fetches frames.
type Scheduler struct {
	mu         sync.Mutex
	groups     [2][]camera.ChannelID
	interval   time.Duration
	index      int
	lastSwitch time.Time
}

// New creates a scheduler starting on group A at start.
func New(groupA, groupB []camera.ChannelID, interval time.Duration, start time.Time) (*Scheduler, error) {
	if len(groupA) == 0 || len(groupB) == 0 {
		return nil, ErrEmptyGroup
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		groups:     [2][]camera.ChannelID{clone(groupA), clone(groupB)},
		interval:   interval,
		lastSwitch: start,
	}, nil
}

// Tick flips the active group once per elapsed interval. Calls inside an
// interval are no-ops. Missed intervals are caught up so that the group
// only depends on how much time has passed since the last Reset.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(now)
}

func (s *Scheduler) advance(now time.Time) {
	elapsed := now.Sub(s.lastSwitch)
	if elapsed < s.interval {
		return
	}
	steps := int(elapsed / s.interval)
	s.index = (s.index + steps) % 2
	s.lastSwitch = s.lastSwitch.Add(time.Duration(steps) * s.interval)
}

// CurrentGroup ticks to now and returns a copy of the active group.
func (s *Scheduler) CurrentGroup(now time.Time) []camera.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(now)
	return clone(s.groups[s.index])
}

// Index returns the active group index (0 for A, 1 for B) as of now.
func (s *Scheduler) Index(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(now)
	return s.index
}

// LastSwitch returns when the active group last changed.
func (s *Scheduler) LastSwitch() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSwitch
}

// Reset returns to group A starting at now.
func (s *Scheduler) Reset(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = 0
	s.lastSwitch = now
}

func clone(in []camera.ChannelID) []camera.ChannelID {
	out := make([]camera.ChannelID, len(in))
	copy(out, in)
	return out
}
