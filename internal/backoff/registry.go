// Package backoff tracks per-channel "do not fetch until" deadlines.
package backoff

import (
	"sort"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jmylchreest/camgate/internal/camera"
)

// Registry records the earliest time each channel may be fetched again.
// A new backoff always overwrites the previous deadline.
type Registry struct {
	entries *cache.Cache
	now     func() time.Time
}

// NewRegistry creates an empty registry. Expired entries are removed lazily
// and by Prune; no background goroutine is started.
func NewRegistry() *Registry {
	return &Registry{
		entries: cache.New(cache.NoExpiration, 0),
		now:     time.Now,
	}
}

// WithClock overrides the clock used for deadline checks.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func key(ch camera.ChannelID) string {
	return ch.String()
}

// IsBackedOff reports whether ch is still inside its backoff window and how
// long remains.
func (r *Registry) IsBackedOff(ch camera.ChannelID) (bool, time.Duration) {
	v, ok := r.entries.Get(key(ch))
	if !ok {
		return false, 0
	}
	remaining := v.(time.Time).Sub(r.now())
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

// SetBackoff blocks ch for d from now, replacing any existing deadline.
func (r *Registry) SetBackoff(ch camera.ChannelID, d time.Duration) {
	r.entries.Set(key(ch), r.now().Add(d), cache.NoExpiration)
}

// Clear removes any backoff for ch.
func (r *Registry) Clear(ch camera.ChannelID) {
	r.entries.Delete(key(ch))
}

// Prune drops expired deadlines and returns how many were removed.
func (r *Registry) Prune() int {
	now := r.now()
	removed := 0
	for k, item := range r.entries.Items() {
		if deadline, ok := item.Object.(time.Time); !ok || !deadline.After(now) {
			r.entries.Delete(k)
			removed++
		}
	}
	return removed
}

// Active lists channels currently backed off with their remaining time,
// ordered by channel.
func (r *Registry) Active() []Entry {
	now := r.now()
	items := r.entries.Items()
	out := make([]Entry, 0, len(items))
	for k, item := range items {
		deadline, ok := item.Object.(time.Time)
		if !ok || !deadline.After(now) {
			continue
		}
		ch, err := camera.ParseChannel(k)
		if err != nil {
			continue
		}
		out = append(out, Entry{Channel: ch, RetryAfter: deadline, Remaining: deadline.Sub(now)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Entry is a snapshot of one active backoff.
type Entry struct {
	Channel    camera.ChannelID `json:"channel"`
	RetryAfter time.Time        `json:"retry_after"`
	Remaining  time.Duration    `json:"remaining"`
}
