// Package framecache holds the most recent JPEG per camera channel.
//
// Each channel keeps exactly one frame. Reads state how old a frame may be;
// the store itself only enforces a hard ceiling after which frames are
// dropped by the janitor or an explicit Sweep.
package framecache

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jmylchreest/camgate/internal/camera"
)

// DefaultCeiling is the age after which frames are garbage-collected.
const DefaultCeiling = 60 * time.Second

// Frame is an immutable cached snapshot.
type Frame struct {
	Channel    camera.ChannelID
	Data       []byte
	CapturedAt time.Time
}

// Age returns how old the frame is at now.
func (f Frame) Age(now time.Time) time.Duration {
	return now.Sub(f.CapturedAt)
}

// Store is the frame cache contract used by the fetcher, orchestrator and stream.
type Store interface {
	Get(ch camera.ChannelID, maxAge time.Duration) (Frame, bool)
	Put(ch camera.ChannelID, data []byte)
	Delete(ch camera.ChannelID)
	Sweep() int
	Len() int
}

// Cache is a Store backed by go-cache.
type Cache struct {
	items   *cache.Cache
	ceiling time.Duration
	now     func() time.Time
}

// New creates a cache whose entries expire after ceiling (DefaultCeiling
// when zero). When janitor is positive go-cache evicts expired entries on
// that interval in the background; otherwise eviction relies on Sweep.
func New(ceiling, janitor time.Duration) *Cache {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if janitor < 0 {
		janitor = 0
	}
	return &Cache{
		items:   cache.New(ceiling, janitor),
		ceiling: ceiling,
		now:     time.Now,
	}
}

// WithClock overrides the clock. Only intended for tests; expiry decisions
// made by Get and Sweep use this clock rather than go-cache's wall clock.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func key(ch camera.ChannelID) string {
	return ch.String()
}

// Get returns the frame for ch if it is strictly younger than maxAge.
func (c *Cache) Get(ch camera.ChannelID, maxAge time.Duration) (Frame, bool) {
	v, ok := c.items.Get(key(ch))
	if !ok {
		return Frame{}, false
	}
	f := v.(Frame)
	age := f.Age(c.now())
	if age >= maxAge || age >= c.ceiling {
		return Frame{}, false
	}
	return f, true
}

// Put stores data as the current frame for ch, captured now. The slice is
// retained; callers must not modify it afterwards.
func (c *Cache) Put(ch camera.ChannelID, data []byte) {
	c.items.Set(key(ch), Frame{Channel: ch, Data: data, CapturedAt: c.now()}, c.ceiling)
}

// Delete removes the frame for ch.
func (c *Cache) Delete(ch camera.ChannelID) {
	c.items.Delete(key(ch))
}

// Sweep removes frames older than the ceiling and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0
	for k, item := range c.items.Items() {
		f, ok := item.Object.(Frame)
		if !ok || f.Age(now) >= c.ceiling {
			c.items.Delete(k)
			removed++
		}
	}
	c.items.DeleteExpired()
	return removed
}

// Len returns the number of cached frames, including any not yet swept.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// Flush drops every frame.
func (c *Cache) Flush() {
	c.items.Flush()
}

var _ Store = (*Cache)(nil)
