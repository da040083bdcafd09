package framecache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/testutil"
)

func newTestCache() (*Cache, *testutil.Clock) {
	clock := testutil.NewClock()
	return New(DefaultCeiling, 0).WithClock(clock.Now), clock
}

func TestCache_Freshness(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		maxAge  time.Duration
		want    bool
	}{
		{"just stored", 0, 500 * time.Millisecond, true},
		{"inside window", 499 * time.Millisecond, 500 * time.Millisecond, true},
		{"at boundary", 500 * time.Millisecond, 500 * time.Millisecond, false},
		{"stale read allowed", 20 * time.Second, 30 * time.Second, true},
		{"beyond stale", 31 * time.Second, 30 * time.Second, false},
		{"beyond ceiling", 61 * time.Second, 2 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clock := newTestCache()
			c.Put(3, []byte("frame"))
			clock.Advance(tt.elapsed)

			_, ok := c.Get(3, tt.maxAge)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestCache_RoundTrip(t *testing.T) {
	c, _ := newTestCache()
	data := testutil.SampleJPEG(8, 8, 1)

	c.Put(camera.MainChannel, data)
	f, ok := c.Get(camera.MainChannel, time.Second)
	require.True(t, ok)
	assert.Equal(t, data, f.Data)
	assert.Equal(t, camera.MainChannel, f.Channel)
}

func TestCache_OneFramePerChannel(t *testing.T) {
	c, clock := newTestCache()
	c.Put(1, []byte("old"))
	clock.Advance(time.Second)
	c.Put(1, []byte("new"))

	f, ok := c.Get(1, time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), f.Data)
	assert.Equal(t, clock.Now(), f.CapturedAt)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newTestCache()
	c.Put(1, []byte("a"))
	clock.Advance(40 * time.Second)
	c.Put(2, []byte("b"))
	clock.Advance(25 * time.Second)

	removed := c.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get(2, time.Minute)
	assert.True(t, ok)
}

func TestCache_Delete(t *testing.T) {
	c, _ := newTestCache()
	c.Put(camera.MainChannel, []byte("x"))
	c.Delete(camera.MainChannel)

	_, ok := c.Get(camera.MainChannel, time.Minute)
	assert.False(t, ok)
}

func TestCache_Concurrent(t *testing.T) {
	c, _ := newTestCache()
	var wg sync.WaitGroup
	for i := 1; i <= camera.MaxChannels; i++ {
		wg.Add(1)
		go func(ch camera.ChannelID) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Put(ch, []byte{byte(j)})
				c.Get(ch, time.Second)
			}
		}(camera.ChannelID(i))
	}
	wg.Wait()
	assert.Equal(t, camera.MaxChannels, c.Len())
}
