package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jmylchreest/camgate/internal/backoff"
	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/fetcher"
	"github.com/jmylchreest/camgate/internal/framecache"
	"github.com/jmylchreest/camgate/internal/testutil"
)

// stubFetcher writes a frame to the cache for every channel, optionally
// blocking on a per-channel gate first.
type stubFetcher struct {
	cache framecache.Store

	mu       sync.Mutex
	gates    map[camera.ChannelID]chan struct{}
	calls    map[camera.ChannelID]int
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newStubFetcher(cache framecache.Store) *stubFetcher {
	return &stubFetcher{
		cache: cache,
		gates: make(map[camera.ChannelID]chan struct{}),
		calls: make(map[camera.ChannelID]int),
	}
}

func (s *stubFetcher) block(ch camera.ChannelID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := make(chan struct{})
	s.gates[ch] = g
	return g
}

func (s *stubFetcher) Calls(ch camera.ChannelID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[ch]
}

func (s *stubFetcher) Fetch(ctx context.Context, ch camera.ChannelID, _ bool) (fetcher.Result, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.peak.Load()
		if cur <= prev || s.peak.CompareAndSwap(prev, cur) {
			break
		}
	}

	s.mu.Lock()
	s.calls[ch]++
	gate := s.gates[ch]
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	data := testutil.TinyJPEG(byte(ch))
	s.cache.Put(ch, data)
	return fetcher.Result{Channel: ch, Data: data}, nil
}

func newTestOrchestrator(t *testing.T, max int) (*Orchestrator, *stubFetcher, *framecache.Cache, *backoff.Registry, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock()
	cache := framecache.New(0, 0).WithClock(clock.Now)
	registry := backoff.NewRegistry().WithClock(clock.Now)
	f := newStubFetcher(cache)
	return New(f, cache, registry, DefaultPolicy(), max), f, cache, registry, clock
}

func TestFetchMany_ServesFreshFromCache(t *testing.T) {
	o, f, cache, _, clock := newTestOrchestrator(t, 5)
	cache.Put(2, testutil.TinyJPEG(2))
	clock.Advance(time.Second)

	resp := o.FetchMany(context.Background(), Request{
		Channels: []camera.ChannelID{2, 3},
		Intent:   IntentCycle,
	})

	assert.Len(t, resp.Frames, 2)
	assert.Equal(t, 0, f.Calls(2), "fresh channel must not be fetched")
	assert.Equal(t, 1, f.Calls(3))
	assert.False(t, resp.Superseded)
	assert.NotEmpty(t, resp.Campaign)
}

func TestFetchMany_IntentFreshness(t *testing.T) {
	o, f, cache, _, clock := newTestOrchestrator(t, 5)
	cache.Put(1, testutil.TinyJPEG(1))
	clock.Advance(time.Second)

	o.FetchMany(context.Background(), Request{Channels: []camera.ChannelID{1}, Intent: IntentInteractive})
	assert.Equal(t, 1, f.Calls(1), "1s old frame is too old for interactive")

	clock.Advance(10 * time.Second)
	o.FetchMany(context.Background(), Request{Channels: []camera.ChannelID{1}, Intent: IntentGrid})
	assert.Equal(t, 1, f.Calls(1), "10s old frame is fresh enough for grid")
}

func TestFetchMany_BackedOffChannels(t *testing.T) {
	o, f, cache, registry, clock := newTestOrchestrator(t, 5)
	cache.Put(7, testutil.TinyJPEG(7))
	clock.Advance(10 * time.Second)
	registry.SetBackoff(7, 45*time.Second)
	registry.SetBackoff(8, 45*time.Second)

	t.Run("stale frame served when intent allows", func(t *testing.T) {
		resp := o.FetchMany(context.Background(), Request{Channels: []camera.ChannelID{7, 8}, Intent: IntentCycle})
		assert.Contains(t, resp.Frames, camera.ChannelID(7))
		assert.NotContains(t, resp.Frames, camera.ChannelID(8))
	})

	t.Run("interactive skips backed off channel", func(t *testing.T) {
		resp := o.FetchMany(context.Background(), Request{Channels: []camera.ChannelID{7}, Intent: IntentInteractive})
		assert.Empty(t, resp.Frames)
	})

	assert.Equal(t, 0, f.Calls(7))
	assert.Equal(t, 0, f.Calls(8))
}

func TestFetchMany_BoundedConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, f, _, _, _ := newTestOrchestrator(t, 5)
	f.delay = 20 * time.Millisecond

	resp := o.FetchMany(context.Background(), Request{Channels: camera.FirstN(16), Intent: IntentGrid})

	assert.Len(t, resp.Frames, 16)
	assert.LessOrEqual(t, f.peak.Load(), int32(5))
	assert.Equal(t, int32(5), f.peak.Load())
}

func TestFetchMany_DeduplicatesChannels(t *testing.T) {
	o, f, _, _, _ := newTestOrchestrator(t, 5)
	resp := o.FetchMany(context.Background(), Request{Channels: []camera.ChannelID{3, 3, 3}, Intent: IntentGrid})
	assert.Len(t, resp.Frames, 1)
	assert.Equal(t, 1, f.Calls(3))
}

func TestFetchMany_Supersession(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, f, cache, _, _ := newTestOrchestrator(t, 5)
	gate2 := f.block(2)
	gate3 := f.block(3)

	first := make(chan Response, 1)
	go func() {
		first <- o.FetchMany(context.Background(), Request{
			Channels: []camera.ChannelID{1, 2, 3},
			Intent:   IntentGrid,
		})
	}()

	// Wait until channel 1 has completed and 2 and 3 are in flight.
	require.Eventually(t, func() bool {
		_, ok := cache.Get(1, time.Minute)
		return ok && f.Calls(2) == 1 && f.Calls(3) == 1
	}, time.Second, 5*time.Millisecond)

	second := o.FetchMany(context.Background(), Request{
		Channels: []camera.ChannelID{4, 5},
		Intent:   IntentGrid,
	})

	var firstResp Response
	select {
	case firstResp = <-first:
	case <-time.After(time.Second):
		t.Fatal("superseded campaign did not return")
	}

	assert.True(t, firstResp.Superseded)
	assert.Len(t, firstResp.Frames, 1)
	assert.Contains(t, firstResp.Frames, camera.ChannelID(1))

	assert.False(t, second.Superseded)
	assert.Len(t, second.Frames, 2)

	// Stragglers from the superseded campaign still land in the cache.
	close(gate2)
	close(gate3)
	require.Eventually(t, func() bool {
		_, ok2 := cache.Get(2, time.Minute)
		_, ok3 := cache.Get(3, time.Minute)
		return ok2 && ok3
	}, time.Second, 5*time.Millisecond)
}

func TestInterrupt(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, f, _, _, _ := newTestOrchestrator(t, 5)
	gate := f.block(6)

	done := make(chan Response, 1)
	go func() {
		done <- o.FetchMany(context.Background(), Request{Channels: []camera.ChannelID{6}, Intent: IntentCycle})
	}()
	require.Eventually(t, func() bool { return f.Calls(6) == 1 }, time.Second, 5*time.Millisecond)

	before := o.Generation()
	o.Interrupt()
	assert.Equal(t, before+1, o.Generation())

	select {
	case resp := <-done:
		assert.True(t, resp.Superseded)
		assert.Empty(t, resp.Frames)
	case <-time.After(time.Second):
		t.Fatal("interrupted campaign did not return")
	}
	close(gate)
	require.Eventually(t, func() bool { return f.inFlight.Load() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCampaign_Current(t *testing.T) {
	o, _, _, _, _ := newTestOrchestrator(t, 1)
	c1 := o.Begin(context.Background())
	assert.True(t, c1.Current())

	c2 := o.Begin(context.Background())
	assert.False(t, c1.Current())
	assert.True(t, c2.Current())
	assert.Error(t, c1.Context().Err())

	c1.End()
	assert.True(t, c2.Current(), "ending an old campaign must not affect the current one")
	c2.End()
}

func TestFetchMany_SemaphoreWaitAbandonedOnSupersede(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, f, _, _, _ := newTestOrchestrator(t, 1)
	gate := f.block(1)

	first := make(chan Response, 1)
	go func() {
		first <- o.FetchMany(context.Background(), Request{Channels: []camera.ChannelID{1, 2, 3}, Intent: IntentGrid})
	}()
	require.Eventually(t, func() bool { return f.Calls(1) == 1 }, time.Second, 5*time.Millisecond)

	o.Interrupt()
	resp := <-first
	assert.True(t, resp.Superseded)
	assert.Equal(t, 0, f.Calls(2), "no new dispatch after supersession")

	close(gate)
	require.Eventually(t, func() bool { return f.inFlight.Load() == 0 }, time.Second, 5*time.Millisecond)
}
