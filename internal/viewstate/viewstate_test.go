package viewstate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/cycle"
	"github.com/jmylchreest/camgate/internal/orchestrator"
	"github.com/jmylchreest/camgate/internal/testutil"
)

type countingInterrupter struct{ n atomic.Int32 }

func (c *countingInterrupter) Interrupt() { c.n.Add(1) }

func newController(t *testing.T) (*Controller, *countingInterrupter, *cycle.Scheduler, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock()
	sched, err := cycle.New(cycle.DefaultGroupA, cycle.DefaultGroupB, 20*time.Second, clock.Now())
	require.NoError(t, err)
	intr := &countingInterrupter{}
	return NewController(sched, intr).WithClock(clock.Now), intr, sched, clock
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"1", ModeSingle, false},
		{"4", ModeGrid4, false},
		{"9", ModeGrid9, false},
		{"16", ModeGrid16, false},
		{"cycle", ModeCycle, false},
		{"CYCLE_EXPANDED", ModeCycleExpanded, false},
		{"2", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.Token()))
		})
	}
}

func mustParse(t *testing.T, s string) Mode {
	t.Helper()
	m, err := ParseMode(s)
	require.NoError(t, err)
	return m
}

func TestMode_GridSize(t *testing.T) {
	assert.Equal(t, 1, ModeSingle.GridSize())
	assert.Equal(t, 9, ModeGrid9.GridSize())
	assert.Equal(t, 0, ModeCycle.GridSize())
	assert.True(t, ModeCycleExpanded.Cycling())
	assert.False(t, ModeGrid16.Cycling())
}

func TestController_Transitions(t *testing.T) {
	c, intr, _, _ := newController(t)

	assert.Equal(t, ModeSingle, c.Get().Mode)

	s, err := c.SetGrid(9)
	require.NoError(t, err)
	assert.Equal(t, ModeGrid9, s.Mode)

	s, err = c.SelectChannel(5)
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, s.Mode)
	assert.Equal(t, camera.ChannelID(5), s.SelectedChannel)

	s = c.ToggleCycle()
	assert.Equal(t, ModeCycle, s.Mode)
	s = c.ToggleCycle()
	assert.Equal(t, ModeSingle, s.Mode)
	assert.Equal(t, camera.ChannelID(5), s.SelectedChannel)

	s = c.ToggleCycleExpanded()
	assert.Equal(t, ModeCycleExpanded, s.Mode)
	s = c.ToggleCycle()
	assert.Equal(t, ModeCycle, s.Mode, "toggling the other cycle mode switches to it")

	assert.EqualValues(t, 6, intr.n.Load())
}

func TestController_SelectionDoesNotInterrupt(t *testing.T) {
	c, intr, _, _ := newController(t)

	_, err := c.SelectChannel(3)
	require.NoError(t, err)
	_, err = c.SelectChannel(4)
	require.NoError(t, err)

	assert.EqualValues(t, 0, intr.n.Load())
	assert.Equal(t, camera.ChannelID(4), c.Get().SelectedChannel)
}

func TestController_ChangeViewAlwaysInterrupts(t *testing.T) {
	c, intr, _, _ := newController(t)

	var notified int
	c.OnChange(func(State) { notified++ })

	s := c.ChangeView(ModeGrid4)
	assert.Equal(t, ModeGrid4, s.Mode)
	assert.EqualValues(t, 1, intr.n.Load())
	assert.Equal(t, 1, notified)

	s = c.ChangeView(ModeGrid4)
	assert.Equal(t, ModeGrid4, s.Mode)
	assert.EqualValues(t, 2, intr.n.Load(), "same mode still interrupts")
	assert.Equal(t, 1, notified, "same mode does not restart listeners")

	c.SetMode(ModeGrid4)
	assert.EqualValues(t, 2, intr.n.Load())
}

func TestController_InvalidInput(t *testing.T) {
	c, _, _, _ := newController(t)

	_, err := c.SelectChannel(17)
	assert.ErrorIs(t, err, camera.ErrInvalidChannel)
	_, err = c.SelectChannel(camera.MainChannel)
	assert.ErrorIs(t, err, camera.ErrInvalidChannel)
	_, err = c.SetGrid(6)
	assert.ErrorIs(t, err, ErrInvalidMode)
	_, err = c.Replace(State{Mode: ModeGrid4, SelectedChannel: 40})
	assert.ErrorIs(t, err, camera.ErrInvalidChannel)
}

func TestController_Replace(t *testing.T) {
	c, _, _, _ := newController(t)
	_, err := c.SelectChannel(8)
	require.NoError(t, err)

	s, err := c.Replace(State{Mode: ModeCycle})
	require.NoError(t, err)
	assert.Equal(t, ModeCycle, s.Mode)
	assert.Equal(t, DefaultChannel, s.SelectedChannel, "nothing carried over from the previous state")

	s, err = c.Replace(State{Mode: ModeGrid16, SelectedChannel: 2, CycleIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, State{Mode: ModeGrid16, SelectedChannel: 2, LastGroupSwitch: s.LastGroupSwitch}, s)
}

func TestController_EnteringCycleResetsScheduler(t *testing.T) {
	c, _, sched, clock := newController(t)

	clock.Advance(25 * time.Second)
	assert.Equal(t, 1, sched.Index(clock.Now()))

	s := c.ToggleCycle()
	assert.Equal(t, 0, s.CycleIndex)
	assert.Equal(t, clock.Now(), s.LastGroupSwitch)
}

func TestController_OnChange(t *testing.T) {
	c, _, _, _ := newController(t)

	var got []Mode
	c.OnChange(func(s State) { got = append(got, s.Mode) })

	_, _ = c.SetGrid(4)
	_, _ = c.SetGrid(4)
	c.ToggleCycle()

	assert.Equal(t, []Mode{ModeGrid4, ModeCycle}, got)
}

func TestController_SingleRetargetNotifiesWithoutInterrupt(t *testing.T) {
	c, interrupts, _, _ := newController(t)

	var got []camera.ChannelID
	c.OnChange(func(s State) { got = append(got, s.SelectedChannel) })

	_, err := c.SelectChannel(5)
	require.NoError(t, err)
	_, err = c.SelectChannel(5)
	require.NoError(t, err)

	assert.Equal(t, []camera.ChannelID{5}, got)
	assert.Equal(t, int32(0), interrupts.n.Load())
}

type recordingOrchestrator struct {
	mu   sync.Mutex
	reqs []orchestrator.Request
}

func (r *recordingOrchestrator) FetchMany(_ context.Context, req orchestrator.Request) orchestrator.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return orchestrator.Response{Frames: map[camera.ChannelID][]byte{}}
}

func (r *recordingOrchestrator) last() (orchestrator.Request, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reqs) == 0 {
		return orchestrator.Request{}, 0
	}
	return r.reqs[len(r.reqs)-1], len(r.reqs)
}

func TestPoller_FollowsState(t *testing.T) {
	defer goleak.VerifyNone(t)

	sched, err := cycle.New(cycle.DefaultGroupA, cycle.DefaultGroupB, 20*time.Second, time.Now())
	require.NoError(t, err)
	orch := &recordingOrchestrator{}
	p := NewPoller(orch, sched).WithConfig(PollerConfig{
		SingleInterval: 10 * time.Millisecond,
		GridInterval:   10 * time.Millisecond,
		CycleInterval:  10 * time.Millisecond,
	})

	require.NoError(t, p.Start(context.Background(), State{Mode: ModeSingle, SelectedChannel: 3}))
	assert.Error(t, p.Start(context.Background(), State{}))
	assert.True(t, p.Running())

	require.Eventually(t, func() bool {
		req, n := orch.last()
		return n >= 2 && req.Intent == orchestrator.IntentInteractive &&
			assert.ObjectsAreEqual([]camera.ChannelID{3}, req.Channels)
	}, time.Second, 5*time.Millisecond)

	p.Restart(State{Mode: ModeGrid4})
	require.Eventually(t, func() bool {
		req, _ := orch.last()
		return req.Intent == orchestrator.IntentGrid && len(req.Channels) == 4
	}, time.Second, 5*time.Millisecond)

	p.Restart(State{Mode: ModeCycle})
	require.Eventually(t, func() bool {
		req, _ := orch.last()
		return req.Intent == orchestrator.IntentCycle &&
			assert.ObjectsAreEqual(cycle.DefaultGroupA, req.Channels)
	}, time.Second, 5*time.Millisecond)

	p.Stop()
	assert.False(t, p.Running())
	_, n := orch.last()
	time.Sleep(30 * time.Millisecond)
	_, after := orch.last()
	assert.Equal(t, n, after, "no polls after Stop")
}

func TestPoller_RestartBeforeStartIsNoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	sched, err := cycle.New(cycle.DefaultGroupA, cycle.DefaultGroupB, 0, time.Now())
	require.NoError(t, err)
	p := NewPoller(&recordingOrchestrator{}, sched)
	p.Restart(State{Mode: ModeGrid4})
	assert.False(t, p.Running())
	p.Stop()
}
