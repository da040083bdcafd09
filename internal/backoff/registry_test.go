package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camgate/internal/testutil"
)

func newTestRegistry() (*Registry, *testutil.Clock) {
	clock := testutil.NewClock()
	return NewRegistry().WithClock(clock.Now), clock
}

func TestRegistry_Window(t *testing.T) {
	r, clock := newTestRegistry()

	backedOff, _ := r.IsBackedOff(7)
	assert.False(t, backedOff, "unknown channel is not backed off")

	r.SetBackoff(7, 45*time.Second)

	backedOff, remaining := r.IsBackedOff(7)
	assert.True(t, backedOff)
	assert.Equal(t, 45*time.Second, remaining)

	clock.Advance(44 * time.Second)
	backedOff, remaining = r.IsBackedOff(7)
	assert.True(t, backedOff)
	assert.Equal(t, time.Second, remaining)

	clock.Advance(time.Second)
	backedOff, _ = r.IsBackedOff(7)
	assert.False(t, backedOff, "deadline itself is outside the window")
}

func TestRegistry_Overwrite(t *testing.T) {
	r, clock := newTestRegistry()
	r.SetBackoff(3, 45*time.Second)
	clock.Advance(10 * time.Second)

	r.SetBackoff(3, 11*time.Second)

	clock.Advance(12 * time.Second)
	backedOff, _ := r.IsBackedOff(3)
	assert.False(t, backedOff, "shorter backoff replaces the longer one")
}

func TestRegistry_PruneAndActive(t *testing.T) {
	r, clock := newTestRegistry()
	r.SetBackoff(9, 11*time.Second)
	r.SetBackoff(2, 45*time.Second)
	r.SetBackoff(5, 45*time.Second)
	clock.Advance(20 * time.Second)

	active := r.Active()
	require.Len(t, active, 2)
	assert.EqualValues(t, 2, active[0].Channel)
	assert.EqualValues(t, 5, active[1].Channel)
	assert.Equal(t, 25*time.Second, active[0].Remaining)

	assert.Equal(t, 1, r.Prune())
	assert.Equal(t, 0, r.Prune())

	r.Clear(2)
	assert.Len(t, r.Active(), 1)
}
