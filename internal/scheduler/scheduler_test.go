package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isic-edge/reader-core/internal/clock"
)

func TestTasksRunAtDeclaredCadence(t *testing.T) {
	c := clock.NewManual(0)
	s := New(c, nil)
	runs := 0
	require.NoError(t, s.RegisterTask("tick", 10*time.Millisecond, 1, func() { runs++ }))

	s.RunOnce() // not due yet (nextDue = 10ms)
	assert.Equal(t, 0, runs)

	c.Advance(10)
	s.RunOnce()
	assert.Equal(t, 1, runs)

	c.Advance(10)
	s.RunOnce()
	assert.Equal(t, 2, runs)
}

func TestEventBusDispatchRunsBeforeLowerPrecedenceTasks(t *testing.T) {
	c := clock.NewManual(0)
	s := New(c, nil)
	var order []string

	require.NoError(t, s.RegisterTask("other", time.Millisecond, 1, func() { order = append(order, "other") }))
	require.NoError(t, s.RegisterTask("dispatch", time.Millisecond, 0, func() { order = append(order, "dispatch") }))

	c.Advance(1)
	s.RunOnce()
	assert.Equal(t, []string{"dispatch", "other"}, order)
}

func TestMissedTickIsDroppedNotBackfilled(t *testing.T) {
	c := clock.NewManual(0)
	s := New(c, nil)
	runs := 0
	require.NoError(t, s.RegisterTask("tick", 10*time.Millisecond, 1, func() { runs++ }))

	c.Advance(55) // due at 10ms, now 4.5 periods late
	s.RunOnce()
	assert.Equal(t, 1, runs, "a missed task runs exactly once, not once per missed period")

	stats := s.Stats()
	require.Len(t, stats, 1)
	assert.EqualValues(t, 1, stats[0].MissedCount)
}

func TestTaskPanicDoesNotStopOtherTasks(t *testing.T) {
	c := clock.NewManual(0)
	s := New(c, nil)
	otherRan := false

	require.NoError(t, s.RegisterTask("boom", time.Millisecond, 0, func() { panic("boom") }))
	require.NoError(t, s.RegisterTask("other", time.Millisecond, 1, func() { otherRan = true }))

	c.Advance(1)
	s.RunOnce()
	assert.True(t, otherRan)
}
