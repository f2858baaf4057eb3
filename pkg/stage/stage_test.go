package stage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	commands [][]any
}

func (f *fakeSender) AsynchCommand(args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, args)
	return nil
}

func (f *fakeSender) sent() [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]any(nil), f.commands...)
}

// stopAfter feeds the cache a moving report followed by a stopped one,
// simulating the worker's status stream.
func stopAfter(cache *ReplyCache, axis Axis, delay time.Duration) {
	go func() {
		time.Sleep(delay)
		cache.RecordAxisStatus(AxisStatus{Axis: axis.Name, Moving: true})
		time.Sleep(delay)
		cache.RecordAxisStatus(AxisStatus{Axis: axis.Name, Moving: false, Position: 42.0})
	}()
}

func newTestStage(sender *fakeSender, cache *ReplyCache) *Stage {
	return New(sender, cache, WithPollInterval(time.Millisecond))
}

func TestMoveToSendsCommandAndWaits(t *testing.T) {
	sender := &fakeSender{}
	cache := NewReplyCache()
	cache.RecordAxisStatus(AxisStatus{Axis: "X", Moving: false})
	stage := newTestStage(sender, cache)

	stopAfter(cache, X, 5*time.Millisecond)
	require.NoError(t, stage.MoveTo(X, 240.0, 20.0))

	commands := sender.sent()
	require.Len(t, commands, 1)
	assert.Equal(t, []any{"moveAxisAbsolute", "X", 240.0, 20.0}, commands[0])

	status := cache.AxisStatus(X)
	require.NotNil(t, status)
	assert.Equal(t, 42.0, status.Position)
}

func TestMoveToCapsSpeedAtAxisLimit(t *testing.T) {
	sender := &fakeSender{}
	cache := NewReplyCache()
	stage := newTestStage(sender, cache)

	stopAfter(cache, Z, 5*time.Millisecond)
	require.NoError(t, stage.MoveTo(Z, 10.0, 50.0))

	commands := sender.sent()
	require.Len(t, commands, 1)
	assert.Equal(t, 10.0, commands[0][3], "Z axis speed limit is 10 mm/sec")
}

func TestMoveByComputesMoveTime(t *testing.T) {
	sender := &fakeSender{}
	cache := NewReplyCache()
	stage := newTestStage(sender, cache)

	stopAfter(cache, X, 5*time.Millisecond)
	require.NoError(t, stage.MoveBy(X, 100.0, 20.0))

	commands := sender.sent()
	require.Len(t, commands, 1)
	assert.Equal(t, "moveAxisRelative", commands[0][0])
	// accel ramp-up and ramp-down each take 0.1 sec at 10x speed.
	assert.InDelta(t, 5.1, commands[0][3], 1e-9)
}

func TestHomeVisitsEachAxis(t *testing.T) {
	sender := &fakeSender{}
	cache := NewReplyCache()
	stage := newTestStage(sender, cache)

	stopAfter(cache, X, 5*time.Millisecond)
	stopAfter(cache, Y, 15*time.Millisecond)
	require.NoError(t, stage.Home(X, Y))

	commands := sender.sent()
	require.Len(t, commands, 2)
	assert.Equal(t, []any{"homeAxis", "X"}, commands[0])
	assert.Equal(t, []any{"homeAxis", "Y"}, commands[1])
}

func TestWaitForStopRejectsStaleStatus(t *testing.T) {
	sender := &fakeSender{}
	cache := NewReplyCache()
	// A stopped report from before the move must not satisfy the wait.
	cache.RecordAxisStatus(AxisStatus{Axis: "X", Moving: false})
	stage := newTestStage(sender, cache)

	err := stage.WaitForStop(X, -1.9)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "X", timeoutErr.Axis.Name)
}

func TestWaitForStopTimesOutWhileMoving(t *testing.T) {
	sender := &fakeSender{}
	cache := NewReplyCache()
	stage := newTestStage(sender, cache)

	go func() {
		for i := 0; i < 200; i++ {
			time.Sleep(time.Millisecond)
			cache.RecordAxisStatus(AxisStatus{Axis: "Y", Moving: true})
		}
	}()
	err := stage.WaitForStop(Y, -1.9)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestEnableDisable(t *testing.T) {
	sender := &fakeSender{}
	stage := newTestStage(sender, NewReplyCache())

	require.NoError(t, stage.Enable(X))
	require.NoError(t, stage.Disable(Z))
	require.NoError(t, stage.ClearFaults())
	require.NoError(t, stage.Stop())

	commands := sender.sent()
	require.Len(t, commands, 4)
	assert.Equal(t, []any{"changeAxisEnable", "X", true}, commands[0])
	assert.Equal(t, []any{"changeAxisEnable", "Z", false}, commands[1])
	assert.Equal(t, []any{"clearAllFaults"}, commands[2])
	assert.Equal(t, []any{"stopAllMotion"}, commands[3])
}

func TestInvalidAxisRejected(t *testing.T) {
	stage := newTestStage(&fakeSender{}, NewReplyCache())
	bogus := Axis{Name: "W", Index: 7, MaxTravel: 1, MaxSpeed: 1}
	assert.Error(t, stage.Enable(bogus))
	assert.Error(t, stage.MoveTo(bogus, 0, 1))
	assert.Error(t, stage.WaitForStop(bogus, 1))
}

func TestReplyCacheHandsOutFreshPointers(t *testing.T) {
	cache := NewReplyCache()
	cache.RecordAxisStatus(AxisStatus{Axis: "X", Moving: true})
	first := cache.AxisStatus(X)
	cache.RecordAxisStatus(AxisStatus{Axis: "X", Moving: true})
	second := cache.AxisStatus(X)
	assert.NotSame(t, first, second, "a new message must be a new allocation")

	assert.Nil(t, cache.ControllerStatus())
	cache.RecordControllerStatus(ControllerStatus{MotionEnabled: true})
	require.NotNil(t, cache.ControllerStatus())
	assert.True(t, cache.ControllerStatus().MotionEnabled)
}
