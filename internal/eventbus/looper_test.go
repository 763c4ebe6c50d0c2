package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooper_RunsTasksInPostOrder(t *testing.T) {
	l := NewLooper(nil)

	var got []int
	for i := 1; i <= 3; i++ {
		require.True(t, l.Post(func(context.Context) { got = append(got, i) }))
	}
	l.Close()

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Zero(t, l.Pending())
}

func TestLooper_PostAfterCloseFails(t *testing.T) {
	l := NewLooper(nil)
	l.Close()

	assert.False(t, l.Post(func(context.Context) {}))
	assert.False(t, l.Post(nil))
}

func TestLooper_OnLoop(t *testing.T) {
	l := NewLooper(nil)
	other := NewLooper(nil)

	var onLoop, onOther bool
	l.Post(func(ctx context.Context) {
		onLoop = l.OnLoop(ctx)
		onOther = other.OnLoop(ctx)
	})
	l.Close()
	require.NoError(t, l.Run(context.Background()))

	assert.True(t, onLoop)
	assert.False(t, onOther)
	assert.False(t, l.OnLoop(context.Background()))
}

func TestLooper_OnLoopRejectsEscapedContext(t *testing.T) {
	l := NewLooper(nil)

	var fromGoroutine bool
	var kept context.Context
	l.Post(func(ctx context.Context) {
		kept = ctx
		done := make(chan struct{})
		go func() {
			fromGoroutine = l.OnLoop(ctx)
			close(done)
		}()
		<-done
	})
	l.Close()
	require.NoError(t, l.Run(context.Background()))

	assert.False(t, fromGoroutine, "ctx carried to another goroutine")
	assert.False(t, l.OnLoop(kept), "ctx kept after the task returned")
}

func TestGoroutineID(t *testing.T) {
	self := goroutineID()
	require.NotZero(t, self)
	assert.Equal(t, self, goroutineID())

	other := make(chan uint64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, self, <-other)
}

func TestLooper_SecondRunRejected(t *testing.T) {
	l := NewLooper(nil)

	started := make(chan struct{})
	l.Post(func(context.Context) { close(started) })

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	<-started

	assert.ErrorIs(t, l.Run(context.Background()), ErrLooperRunning)

	l.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("looper did not stop after Close")
	}
}

func TestLooper_PanickingTaskDoesNotStopLoop(t *testing.T) {
	l := NewLooper(nil)

	var ran bool
	l.Post(func(context.Context) { panic("boom") })
	l.Post(func(context.Context) { ran = true })
	l.Close()

	require.NoError(t, l.Run(context.Background()))
	assert.True(t, ran)
}

func TestLooper_RunStopsOnContextCancel(t *testing.T) {
	l := NewLooper(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("looper did not stop on cancel")
	}
}
