package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPool(t *testing.T, p *Pool) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- p.Run(ctx) }()
	return cancelFn, ch
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(0, -1)
	assert.Equal(t, DefaultWorkers, p.workers)
	assert.Equal(t, DefaultQueueSize, cap(p.jobs))
}

func TestPool_RunsJobs(t *testing.T) {
	p := New(3, 10)
	cancel, done := startPool(t, p)

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(Job{Name: "count", Run: func(context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}}))
	}
	wg.Wait()
	cancel()
	waitDone(t, done)

	assert.Equal(t, int32(10), ran.Load())
	assert.Equal(t, int64(10), p.Stats().Succeeded)
}

func TestPool_SubmitWithoutRun(t *testing.T) {
	err := New(1, 1).Submit(Job{Name: "empty"})
	assert.ErrorContains(t, err, "no Run func")
}

func TestPool_QueueFull(t *testing.T) {
	p := New(1, 2)
	noop := Job{Name: "noop", Run: func(context.Context) error { return nil }}

	require.NoError(t, p.Submit(noop))
	require.NoError(t, p.Submit(noop))
	assert.ErrorIs(t, p.Submit(noop), ErrQueueFull)
	assert.Equal(t, 2, p.Stats().Queued)
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := New(1, 2)
	p.Close()
	p.Close()
	err := p.Submit(Job{Name: "late", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPool_FailuresAndPanicsDoNotStopWorkers(t *testing.T) {
	p := New(1, 10)
	cancel, done := startPool(t, p)

	var wg sync.WaitGroup
	wg.Add(3)
	require.NoError(t, p.Submit(Job{Name: "fails", Run: func(context.Context) error {
		defer wg.Done()
		return errors.New("reviewer unavailable")
	}}))
	require.NoError(t, p.Submit(Job{Name: "panics", Run: func(context.Context) error {
		defer wg.Done()
		panic("nil map")
	}}))
	require.NoError(t, p.Submit(Job{Name: "ok", Run: func(context.Context) error {
		defer wg.Done()
		return nil
	}}))
	wg.Wait()
	cancel()
	waitDone(t, done)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Succeeded)
}

func TestPool_DrainsQueueOnShutdown(t *testing.T) {
	p := New(1, 10)
	release := make(chan struct{})
	var ran atomic.Int32
	var jobCtxErr atomic.Value

	require.NoError(t, p.Submit(Job{Name: "block", Run: func(ctx context.Context) error {
		<-release
		ran.Add(1)
		return nil
	}}))
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Submit(Job{Name: "queued", Run: func(ctx context.Context) error {
			jobCtxErr.Store(ctx.Err() == nil)
			ran.Add(1)
			return nil
		}}))
	}

	cancel, done := startPool(t, p)
	cancel()
	close(release)
	waitDone(t, done)

	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, true, jobCtxErr.Load(), "queued jobs should get an uncancelled context")
	assert.ErrorIs(t, p.Submit(Job{Name: "late", Run: func(context.Context) error { return nil }}), ErrClosed)
}
