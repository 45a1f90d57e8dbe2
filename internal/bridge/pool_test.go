package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunReturnsValue(t *testing.T) {
	p := New(WithWorkers(2))
	defer p.Close()

	v, err := Run(t.Context(), p, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestRunBusinessErrorIsNotJoinError(t *testing.T) {
	p := New(WithWorkers(1))
	defer p.Close()

	boom := errors.New("No monitors available")
	_, err := Run(t.Context(), p, func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	var jerr *JoinError
	require.False(t, errors.As(err, &jerr))
}

func TestRunPanicIsJoinError(t *testing.T) {
	p := New(WithWorkers(1))
	defer p.Close()

	_, err := Run(t.Context(), p, func() (int, error) { panic("display vanished") })
	var jerr *JoinError
	require.ErrorAs(t, err, &jerr)
	require.Contains(t, err.Error(), "task join error")
	require.Contains(t, err.Error(), "display vanished")

	// The worker survives the panic.
	v, err := Run(t.Context(), p, func() (int, error) { return 1, nil })
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestRunOnClosedPool(t *testing.T) {
	p := New(WithWorkers(1))
	p.Close()

	err := Do(t.Context(), p, func() error { return nil })
	var jerr *JoinError
	require.ErrorAs(t, err, &jerr)
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestRunCancelledWhileQueued(t *testing.T) {
	p := New(WithWorkers(1), WithQueueSize(0))
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = Do(context.Background(), p, func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := Do(ctx, p, func() error { return nil })
	close(release)

	var jerr *JoinError
	require.ErrorAs(t, err, &jerr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunAcceptedJobRunsToCompletion(t *testing.T) {
	p := New(WithWorkers(1))
	defer p.Close()

	ctx, cancel := context.WithCancel(t.Context())
	var finished atomic.Bool
	v, err := Run(ctx, p, func() (string, error) {
		cancel()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return "done", nil
	})
	require.NoError(t, err)
	require.Equal(t, "done", v)
	require.True(t, finished.Load())
}

func TestRunConcurrentResultsDoNotInterleave(t *testing.T) {
	p := New(WithWorkers(4))
	defer p.Close()

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Run(t.Context(), p, func() (int, error) {
				time.Sleep(time.Millisecond)
				return i * i, nil
			})
			if err != nil {
				errs <- err
				return
			}
			if got != i*i {
				errs <- errors.New("result cross-talk")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	p := New(WithWorkers(1), WithQueueSize(8))

	gate := make(chan struct{})
	var ran atomic.Int64
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = Do(context.Background(), p, func() error {
				<-gate
				ran.Add(1)
				return nil
			})
		}()
	}
	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.Queued+s.Running == 5
	}, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	close(gate)
	<-closed
	wg.Wait()
	require.Equal(t, int64(5), ran.Load())
}

func TestRunAbandonedQueuedJobNeverRuns(t *testing.T) {
	p := New(WithWorkers(1), WithQueueSize(4))
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	blockerDone := make(chan struct{})
	go func() {
		defer close(blockerDone)
		_ = Do(context.Background(), p, func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var ran atomic.Bool
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := Do(ctx, p, func() error {
		ran.Store(true)
		return nil
	})
	var jerr *JoinError
	require.ErrorAs(t, err, &jerr)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-blockerDone
	require.NoError(t, Do(t.Context(), p, func() error { return nil }))
	require.False(t, ran.Load())
}
