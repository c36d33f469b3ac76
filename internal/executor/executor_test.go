package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	e := New(slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

func TestExecutor_RunsInSubmissionOrder(t *testing.T) {
	e := newTestExecutor(t)

	var (
		mu  sync.Mutex
		got []int
	)
	futures := make([]*Future[struct{}], 0, 100)
	for i := 0; i < 100; i++ {
		i := i
		futures = append(futures, e.Do(func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}

	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v, "unit of work ran out of order")
	}
}

func TestExecutor_NeverRunsTwoUnitsAtOnce(t *testing.T) {
	e := newTestExecutor(t)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				f := e.Do(func(context.Context) error {
					n := active.Add(1)
					for {
						m := maxActive.Load()
						if n <= m || maxActive.CompareAndSwap(m, n) {
							break
						}
					}
					time.Sleep(50 * time.Microsecond)
					active.Add(-1)
					return nil
				})
				_, _ = f.Wait(context.Background())
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxActive.Load())
}

func TestExecutor_FailureDoesNotStopWorker(t *testing.T) {
	e := newTestExecutor(t)
	boom := errors.New("boom")

	_, err := e.Do(func(context.Context) error { return boom }).Wait(context.Background())
	require.ErrorIs(t, err, boom)

	_, err = e.Do(func(context.Context) error { panic("kaboom") }).Wait(context.Background())
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "kaboom", pe.Value)

	v, err := Submit(e, func(context.Context) (int, error) { return 42, nil }).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestFuture_WaitHonoursCallerContext(t *testing.T) {
	e := newTestExecutor(t)
	release := make(chan struct{})
	defer close(release)

	f := e.Do(func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutor_Shutdown(t *testing.T) {
	t.Run("cancels_queued_work", func(t *testing.T) {
		e := newTestExecutor(t)
		started := make(chan struct{})
		release := make(chan struct{})

		running := e.Do(func(context.Context) error {
			close(started)
			<-release
			return nil
		})
		<-started
		queued := e.Do(func(context.Context) error {
			t.Error("queued work must not run after shutdown")
			return nil
		})

		shutdownErr := make(chan error, 1)
		go func() { shutdownErr <- e.Shutdown(context.Background()) }()

		_, err := queued.Wait(context.Background())
		require.ErrorIs(t, err, ErrClosed)

		close(release)
		_, err = running.Wait(context.Background())
		require.NoError(t, err)
		require.NoError(t, <-shutdownErr)
	})

	t.Run("rejects_new_work", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Shutdown(context.Background()))

		_, err := e.Do(func(context.Context) error { return nil }).Wait(context.Background())
		require.ErrorIs(t, err, ErrClosed)
	})

	t.Run("idempotent", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Shutdown(context.Background()))
		require.NoError(t, e.Shutdown(context.Background()))
	})

	t.Run("from_inside_unit_of_work", func(t *testing.T) {
		e := newTestExecutor(t)
		f := e.Do(func(ctx context.Context) error {
			if !e.OnWorker(ctx) {
				return errors.New("context does not carry the worker marker")
			}
			return e.Shutdown(ctx)
		})
		_, err := f.Wait(context.Background())
		require.NoError(t, err)

		select {
		case <-e.Done():
		case <-time.After(time.Second):
			t.Fatal("worker did not exit after self-shutdown")
		}
	})
}

func TestExecutor_OnWorkerIsPerExecutor(t *testing.T) {
	a := newTestExecutor(t)
	b := newTestExecutor(t)

	require.False(t, a.OnWorker(context.Background()))

	seen, err := Submit(a, func(ctx context.Context) ([2]bool, error) {
		return [2]bool{a.OnWorker(ctx), b.OnWorker(ctx)}, nil
	}).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, [2]bool{true, false}, seen)
}

func TestExecutor_QueueDepthObserver(t *testing.T) {
	var last atomic.Int64
	e := newTestExecutor(t, WithQueueDepthObserver(func(d int) { last.Store(int64(d)) }))

	release := make(chan struct{})
	started := make(chan struct{})
	first := e.Do(func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	second := e.Do(func(context.Context) error { return nil })
	require.Equal(t, int64(1), last.Load())
	require.Equal(t, 1, e.Pending())

	close(release)
	_, _ = first.Wait(context.Background())
	_, _ = second.Wait(context.Background())
	require.Equal(t, int64(0), last.Load())
}

func TestExecutor_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < 10; i++ {
		e.Do(func(context.Context) error { return nil })
	}
	require.NoError(t, e.Shutdown(context.Background()))
}
