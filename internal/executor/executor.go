// Package executor runs units of work one at a time, in submission order, on
// a single dedicated goroutine.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrClosed is returned for work submitted after Shutdown, or still queued
// when Shutdown ran.
var ErrClosed = errors.New("executor is shut down")

// PanicError is the failure recorded when a unit of work panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("unit of work panicked: %v", e.Value)
}

type workerKey struct{}


type task struct {
	run    func(ctx context.Context)
	cancel func(err error)
}

// Option configures an Executor.
type Option func(*Executor)

// WithQueueDepthObserver registers fn to be called with the number of queued
// (not yet started) units of work whenever it changes.
func WithQueueDepthObserver(fn func(depth int)) Option {
	return func(e *Executor) { e.observeDepth = fn }
}

// Executor owns one worker goroutine. All methods are safe for concurrent use.
type Executor struct {
	log          *slog.Logger
	observeDepth func(int)

	mu      sync.Mutex
	pending []task
	closed  bool

	wake chan struct{}
	done chan struct{}
	ctx  context.Context
}

// New starts the worker and returns the executor.
func New(log *slog.Logger, opts ...Option) *Executor {
	if log == nil {
		log = slog.Default()
	}
	e := &Executor{
		log:  log.With(slog.String("component", "executor")),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	e.ctx = context.WithValue(context.Background(), workerKey{}, e)
	for _, opt := range opts {
		opt(e)
	}
	go e.loop()
	return e
}

// Submit queues fn and returns a Future resolved with its outcome. A panic in
// fn fails the future with a *PanicError; the worker keeps going.
func Submit[T any](e *Executor, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	t := task{
		run: func(ctx context.Context) {
			v, err := invoke(ctx, fn)
			if pe := (*PanicError)(nil); errors.As(err, &pe) {
				e.log.Error("unit of work panicked",
					slog.Any("panic", pe.Value),
					slog.String("stack", string(pe.Stack)))
			}
			f.resolve(v, err)
		},
		cancel: func(err error) {
			var zero T
			f.resolve(zero, err)
		},
	}
	if !e.enqueue(t) {
		t.cancel(ErrClosed)
	}
	return f
}

// Do is Submit for work without a result value.
func (e *Executor) Do(fn func(ctx context.Context) error) *Future[struct{}] {
	return Submit(e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

// Pending returns the number of queued units of work that have not started.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Shutdown stops accepting work, fails everything still queued with
// ErrClosed and waits for the worker to exit. The unit of work currently
// running is allowed to finish. Called from inside a unit of work it only
// signals the worker and returns, since joining would wait on itself.
// Shutdown is idempotent.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	var dropped []task
	if !e.closed {
		e.closed = true
		dropped = e.pending
		e.pending = nil
	}
	e.mu.Unlock()

	for _, t := range dropped {
		t.cancel(ErrClosed)
	}
	if len(dropped) > 0 {
		e.log.Debug("dropped queued work on shutdown", slog.Int("count", len(dropped)))
		e.notifyDepth(0)
	}
	e.signal()

	if e.OnWorker(ctx) {
		return nil
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnWorker reports whether ctx was handed out by this executor's worker, i.e.
// the caller is running inside one of its units of work.
func (e *Executor) OnWorker(ctx context.Context) bool {
	w, _ := ctx.Value(workerKey{}).(*Executor)
	return w == e
}

// Done is closed once the worker has exited.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

func (e *Executor) enqueue(t task) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.pending = append(e.pending, t)
	depth := len(e.pending)
	e.mu.Unlock()

	e.notifyDepth(depth)
	e.signal()
	return true
}

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) notifyDepth(depth int) {
	if e.observeDepth != nil {
		e.observeDepth(depth)
	}
}

func (e *Executor) loop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			<-e.wake
			continue
		}
		t := e.pending[0]
		e.pending[0] = task{}
		e.pending = e.pending[1:]
		depth := len(e.pending)
		e.mu.Unlock()

		e.notifyDepth(depth)
		t.run(e.ctx)
	}
}

func invoke[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}
