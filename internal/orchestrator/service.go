package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"tvplayer-orchestrator/internal/events"
	"tvplayer-orchestrator/internal/executor"
	"tvplayer-orchestrator/internal/platform/metrics"
	"tvplayer-orchestrator/internal/sdk"
	"tvplayer-orchestrator/internal/state"
	"tvplayer-orchestrator/internal/streams"
)

var (
	// ErrUnsupportedProtocol is returned by SetSource for anything but DASH.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	// ErrNoSource is returned by operations that need a live player.
	ErrNoSource = errors.New("no source set")
	// ErrNotPlaying is reported when a resumed session did not reach Playing.
	ErrNotPlaying = errors.New("player is not playing")
)

// Option configures a Service.
type Option func(*Service)

// WithMetrics records operation and state metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPrepareTimeout bounds every prepare step. Zero leaves it unbounded.
func WithPrepareTimeout(d time.Duration) Option {
	return func(s *Service) { s.prepareTimeout = d }
}

// WithCheckpointStore replaces the in-memory suspend checkpoint store.
func WithCheckpointStore(store CheckpointStore) Option {
	return func(s *Service) { s.checkpoints = store }
}

// WithSurface sets the initial display surface.
func WithSurface(surface sdk.Surface) Option {
	return func(s *Service) { s.surface = surface }
}

// Service is the playback orchestrator. Every call that touches the player
// runs as a unit of work on a single worker, so calls reach the player one at
// a time and in the order they were made.
type Service struct {
	log            *slog.Logger
	metrics        *metrics.Metrics
	build          sdk.Builder
	prepareTimeout time.Duration
	checkpoints    CheckpointStore

	exec    *executor.Executor
	bridge  *events.Bridge
	machine *state.Machine

	// Owned by the worker.
	player mo.Option[sdk.Player]
	clip   mo.Option[ClipDefinition]

	mu      sync.RWMutex
	surface sdk.Surface
	session string

	disposeOnce sync.Once
}

// NewService returns a Service that builds players with build. The worker is
// started immediately and runs until Dispose.
func NewService(build sdk.Builder, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:    log.With(slog.String("component", "orchestrator")),
		build:  build,
		player: mo.None[sdk.Player](),
		clip:   mo.None[ClipDefinition](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.checkpoints == nil {
		s.checkpoints = NewInMemoryStore()
	}

	s.exec = executor.New(log, executor.WithQueueDepthObserver(s.metrics.SetQueueDepth))
	s.bridge = events.NewBridge(log)
	s.bridge.OnError(func(e *events.PlaybackError) { s.metrics.IncPlayerError(e.Kind.String()) })
	s.bridge.Errors().OnDrop(s.metrics.IncDroppedEvents)
	s.bridge.Buffering().OnDrop(s.metrics.IncDroppedEvents)
	s.bridge.EndOfStream().OnDrop(s.metrics.IncDroppedEvents)
	s.bridge.States().OnDrop(s.metrics.IncDroppedEvents)
	s.machine = state.NewMachine(func(st state.State) {
		s.metrics.SetPlayerState(int(st))
		s.bridge.PublishState(st)
	})
	return s
}

// SetSurface sets the display surface used by players built from now on.
func (s *Service) SetSurface(surface sdk.Surface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surface = surface
}

// State returns the current player state.
func (s *Service) State() state.State {
	return s.machine.Current()
}

// SessionID identifies the live player; it is empty when there is none.
func (s *Service) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// PlaybackErrors subscribes to the error channel.
func (s *Service) PlaybackErrors() (<-chan *events.PlaybackError, func()) {
	return s.bridge.Errors().Subscribe()
}

// BufferingProgress subscribes to buffering progress (0 or 100).
func (s *Service) BufferingProgress() (<-chan int, func()) {
	return s.bridge.Buffering().Subscribe()
}

// EndOfStream subscribes to end-of-stream notifications.
func (s *Service) EndOfStream() (<-chan struct{}, func()) {
	return s.bridge.EndOfStream().Subscribe()
}

// StateChanged subscribes to state transitions. The current state is
// delivered first.
func (s *Service) StateChanged() (<-chan state.State, func()) {
	return s.bridge.States().Subscribe()
}

// SetSource replaces any live player with one playing clip and prepares it.
// Only DASH clips are accepted; anything else is rejected without touching
// the worker.
func (s *Service) SetSource(ctx context.Context, clip ClipDefinition) error {
	if !clip.Supported() {
		err := events.NewError(events.KindValidation, "set_source",
			fmt.Sprintf("Unsupported protocol: %s", clip.Protocol), ErrUnsupportedProtocol)
		s.bridge.ReportError(err)
		return err
	}

	return s.run(ctx, "set_source", "Failed to set source", func(ctx context.Context) error {
		s.teardown(ctx, false)
		s.checkpoints.Clear()

		p, err := s.open(ctx, clip, 0)
		if err != nil {
			s.clip = mo.None[ClipDefinition]()
			s.toNone()
			return err
		}

		s.player = mo.Some(p)
		s.clip = mo.Some(clip)
		_, err = s.machine.Fire(state.EventPrepared)
		return err
	})
}

// Start begins or continues playback. Without a player it does nothing.
func (s *Service) Start(ctx context.Context) error {
	return s.run(ctx, "start", "Failed to start playback", func(context.Context) error {
		p, ok := s.player.Get()
		if !ok {
			return nil
		}
		if err := s.expect(state.EventStarted); err != nil {
			return err
		}
		if err := p.Play(); err != nil {
			return err
		}
		_, err := s.machine.Fire(state.EventStarted)
		return err
	})
}

// Pause pauses playback. Without a player, or when already paused, it does
// nothing.
func (s *Service) Pause(ctx context.Context) error {
	return s.run(ctx, "pause", "Failed to pause playback", func(ctx context.Context) error {
		p, ok := s.player.Get()
		if !ok || s.machine.Current() == state.Paused {
			return nil
		}
		if err := s.expect(state.EventPaused); err != nil {
			return err
		}
		if err := p.Pause(ctx); err != nil {
			return err
		}
		_, err := s.machine.Fire(state.EventPaused)
		return err
	})
}

// SeekTo moves the playback position. The state does not change.
func (s *Service) SeekTo(ctx context.Context, position time.Duration) error {
	return s.run(ctx, "seek", "Failed to seek", func(ctx context.Context) error {
		p, err := s.live()
		if err != nil {
			return err
		}
		return p.Seek(ctx, position)
	})
}

// ChangeActiveStream selects formatIndex in group groupIndex, or adaptive
// switching for streams.AutoFormatIndex. Other groups keep their selection.
func (s *Service) ChangeActiveStream(ctx context.Context, groupIndex, formatIndex int) error {
	return s.run(ctx, "change_stream", "Failed to change stream", func(ctx context.Context) error {
		p, err := s.live()
		if err != nil {
			return err
		}
		groups, selectors := p.SelectedStreamGroups()
		next, err := streams.Reselect(groups, selectors, groupIndex, formatIndex)
		if err != nil {
			return events.NewError(events.KindValidation, "change_stream", "Invalid stream selection", err)
		}
		return p.SetStreamGroups(ctx, groups, next)
	})
}

// GetStreamsDescription lists the selectable streams of type t. It returns
// an empty list when there is no player or no group of that type.
func (s *Service) GetStreamsDescription(ctx context.Context, t streams.StreamType) ([]streams.Description, error) {
	return call(s, ctx, "get_streams", "Failed to get stream description", func(context.Context) ([]streams.Description, error) {
		p, ok := s.player.Get()
		if !ok {
			return []streams.Description{}, nil
		}
		groups, selectors := p.SelectedStreamGroups()
		return streams.Describe(groups, selectors, t), nil
	})
}

// Position reports the playback position, or zero without a player.
func (s *Service) Position(ctx context.Context) (time.Duration, error) {
	return call(s, ctx, "position", "Failed to read position", func(context.Context) (time.Duration, error) {
		p, ok := s.player.Get()
		if !ok {
			return 0, nil
		}
		pos, _ := p.Position()
		return pos, nil
	})
}

// Duration reports the clip duration, or zero without a player.
func (s *Service) Duration(ctx context.Context) (time.Duration, error) {
	return call(s, ctx, "duration", "Failed to read duration", func(context.Context) (time.Duration, error) {
		p, ok := s.player.Get()
		if !ok {
			return 0, nil
		}
		return p.Duration(), nil
	})
}

// Suspend tears down the live player and records its position so Resume can
// rebuild the session. It never fails towards the caller; errors are only
// broadcast. The returned channel is closed once the suspend has run.
func (s *Service) Suspend() <-chan struct{} {
	return s.lifecycle("suspend", "Suspend failed", func(ctx context.Context) error {
		p, ok := s.player.Get()
		if !ok {
			return nil
		}
		if s.machine.Current() == state.Playing {
			if err := p.Pause(ctx); err != nil {
				s.log.Warn("pause before suspend failed", slog.String("error", err.Error()))
			}
		}
		pos, known := p.Position()
		if !known {
			pos = 0
		}
		s.checkpoints.Save(Checkpoint{Position: pos, TakenAt: time.Now()})
		s.teardown(ctx, true)
		s.metrics.IncSuspends()
		s.log.Info("suspended", slog.Duration("position", pos))
		return nil
	})
}

// Resume rebuilds the suspended session at its checkpoint and starts
// playback. Without a checkpoint it does nothing. A session that does not
// end up playing is reported as an error; the checkpoint is kept so Resume
// can be retried.
func (s *Service) Resume() <-chan struct{} {
	return s.lifecycle("resume", "Resume failed", func(ctx context.Context) error {
		cp, ok := s.checkpoints.Load().Get()
		if !ok {
			return nil
		}
		clip, ok := s.clip.Get()
		if !ok || s.player.IsPresent() {
			s.checkpoints.Clear()
			return nil
		}

		err := s.resume(ctx, clip, cp)
		s.metrics.IncResumes(err == nil)
		if err != nil {
			return err
		}
		s.checkpoints.Clear()
		s.log.Info("resumed", slog.Duration("position", cp.Position))
		return nil
	})
}

func (s *Service) resume(ctx context.Context, clip ClipDefinition, cp Checkpoint) error {
	p, err := s.open(ctx, clip, cp.Position)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		s.player = mo.Some(p)
		s.teardown(ctx, true)
		return err
	}

	if pos, known := p.Position(); known && pos != cp.Position {
		if err := p.Seek(ctx, cp.Position); err != nil {
			return fail(err)
		}
	}
	if err := p.Play(); err != nil {
		return fail(err)
	}
	if st := p.State(); st != sdk.StatePlaying {
		return fail(fmt.Errorf("%w: state %s", ErrNotPlaying, st))
	}

	s.player = mo.Some(p)
	_, err = s.machine.Fire(state.EventResumed)
	return err
}

// Stop tears down the live player and forgets the clip. The service stays
// usable.
func (s *Service) Stop(ctx context.Context) error {
	return s.run(ctx, "stop", "Failed to stop playback", func(ctx context.Context) error {
		s.teardown(ctx, false)
		s.clip = mo.None[ClipDefinition]()
		s.checkpoints.Clear()
		s.toNone()
		return nil
	})
}

// Dispose tears everything down and stops the worker. The teardown is queued
// behind work already submitted and always runs, even when ctx expires first;
// ctx only bounds how long Dispose waits for it. Work submitted after the
// teardown fails with executor.ErrClosed. Dispose is idempotent and every call
// waits for the same teardown.
func (s *Service) Dispose(ctx context.Context) error {
	s.disposeOnce.Do(func() {
		if s.exec.OnWorker(ctx) {
			s.finalize(ctx)
			return
		}
		s.exec.Do(func(ctx context.Context) error {
			s.finalize(ctx)
			return nil
		})
	})
	if s.exec.OnWorker(ctx) {
		return nil
	}
	select {
	case <-s.exec.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finalize runs on the worker as its last unit of work.
func (s *Service) finalize(ctx context.Context) {
	s.teardown(ctx, false)
	s.clip = mo.None[ClipDefinition]()
	s.checkpoints.Clear()
	if s.machine.Current() != state.None {
		s.bridge.PublishState(state.None)
	}
	s.machine.Dispose()
	s.metrics.SetPlayerState(int(state.None))
	s.bridge.Close()
	_ = s.exec.Shutdown(ctx)
	s.log.Debug("disposed")
}

// open builds, subscribes and prepares a player. On failure the player is
// disposed before returning.
func (s *Service) open(ctx context.Context, clip ClipDefinition, start time.Duration) (sdk.Player, error) {
	s.mu.RLock()
	surface := s.surface
	s.mu.RUnlock()

	p, err := s.build(sdk.Config{
		ManifestURL: clip.URL,
		Surface:     surface,
		DRM:         clip.drmConfig(),
		StartTime:   start,
	})
	if err != nil {
		return nil, err
	}

	s.bridge.Attach(p)
	if err := s.prepare(ctx, p); err != nil {
		s.bridge.Detach()
		s.dispose(ctx, p)
		return nil, err
	}

	s.mu.Lock()
	s.session = uuid.NewString()
	s.mu.Unlock()
	s.log.Info("player prepared",
		slog.String("session", s.SessionID()),
		slog.String("url", clip.URL),
		slog.Duration("start", start))
	return p, nil
}

// prepare races the player's prepare step against its first reported
// exception and the optional prepare timeout.
func (s *Service) prepare(ctx context.Context, p sdk.Player) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if s.prepareTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, s.prepareTimeout)
		defer stop()
	}

	var exception error
	var mu sync.Mutex
	unsubscribe := p.Subscribe(func(ev sdk.Event) {
		if e, ok := ev.(sdk.ExceptionEvent); ok {
			mu.Lock()
			if exception == nil {
				exception = e.Err
			}
			mu.Unlock()
			cancel(e.Err)
		}
	})
	defer unsubscribe()

	err := p.Prepare(ctx)
	mu.Lock()
	defer mu.Unlock()
	if exception != nil {
		// Already broadcast by the bridge.
		return events.NewError(events.KindPlayback, "prepare", "Playback error", exception)
	}
	return err
}

// teardown detaches and disposes the live player. silent keeps the state
// change off the state channel.
func (s *Service) teardown(ctx context.Context, silent bool) {
	p, ok := s.player.Get()
	if !ok {
		return
	}
	s.player = mo.None[sdk.Player]()
	s.bridge.Detach()
	s.dispose(ctx, p)

	s.mu.Lock()
	s.session = ""
	s.mu.Unlock()

	if silent {
		if _, err := s.machine.FireSilently(state.EventTornDown); err == nil {
			s.metrics.SetPlayerState(int(state.None))
		}
		return
	}
	s.toNone()
}

func (s *Service) dispose(ctx context.Context, p sdk.Player) {
	if err := p.Dispose(ctx); err != nil {
		s.log.Warn("player dispose failed", slog.String("error", err.Error()))
	}
}

func (s *Service) toNone() {
	if s.machine.Current() != state.None {
		_, _ = s.machine.Fire(state.EventTornDown)
	}
}

func (s *Service) live() (sdk.Player, error) {
	p, ok := s.player.Get()
	if !ok {
		return nil, ErrNoSource
	}
	return p, nil
}

func (s *Service) expect(ev state.Event) error {
	if s.machine.Can(ev) {
		return nil
	}
	return fmt.Errorf("%w: %s does not accept %s", state.ErrInvalidTransition, s.machine.Current(), ev)
}

func (s *Service) run(ctx context.Context, op, fallback string, fn func(ctx context.Context) error) error {
	_, err := call(s, ctx, op, fallback, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// call submits fn as a unit of work and waits for it. Failures are turned
// into a *events.PlaybackError, broadcast from the worker and returned. ctx
// only bounds the wait.
func call[T any](s *Service, ctx context.Context, op, fallback string, fn func(ctx context.Context) (T, error)) (T, error) {
	s.log.Debug("operation submitted", slog.String("op", op))
	submitted := time.Now()

	fut := executor.Submit(s.exec, func(wctx context.Context) (v T, err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("operation panicked", slog.String("op", op), slog.Any("panic", r))
				err = &executor.PanicError{Value: r, Stack: debug.Stack()}
			}
			err = s.settle(op, fallback, submitted, err)
		}()
		return fn(wctx)
	})

	v, err := fut.Wait(ctx)
	if errors.Is(err, executor.ErrClosed) {
		return v, events.NewError(events.KindLifecycle, op, "Player is disposed", err)
	}
	return v, err
}

// lifecycle submits fn without a waiting caller. Failures are only
// broadcast.
func (s *Service) lifecycle(op, fallback string, fn func(ctx context.Context) error) <-chan struct{} {
	s.log.Debug("lifecycle event", slog.String("op", op))
	submitted := time.Now()

	fut := s.exec.Do(func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("operation panicked", slog.String("op", op), slog.Any("panic", r))
				err = &executor.PanicError{Value: r, Stack: debug.Stack()}
			}
			if err != nil {
				var pe *events.PlaybackError
				if !errors.As(err, &pe) || pe.Kind != events.KindPlayback {
					err = events.NewError(events.KindLifecycle, op, fallback, err)
				}
			}
			err = s.settle(op, fallback, submitted, err)
		}()
		return fn(ctx)
	})
	return fut.Done()
}

// settle runs on the worker after every unit of work: it classifies and
// broadcasts the failure, if any, and records the outcome.
func (s *Service) settle(op, fallback string, submitted time.Time, err error) error {
	took := time.Since(submitted)
	s.metrics.ObserveOperation(op, took, err)

	if err == nil {
		s.log.Debug("operation finished", slog.String("op", op), slog.Int64("duration_ms", took.Milliseconds()))
		return nil
	}

	var pe *events.PlaybackError
	switch {
	case errors.As(err, &pe):
	case errors.Is(err, ErrNoSource), errors.Is(err, state.ErrInvalidTransition):
		pe = events.NewError(events.KindValidation, op, fallback, err)
	default:
		pe = events.NewError(events.KindOperation, op, fallback, err)
	}

	s.log.Debug("operation finished",
		slog.String("op", op),
		slog.Int64("duration_ms", took.Milliseconds()),
		slog.String("error", pe.Message))
	if pe.Kind != events.KindPlayback {
		s.bridge.ReportError(pe)
	}
	return pe
}
