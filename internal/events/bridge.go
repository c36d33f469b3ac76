package events

import (
	"log/slog"
	"sync"

	"tvplayer-orchestrator/internal/sdk"
	"tvplayer-orchestrator/internal/state"
)

// Buffering percentages. The SDK only reports start/stop, so progress is
// collapsed to these two values.
const (
	BufferingStarted  = 0
	BufferingFinished = 100
)

// Bridge turns a player's single event stream into independent channels for
// errors, buffering progress, end of stream and state changes.
type Bridge struct {
	log *slog.Logger

	errors    *Broadcaster[*PlaybackError]
	buffering *Broadcaster[int]
	eos       *Broadcaster[struct{}]
	states    *Broadcaster[state.State]

	mu      sync.Mutex
	detach  func()
	closed  bool
	onError func(*PlaybackError)
}

// NewBridge returns a bridge with open channels and no attached player.
func NewBridge(log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		log:       log.With(slog.String("component", "event_bridge")),
		errors:    NewBroadcaster[*PlaybackError](DefaultBuffer),
		buffering: NewBroadcaster[int](DefaultBuffer),
		eos:       NewBroadcaster[struct{}](DefaultBuffer),
		states:    NewReplayBroadcaster(DefaultBuffer, state.None),
	}
}

// Attach subscribes to p, replacing any previously attached player. The
// subscription lives until Detach or Close.
func (b *Bridge) Attach(p sdk.Player) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if b.detach != nil {
		b.detach()
	}
	b.detach = p.Subscribe(b.handle)
}

// Detach drops the current player subscription, if any.
func (b *Bridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.detach != nil {
		b.detach()
		b.detach = nil
	}
}

// OnError registers fn to see every error before it is broadcast.
func (b *Bridge) OnError(fn func(*PlaybackError)) {
	b.mu.Lock()
	b.onError = fn
	b.mu.Unlock()
}

// ReportError broadcasts err on the error channel.
func (b *Bridge) ReportError(err *PlaybackError) {
	b.mu.Lock()
	observe := b.onError
	b.mu.Unlock()
	if observe != nil {
		observe(err)
	}

	b.log.Error("playback error",
		slog.String("kind", err.Kind.String()),
		slog.String("op", err.Op),
		slog.String("message", err.Message))
	b.errors.Publish(err)
}

// PublishState broadcasts a state transition.
func (b *Bridge) PublishState(s state.State) {
	b.states.Publish(s)
}

// Errors exposes the error channel.
func (b *Bridge) Errors() *Broadcaster[*PlaybackError] { return b.errors }

// Buffering exposes the buffering progress channel (0 or 100).
func (b *Bridge) Buffering() *Broadcaster[int] { return b.buffering }

// EndOfStream exposes the end-of-stream channel.
func (b *Bridge) EndOfStream() *Broadcaster[struct{}] { return b.eos }

// States exposes the state channel. New subscribers receive the latest state.
func (b *Bridge) States() *Broadcaster[state.State] { return b.states }

// Close detaches the player and completes every channel. Later calls on the
// bridge or its channels are no-ops.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.detach != nil {
		b.detach()
		b.detach = nil
	}
	b.mu.Unlock()

	b.errors.Close()
	b.buffering.Close()
	b.eos.Close()
	b.states.Close()
}

func (b *Bridge) handle(ev sdk.Event) {
	b.log.Debug("player event", slog.String("event", ev.String()))

	switch e := ev.(type) {
	case sdk.EOSEvent:
		b.eos.Publish(struct{}{})
	case sdk.BufferingEvent:
		if e.IsBuffering {
			b.buffering.Publish(BufferingStarted)
		} else {
			b.buffering.Publish(BufferingFinished)
		}
	case sdk.ExceptionEvent:
		b.ReportError(NewError(KindPlayback, "playback", "Playback error", e.Err))
	}
}
