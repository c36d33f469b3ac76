package events

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tvplayer-orchestrator/internal/sdk"
	"tvplayer-orchestrator/internal/state"
)

// emitter is the event half of sdk.Player; other methods are not used here.
type emitter struct {
	sdk.Player

	mu       sync.Mutex
	handlers map[int]func(sdk.Event)
	next     int
}

func newEmitter() *emitter { return &emitter{handlers: make(map[int]func(sdk.Event))} }

func (e *emitter) Subscribe(h func(sdk.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.handlers[id] = h
	return func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}
}

func (e *emitter) emit(ev sdk.Event) {
	e.mu.Lock()
	hs := make([]func(sdk.Event), 0, len(e.handlers))
	for _, h := range e.handlers {
		hs = append(hs, h)
	}
	e.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (e *emitter) subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func requireEmpty[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value %v", v)
		}
	default:
	}
}

func TestBroadcaster_FutureValuesOnly(t *testing.T) {
	b := NewBroadcaster[int](4)
	b.Publish(1)

	ch, cancel := b.Subscribe()
	defer cancel()
	requireEmpty(t, ch)

	b.Publish(2)
	require.Equal(t, 2, receive(t, ch))
}

func TestBroadcaster_ReplayLatest(t *testing.T) {
	b := NewReplayBroadcaster(4, "none")

	first, cancel1 := b.Subscribe()
	defer cancel1()
	require.Equal(t, "none", receive(t, first))

	b.Publish("ready")
	b.Publish("playing")

	late, cancel2 := b.Subscribe()
	defer cancel2()
	require.Equal(t, "playing", receive(t, late))
	require.Equal(t, "playing", b.Last().MustGet())
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster[int](1)
	ch, cancel := b.Subscribe()
	require.Equal(t, 1, b.Subscribers())

	cancel()
	cancel()
	require.Equal(t, 0, b.Subscribers())
	_, ok := <-ch
	require.False(t, ok)
}

func TestBroadcaster_DropsWhenFull(t *testing.T) {
	b := NewBroadcaster[int](1)
	drops := 0
	b.OnDrop(func() { drops++ })

	ch, cancel := b.Subscribe()
	defer cancel()
	b.Publish(1)
	b.Publish(2)

	require.Equal(t, 1, drops)
	require.Equal(t, 1, receive(t, ch))
}

func TestBroadcaster_AfterClose(t *testing.T) {
	b := NewBroadcaster[int](1)
	ch, cancel := b.Subscribe()

	b.Close()
	b.Close()
	_, ok := <-ch
	require.False(t, ok)

	require.NotPanics(t, func() {
		b.Publish(3)
		cancel()
		late, lateCancel := b.Subscribe()
		_, ok := <-late
		require.False(t, ok)
		lateCancel()
	})
}

func newTestBridge() *Bridge {
	return NewBridge(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBridge_TranslatesPlayerEvents(t *testing.T) {
	br := newTestBridge()
	defer br.Close()
	p := newEmitter()
	br.Attach(p)

	buf, cancelBuf := br.Buffering().Subscribe()
	defer cancelBuf()
	eos, cancelEOS := br.EndOfStream().Subscribe()
	defer cancelEOS()
	errs, cancelErrs := br.Errors().Subscribe()
	defer cancelErrs()

	p.emit(sdk.BufferingEvent{IsBuffering: true})
	p.emit(sdk.BufferingEvent{IsBuffering: false})
	require.Equal(t, BufferingStarted, receive(t, buf))
	require.Equal(t, BufferingFinished, receive(t, buf))

	p.emit(sdk.EOSEvent{})
	receive(t, eos)

	decoderErr := errors.New("decoder lost")
	p.emit(sdk.ExceptionEvent{Err: decoderErr})
	got := receive(t, errs)
	require.Equal(t, KindPlayback, got.Kind)
	require.ErrorIs(t, got, decoderErr)
	require.Contains(t, got.Message, "decoder lost")
}

func TestBridge_AttachReplacesPreviousPlayer(t *testing.T) {
	br := newTestBridge()
	defer br.Close()
	old, cur := newEmitter(), newEmitter()

	br.Attach(old)
	br.Attach(cur)
	require.Equal(t, 0, old.subscribers())
	require.Equal(t, 1, cur.subscribers())

	br.Detach()
	require.Equal(t, 0, cur.subscribers())
}

func TestBridge_StateReplay(t *testing.T) {
	br := newTestBridge()
	defer br.Close()

	br.PublishState(state.Ready)
	ch, cancel := br.States().Subscribe()
	defer cancel()
	require.Equal(t, state.Ready, receive(t, ch))
}

func TestBridge_CloseCompletesChannels(t *testing.T) {
	br := newTestBridge()
	p := newEmitter()
	br.Attach(p)
	errs, _ := br.Errors().Subscribe()

	br.Close()
	br.Close()
	require.Equal(t, 0, p.subscribers())
	_, ok := <-errs
	require.False(t, ok)

	require.NotPanics(t, func() {
		br.ReportError(NewError(KindOperation, "seek", "Seek failed", nil))
		br.PublishState(state.Playing)
		br.Attach(p)
	})
	require.Equal(t, 0, p.subscribers())
}

func TestNewError(t *testing.T) {
	cause := errors.New("timeout")
	e := NewError(KindOperation, "prepare", "Failed to prepare player", cause)
	require.Equal(t, "Failed to prepare player: timeout", e.Error())
	require.ErrorIs(t, e, cause)

	plain := NewError(KindLifecycle, "resume", "Resume failed", nil)
	require.Equal(t, "Resume failed", plain.Message)
	require.Equal(t, "lifecycle", plain.Kind.String())
}

func TestBridge_OnErrorSeesPlayerExceptions(t *testing.T) {
	br := newTestBridge()
	defer br.Close()
	p := newEmitter()
	br.Attach(p)

	var seen []ErrorKind
	br.OnError(func(e *PlaybackError) { seen = append(seen, e.Kind) })

	p.emit(sdk.ExceptionEvent{Err: errors.New("decoder lost")})
	br.ReportError(NewError(KindValidation, "set_source", "Unsupported protocol", nil))

	require.Equal(t, []ErrorKind{KindPlayback, KindValidation}, seen)
}
