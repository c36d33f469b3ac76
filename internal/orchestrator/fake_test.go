package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tvplayer-orchestrator/internal/sdk"
)

// callLog records player calls in the order the player saw them.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeSDK builds fakePlayers that share one call log.
type fakeSDK struct {
	log *callLog

	mu        sync.Mutex
	players   []*fakePlayer
	configure func(n int, p *fakePlayer)
	buildErr  error
}

func newFakeSDK() *fakeSDK { return &fakeSDK{log: &callLog{}} }

func (f *fakeSDK) build(cfg sdk.Config) (sdk.Player, error) {
	f.log.add("build")
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	p := &fakePlayer{
		log:       f.log,
		cfg:       cfg,
		state:     sdk.StateIdle,
		playState: sdk.StatePlaying,
		duration:  time.Hour,
		handlers:  make(map[int]func(sdk.Event)),
	}
	p.groups, p.selectors = testGroups()

	f.mu.Lock()
	if f.configure != nil {
		f.configure(len(f.players), p)
	}
	f.players = append(f.players, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeSDK) player(n int) *fakePlayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.players[n]
}

func (f *fakeSDK) built() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.players)
}

func testGroups() ([]sdk.StreamGroup, []sdk.StreamSelector) {
	return []sdk.StreamGroup{
			{ContentType: sdk.ContentVideo, Streams: []sdk.StreamInfo{
				{Format: sdk.Format{ID: "1", Width: 640, Height: 360}},
				{Format: sdk.Format{ID: "2", Width: 1280, Height: 720}},
				{Format: sdk.Format{ID: "3", Width: 1920, Height: 1080}},
			}},
			{ContentType: sdk.ContentAudio, Streams: []sdk.StreamInfo{
				{Format: sdk.Format{ID: "4", Language: "de"}},
				{Format: sdk.Format{ID: "5", Language: "en"}},
			}},
		}, []sdk.StreamSelector{
			sdk.FixedSelector{Index: 1},
			sdk.FixedSelector{Index: 1},
		}
}

// fakePlayer is a scriptable sdk.Player.
type fakePlayer struct {
	log *callLog
	cfg sdk.Config

	// Scripted behaviour, set before use.
	prepareGate  chan struct{}
	prepareErr   error
	prepareFault error
	playErr      error
	playState    sdk.State
	ignoreStart  bool
	duration     time.Duration

	mu        sync.Mutex
	state     sdk.State
	pos       time.Duration
	known     bool
	groups    []sdk.StreamGroup
	selectors []sdk.StreamSelector
	handlers  map[int]func(sdk.Event)
	next      int
}

func (p *fakePlayer) Prepare(ctx context.Context) error {
	p.log.add("prepare")
	if p.prepareGate != nil {
		select {
		case <-p.prepareGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.prepareFault != nil {
		p.emit(sdk.ExceptionEvent{Err: p.prepareFault})
		<-ctx.Done()
		return ctx.Err()
	}
	if p.prepareErr != nil {
		return p.prepareErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = sdk.StateReady
	p.known = true
	if !p.ignoreStart {
		p.pos = p.cfg.StartTime
	}
	return nil
}

func (p *fakePlayer) Play() error {
	p.log.add("play")
	if p.playErr != nil {
		return p.playErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = p.playState
	return nil
}

func (p *fakePlayer) Pause(context.Context) error {
	p.log.add("pause")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = sdk.StatePaused
	return nil
}

func (p *fakePlayer) Seek(_ context.Context, position time.Duration) error {
	p.log.add("seek %s", position)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = position
	return nil
}

func (p *fakePlayer) Dispose(context.Context) error {
	p.log.add("dispose")
	return nil
}

func (p *fakePlayer) StreamGroups() []sdk.StreamGroup {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sdk.StreamGroup(nil), p.groups...)
}

func (p *fakePlayer) SelectedStreamGroups() ([]sdk.StreamGroup, []sdk.StreamSelector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sdk.StreamGroup(nil), p.groups...), append([]sdk.StreamSelector(nil), p.selectors...)
}

func (p *fakePlayer) SetStreamGroups(_ context.Context, groups []sdk.StreamGroup, selectors []sdk.StreamSelector) error {
	p.log.add("set_streams")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups, p.selectors = groups, selectors
	return nil
}

func (p *fakePlayer) Subscribe(h func(sdk.Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.handlers[id] = h
	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

func (p *fakePlayer) emit(ev sdk.Event) {
	p.mu.Lock()
	hs := make([]func(sdk.Event), 0, len(p.handlers))
	for _, h := range p.handlers {
		hs = append(hs, h)
	}
	p.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (p *fakePlayer) selected() []sdk.StreamSelector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sdk.StreamSelector(nil), p.selectors...)
}

func (p *fakePlayer) Duration() time.Duration { return p.duration }

func (p *fakePlayer) Position() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos, p.known
}

func (p *fakePlayer) State() sdk.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

type surface string

func (s surface) Name() string { return string(s) }
