// Package sim is an in-process stand-in for the platform player. It keeps a
// wall-clock position, reports buffering around prepare and seek, and emits
// end-of-stream when the position reaches the configured duration.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tvplayer-orchestrator/internal/sdk"
)

var (
	// ErrNoSurface is returned by the builder when no display surface is set.
	ErrNoSurface = errors.New("no display surface")
	// ErrNotPrepared is returned by calls that need a prepared player.
	ErrNotPrepared = errors.New("player not prepared")
	// ErrDisposed is returned by calls on a disposed player.
	ErrDisposed = errors.New("player disposed")
)

// Window is a named display surface.
type Window string

// Name implements sdk.Surface.
func (w Window) Name() string { return string(w) }

// Options shape every player a builder creates.
type Options struct {
	Duration     time.Duration
	PrepareDelay time.Duration
	Groups       []sdk.StreamGroup
	Selectors    []sdk.StreamSelector
	// PrepareError, when set, makes Prepare fail with it.
	PrepareError error
}

// DefaultGroups is a three-rung video ladder, two audio languages and one
// subtitle track.
func DefaultGroups() ([]sdk.StreamGroup, []sdk.StreamSelector) {
	groups := []sdk.StreamGroup{
		{ContentType: sdk.ContentVideo, Streams: []sdk.StreamInfo{
			{Format: sdk.Format{ID: "1", Width: 640, Height: 360, Bitrate: 800_000, Codecs: "avc1.4d401e"}},
			{Format: sdk.Format{ID: "2", Width: 1280, Height: 720, Bitrate: 2_500_000, Codecs: "avc1.4d401f"}},
			{Format: sdk.Format{ID: "3", Width: 1920, Height: 1080, Bitrate: 5_000_000, Codecs: "avc1.640028"}},
		}},
		{ContentType: sdk.ContentAudio, Streams: []sdk.StreamInfo{
			{Format: sdk.Format{ID: "4", Language: "de", Bitrate: 128_000, ChannelCount: 2}},
			{Format: sdk.Format{ID: "5", Language: "en", Bitrate: 128_000, ChannelCount: 2, Roles: sdk.RoleMain}},
		}},
		{ContentType: sdk.ContentText, Streams: []sdk.StreamInfo{
			{Format: sdk.Format{ID: "6", Language: "en", Roles: sdk.RoleSubtitle}},
		}},
	}
	selectors := []sdk.StreamSelector{
		sdk.ThroughputHistorySelector{},
		sdk.FixedSelector{Index: 1},
		sdk.FixedSelector{Index: 0},
	}
	return groups, selectors
}

// NewBuilder returns an sdk.Builder producing simulated players.
func NewBuilder(opts Options) sdk.Builder {
	if opts.Groups == nil {
		opts.Groups, opts.Selectors = DefaultGroups()
	}
	return func(cfg sdk.Config) (sdk.Player, error) {
		if cfg.Surface == nil {
			return nil, ErrNoSurface
		}
		if cfg.ManifestURL == "" {
			return nil, errors.New("manifest url is empty")
		}
		return New(cfg, opts), nil
	}
}

// Player is a simulated sdk.Player. It is safe for concurrent use.
type Player struct {
	cfg  sdk.Config
	opts Options

	mu        sync.Mutex
	state     sdk.State
	prepared  bool
	disposed  bool
	base      time.Duration
	since     time.Time
	eosTimer  *time.Timer
	groups    []sdk.StreamGroup
	selectors []sdk.StreamSelector
	handlers  map[int]func(sdk.Event)
	nextID    int
}

// New builds a player directly; most callers go through NewBuilder.
func New(cfg sdk.Config, opts Options) *Player {
	groups := make([]sdk.StreamGroup, len(opts.Groups))
	copy(groups, opts.Groups)
	selectors := make([]sdk.StreamSelector, len(groups))
	copy(selectors, opts.Selectors)
	for i := range selectors {
		if selectors[i] == nil {
			selectors[i] = sdk.FixedSelector{}
		}
	}
	return &Player{
		cfg:       cfg,
		opts:      opts,
		state:     sdk.StateIdle,
		groups:    groups,
		selectors: selectors,
		handlers:  make(map[int]func(sdk.Event)),
	}
}

// Config returns the configuration the player was built with.
func (p *Player) Config() sdk.Config { return p.cfg }

func (p *Player) Prepare(ctx context.Context) error {
	if err := p.usable(false); err != nil {
		return err
	}
	p.emit(sdk.BufferingEvent{IsBuffering: true})

	if p.opts.PrepareDelay > 0 {
		t := time.NewTimer(p.opts.PrepareDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	if p.opts.PrepareError != nil {
		return p.opts.PrepareError
	}

	p.mu.Lock()
	p.prepared = true
	p.state = sdk.StateReady
	p.base = clamp(p.cfg.StartTime, p.opts.Duration)
	p.mu.Unlock()

	p.emit(sdk.BufferingEvent{IsBuffering: false})
	return nil
}

func (p *Player) Play() error {
	if err := p.usable(true); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == sdk.StatePlaying {
		return nil
	}
	p.state = sdk.StatePlaying
	p.since = time.Now()
	p.armEOSLocked()
	return nil
}

func (p *Player) Pause(context.Context) error {
	if err := p.usable(true); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case sdk.StatePaused:
		return nil
	case sdk.StatePlaying:
	default:
		return fmt.Errorf("pause in state %s", p.state)
	}
	p.base = p.positionLocked()
	p.state = sdk.StatePaused
	p.stopEOSLocked()
	return nil
}

func (p *Player) Seek(_ context.Context, position time.Duration) error {
	if err := p.usable(true); err != nil {
		return err
	}
	p.emit(sdk.BufferingEvent{IsBuffering: true})

	p.mu.Lock()
	p.base = clamp(position, p.opts.Duration)
	if p.state == sdk.StatePlaying {
		p.since = time.Now()
		p.armEOSLocked()
	}
	p.mu.Unlock()

	p.emit(sdk.BufferingEvent{IsBuffering: false})
	return nil
}

func (p *Player) Dispose(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return nil
	}
	p.stopEOSLocked()
	p.disposed = true
	p.state = sdk.StateIdle
	p.handlers = make(map[int]func(sdk.Event))
	return nil
}

func (p *Player) StreamGroups() []sdk.StreamGroup {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sdk.StreamGroup, len(p.groups))
	copy(out, p.groups)
	return out
}

func (p *Player) SelectedStreamGroups() ([]sdk.StreamGroup, []sdk.StreamSelector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	groups := make([]sdk.StreamGroup, len(p.groups))
	copy(groups, p.groups)
	selectors := make([]sdk.StreamSelector, len(p.selectors))
	copy(selectors, p.selectors)
	return groups, selectors
}

func (p *Player) SetStreamGroups(_ context.Context, groups []sdk.StreamGroup, selectors []sdk.StreamSelector) error {
	if err := p.usable(true); err != nil {
		return err
	}
	if len(groups) != len(selectors) {
		return fmt.Errorf("%d groups but %d selectors", len(groups), len(selectors))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups = append([]sdk.StreamGroup(nil), groups...)
	p.selectors = append([]sdk.StreamSelector(nil), selectors...)
	return nil
}

func (p *Player) Subscribe(handler func(sdk.Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = handler
	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

func (p *Player) Duration() time.Duration { return p.opts.Duration }

func (p *Player) Position() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.prepared {
		return 0, false
	}
	return p.positionLocked(), true
}

func (p *Player) State() sdk.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Fail reports err as a fatal player exception.
func (p *Player) Fail(err error) {
	p.emit(sdk.ExceptionEvent{Err: err})
}

func (p *Player) usable(needPrepared bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.disposed:
		return ErrDisposed
	case needPrepared && !p.prepared:
		return ErrNotPrepared
	}
	return nil
}

func (p *Player) positionLocked() time.Duration {
	pos := p.base
	if p.state == sdk.StatePlaying {
		pos += time.Since(p.since)
	}
	return clamp(pos, p.opts.Duration)
}

func (p *Player) armEOSLocked() {
	p.stopEOSLocked()
	if p.opts.Duration <= 0 {
		return
	}
	remaining := p.opts.Duration - p.base
	if remaining < 0 {
		remaining = 0
	}
	p.eosTimer = time.AfterFunc(remaining, p.finish)
}

func (p *Player) stopEOSLocked() {
	if p.eosTimer != nil {
		p.eosTimer.Stop()
		p.eosTimer = nil
	}
}

func (p *Player) finish() {
	p.mu.Lock()
	if p.disposed || p.state != sdk.StatePlaying {
		p.mu.Unlock()
		return
	}
	p.base = p.opts.Duration
	p.state = sdk.StatePaused
	p.eosTimer = nil
	p.mu.Unlock()

	p.emit(sdk.EOSEvent{})
}

func (p *Player) emit(ev sdk.Event) {
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

func clamp(d, limit time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

var _ sdk.Player = (*Player)(nil)
