// Package sdk describes the platform media-playback capability consumed by the
// orchestrator. Implementations wrap a real decoder/DRM session; this package
// only fixes the contract.
package sdk

import (
	"context"
	"time"
)

// State is the SDK's own view of the decoder session.
type State int

const (
	StateIdle State = iota
	StateReady
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Idle"
	}
}

// Surface is the display handle a player renders into. It is owned by the UI
// host and only read by the orchestrator.
type Surface interface {
	Name() string
}

// DRMConfig carries opaque license-acquisition settings through to the SDK.
type DRMConfig struct {
	KeySystem  string
	LicenseURL string
	Headers    map[string]string
}

// Config is everything a Builder needs to construct a player.
type Config struct {
	ManifestURL string
	Surface     Surface
	DRM         *DRMConfig
	// StartTime is the position playback begins from once prepared.
	StartTime time.Duration
}

// Player is a single decoder session. Implementations are not required to be
// safe for concurrent use; the orchestrator serializes every call.
type Player interface {
	Prepare(ctx context.Context) error
	Play() error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, position time.Duration) error
	Dispose(ctx context.Context) error

	StreamGroups() []StreamGroup
	SelectedStreamGroups() ([]StreamGroup, []StreamSelector)
	SetStreamGroups(ctx context.Context, groups []StreamGroup, selectors []StreamSelector) error

	// Subscribe registers handler for every event the player emits and
	// returns a func that removes it.
	Subscribe(handler func(Event)) (unsubscribe func())

	Duration() time.Duration
	// Position reports false when the position is not known yet.
	Position() (time.Duration, bool)
	State() State
}

// Builder constructs a player from cfg. It must not start any I/O; that is
// deferred to Prepare.
type Builder func(cfg Config) (Player, error)
