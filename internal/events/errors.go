package events

import "fmt"

// ErrorKind classifies a PlaybackError.
type ErrorKind int

const (
	// KindValidation is a request rejected before reaching the player.
	KindValidation ErrorKind = iota
	// KindOperation is a player call that failed.
	KindOperation
	// KindLifecycle is a suspend/resume that did not reach its target state.
	KindLifecycle
	// KindPlayback is a fatal error reported asynchronously by the player.
	KindPlayback
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindOperation:
		return "operation"
	case KindLifecycle:
		return "lifecycle"
	case KindPlayback:
		return "playback"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// PlaybackError is both the error returned to a caller and the value
// broadcast on the error channel.
type PlaybackError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// NewError builds a PlaybackError whose message is fallback, followed by
// the cause when there is one.
func NewError(kind ErrorKind, op, fallback string, cause error) *PlaybackError {
	msg := fallback
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", fallback, cause)
	}
	return &PlaybackError{Kind: kind, Op: op, Message: msg, Err: cause}
}

func (e *PlaybackError) Error() string { return e.Message }

func (e *PlaybackError) Unwrap() error { return e.Err }
