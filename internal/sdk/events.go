package sdk

import "fmt"

// Event is anything a Player reports asynchronously.
type Event interface {
	fmt.Stringer
	event()
}

// EOSEvent signals the end of the presentation.
type EOSEvent struct{}

// BufferingEvent toggles when the decoder starves or recovers.
type BufferingEvent struct {
	IsBuffering bool
}

// ExceptionEvent carries a fatal SDK error.
type ExceptionEvent struct {
	Err error
}

func (EOSEvent) event()       {}
func (BufferingEvent) event() {}
func (ExceptionEvent) event() {}

func (EOSEvent) String() string { return "eos" }

func (e BufferingEvent) String() string { return fmt.Sprintf("buffering(%t)", e.IsBuffering) }

func (e ExceptionEvent) String() string { return fmt.Sprintf("exception(%v)", e.Err) }
