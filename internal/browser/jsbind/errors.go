// internal/browser/jsbind/errors.go
package jsbind

import (
	"errors"
	"fmt"
)

// Typed errors let callers classify bridge failures with errors.As instead of
// matching on message text.

// ErrWorkerStopped is the cause of a ChannelError raised after the script
// worker has exited.
var ErrWorkerStopped = errors.New("script worker is not running")

// ErrReplyTimeout is the cause of a ChannelError raised when the document owner
// did not answer a request in time.
var ErrReplyTimeout = errors.New("timed out waiting for a bridge reply")

// InitError reports a failure while preparing the script engine. It is fatal to
// the worker.
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("script engine initialization failed (%s): %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// ProtocolError reports a message that arrived out of sequence.
type ProtocolError struct {
	Expected string
	Got      string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("bridge protocol violation: expected %s, got %s", e.Expected, e.Got)
}

// HandleError reports a request for a handle the session never issued.
// Its message is the payload thrown inside the script.
type HandleError struct {
	Handle Handle
}

func (e *HandleError) Error() string {
	return "unrecognized handle"
}

// Script error kinds.
const (
	ScriptException   = "exception"
	ScriptInterrupted = "interrupted"
	ScriptPanic       = "panic"
)

// ScriptError reports a script body that did not complete: an uncaught
// exception, a syntax error, an interrupt, or a panic inside a native call.
type ScriptError struct {
	Kind    string
	Message string
	Err     error
}

func (e *ScriptError) Error() string {
	switch e.Kind {
	case ScriptInterrupted:
		if e.Err != nil {
			return fmt.Sprintf("script interrupted: %v", e.Err)
		}
		return "script interrupted"
	case ScriptPanic:
		return fmt.Sprintf("script panicked: %s", e.Message)
	default:
		return fmt.Sprintf("javascript exception: %s", e.Message)
	}
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Interrupted reports whether the body was stopped by a timeout or cancellation.
func (e *ScriptError) Interrupted() bool { return e.Kind == ScriptInterrupted }

// ChannelError reports that one side of the bridge went away or stopped
// answering. The session it happened in cannot continue.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("bridge channel failure during %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// IsFatal reports whether err ends the enclosing session rather than just the
// current script body.
func IsFatal(err error) bool {
	var initErr *InitError
	var protoErr *ProtocolError
	var chanErr *ChannelError
	return errors.As(err, &initErr) || errors.As(err, &protoErr) || errors.As(err, &chanErr)
}
