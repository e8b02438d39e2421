package errors

import (
	sterrors "errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrChannelRequired     = sterrors.New("relay: channel name is required")
	ErrChannelNotFound     = sterrors.New("relay: channel not found")
	ErrBusRequired         = sterrors.New("relay: bus is required")
	ErrBusClosed           = sterrors.New("relay: bus is closed")
	ErrHandlerRequired     = sterrors.New("relay: handler function is required")
	ErrHandlerClosed       = sterrors.New("relay: message handler is closed")
	ErrResponderRequired   = sterrors.New("relay: responder function is required")
	ErrCallbackPanic       = sterrors.New("relay: subscriber callback panicked")
	ErrConfigRequired      = sterrors.New("relay: configuration is required")
	ErrLoggerRequired      = sterrors.New("relay: logger is required")
	ErrStoreNameRequired   = sterrors.New("relay: store name is required")
	ErrStoreNotFound       = sterrors.New("relay: store not found")
	ErrStoreTypeMismatch   = sterrors.New("relay: store value type mismatch")
	ErrMutationNotAnswered = sterrors.New("relay: mutation request answered without a result")
)

// ResponderError is published as the payload of an Error envelope when a
// responder fails to produce a response. RequestID is the identifier of the
// request being answered.
type ResponderError struct {
	RequestID uuid.UUID
	Channel   string
	Err       error
}

func (e *ResponderError) Error() string {
	return fmt.Sprintf("relay: responder on %q failed for request %s: %v", e.Channel, e.RequestID, e.Err)
}

func (e *ResponderError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrCallbackPanic, e.Value)
}

func (e *PanicError) Unwrap() error {
	return ErrCallbackPanic
}

// ChannelNotFound returns ErrChannelNotFound annotated with the channel name.
func ChannelNotFound(name string) error {
	return fmt.Errorf("%w: %q", ErrChannelNotFound, name)
}
