// Package model defines the envelope carried on every channel and the rules
// used to correlate responses with the requests they answer.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	idspkg "github.com/drblury/relay/internal/runtime/ids"
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
)

// Identifier correlates a request with its responses. uuid.Nil means no
// identifier was supplied.
type Identifier = uuid.UUID

// MessageType selects the side of a channel an envelope travels on.
type MessageType int

const (
	// Request envelopes travel on the request side.
	Request MessageType = iota
	// Response envelopes travel on the response side.
	Response
	// Error envelopes travel on the response side next to responses.
	Error
)

func (t MessageType) String() string {
	switch t {
	case Request:
		return "request"
	case Response:
		return "response"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("message_type(%d)", int(t))
	}
}

// ParseMessageType is the inverse of MessageType.String.
func ParseMessageType(s string) (MessageType, error) {
	switch s {
	case "request", "":
		return Request, nil
	case "response":
		return Response, nil
	case "error":
		return Error, nil
	default:
		return Request, fmt.Errorf("unknown message type %q", s)
	}
}

// IsResponseSide reports whether the type is routed through the response side.
func (t MessageType) IsResponseSide() bool {
	return t == Response || t == Error
}

// Envelope is one message unit. Envelopes are passed by value and must be
// treated as read-only; the metadata map is private to the envelope.
type Envelope struct {
	ID        Identifier
	Channel   string
	Type      MessageType
	Payload   any
	Version   int64
	Metadata  metadatapkg.Metadata
	CreatedAt time.Time
}

// NewEnvelope builds an envelope, generating an identifier when id is uuid.Nil.
func NewEnvelope(id Identifier, channel string, typ MessageType, payload any, version int64, md metadatapkg.Metadata) Envelope {
	if id == uuid.Nil {
		id = idspkg.NewIdentifier()
	}
	return Envelope{
		ID:        id,
		Channel:   channel,
		Type:      typ,
		Payload:   payload,
		Version:   version,
		Metadata:  md.Clone(),
		CreatedAt: time.Now(),
	}
}

// From returns the sender label recorded in the metadata.
func (e Envelope) From() string {
	return e.Metadata.From()
}

// IsError reports whether the envelope is of type Error.
func (e Envelope) IsError() bool {
	return e.Type == Error
}

// Err returns the payload as an error when the envelope is an Error envelope
// carrying one.
func (e Envelope) Err() error {
	if e.Type != Error {
		return nil
	}
	if err, ok := e.Payload.(error); ok {
		return err
	}
	return fmt.Errorf("%v", e.Payload)
}

// Matches reports whether the envelope answers the exchange identified by id.
// A nil id means the exchange is channel-correlated and every envelope matches.
func (e Envelope) Matches(id Identifier) bool {
	return id == uuid.Nil || e.ID == id
}

// PayloadAs returns the payload asserted to T.
func PayloadAs[T any](e Envelope) (T, bool) {
	v, ok := e.Payload.(T)
	return v, ok
}
