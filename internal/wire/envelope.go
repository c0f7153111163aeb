// Package wire defines the unit of transfer between edge peers: the
// Envelope. Every message that crosses the transport is an envelope
// carrying an addressed, manifest-tagged payload plus correlation
// metadata. Envelopes are immutable after construction and have a
// canonical binary representation in protobuf wire format.
package wire

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/identity"
)

// MessageType discriminates the four kinds of envelopes that cross the
// wire.
type MessageType uint8

const (
	// MessageInvocation is a request to invoke a method on the
	// recipient actor.
	MessageInvocation MessageType = iota

	// MessageResponse carries the successful (or void) result of an
	// invocation back to the caller.
	MessageResponse

	// MessageError carries a failed invocation result back to the
	// caller.
	MessageError

	// MessageSystem is reserved for runtime-internal traffic. It is
	// unused today.
	MessageSystem
)

// String returns a human readable name for the message type.
func (m MessageType) String() string {
	switch m {
	case MessageInvocation:
		return "invocation"
	case MessageResponse:
		return "response"
	case MessageError:
		return "error"
	case MessageSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Manifest tells the receiving peer how to decode a payload: which
// serializer produced it, and optionally which concrete type the bytes
// represent. An empty type hint is only valid for serializers that need
// no dynamic dispatch (e.g. the void serializer).
type Manifest struct {
	// SerializerID names the codec that produced the payload.
	SerializerID string `json:"serializer_id"`

	// TypeHint is the fully-qualified type name the receiver uses to
	// resolve the concrete type. May be empty.
	TypeHint string `json:"type_hint,omitempty"`
}

// Metadata carries the correlation and routing information stamped onto
// every envelope.
type Metadata struct {
	// CallID uniquely identifies one client call. Response and error
	// envelopes echo the originating call ID verbatim.
	CallID string

	// Target names the method to invoke. Only meaningful for
	// invocation envelopes.
	Target string

	// Timestamp is the construction time in milliseconds since the
	// Unix epoch.
	Timestamp int64

	// Headers is a free-form string map. The keys "trace-id",
	// "traceparent", and "tracestate" are reserved for tracing.
	Headers map[string]string
}

// Envelope is the addressed carrier for all wire messages. Treat
// envelopes as immutable once constructed: the factories below validate
// their invariants and stamp the timestamp.
type Envelope struct {
	// Recipient is the actor the envelope is addressed to.
	Recipient identity.ID

	// Sender optionally identifies the originating actor.
	Sender fn.Option[identity.ID]

	// Manifest describes how to decode Payload.
	Manifest Manifest

	// Payload is opaque to the envelope; its meaning is defined by the
	// manifest.
	Payload []byte

	// Metadata holds the correlation identifiers and headers.
	Metadata Metadata

	// MessageType discriminates invocation/response/error/system.
	MessageType MessageType
}

// nowMillis returns the current wall clock in Unix milliseconds.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// cloneHeaders copies the given header map so envelope construction
// never aliases caller-owned state.
func cloneHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}

	cloned := make(map[string]string, len(headers))
	for k, v := range headers {
		cloned[k] = v
	}

	return cloned
}

// NewInvocation constructs an invocation envelope addressed to the given
// recipient. The call ID and target must be non-empty.
func NewInvocation(to identity.ID, from fn.Option[identity.ID],
	target, callID string, manifest Manifest, payload []byte,
	headers map[string]string) (Envelope, error) {

	if to.IsZero() {
		return Envelope{}, ErrMissingRecipient
	}
	if callID == "" {
		return Envelope{}, ErrMissingCallID
	}
	if target == "" {
		return Envelope{}, ErrMissingTarget
	}

	return Envelope{
		Recipient: to,
		Sender:    from,
		Manifest:  manifest,
		Payload:   payload,
		Metadata: Metadata{
			CallID:    callID,
			Target:    target,
			Timestamp: nowMillis(),
			Headers:   cloneHeaders(headers),
		},
		MessageType: MessageInvocation,
	}, nil
}

// NewResponse constructs a response envelope correlated to callID.
func NewResponse(to identity.ID, from fn.Option[identity.ID],
	callID string, manifest Manifest, payload []byte,
	headers map[string]string) (Envelope, error) {

	return newReply(
		to, from, callID, manifest, payload, headers,
		MessageResponse,
	)
}

// NewError constructs an error envelope correlated to callID.
func NewError(to identity.ID, from fn.Option[identity.ID],
	callID string, manifest Manifest, payload []byte,
	headers map[string]string) (Envelope, error) {

	return newReply(
		to, from, callID, manifest, payload, headers, MessageError,
	)
}

// NewSystem constructs a system envelope. The message kind is reserved
// for runtime-internal traffic and carries no correlation invariants
// beyond the recipient.
func NewSystem(to identity.ID, from fn.Option[identity.ID],
	manifest Manifest, payload []byte) (Envelope, error) {

	if to.IsZero() {
		return Envelope{}, ErrMissingRecipient
	}

	return Envelope{
		Recipient: to,
		Sender:    from,
		Manifest:  manifest,
		Payload:   payload,
		Metadata: Metadata{
			Timestamp: nowMillis(),
		},
		MessageType: MessageSystem,
	}, nil
}

// newReply is the shared constructor for response and error envelopes.
func newReply(to identity.ID, from fn.Option[identity.ID], callID string,
	manifest Manifest, payload []byte, headers map[string]string,
	msgType MessageType) (Envelope, error) {

	if to.IsZero() {
		return Envelope{}, ErrMissingRecipient
	}
	if callID == "" {
		return Envelope{}, ErrMissingCallID
	}

	return Envelope{
		Recipient: to,
		Sender:    from,
		Manifest:  manifest,
		Payload:   payload,
		Metadata: Metadata{
			CallID:    callID,
			Timestamp: nowMillis(),
			Headers:   cloneHeaders(headers),
		},
		MessageType: msgType,
	}, nil
}

// IsReply reports whether the envelope is a response or error envelope,
// i.e. one that resolves an in-flight call.
func (e Envelope) IsReply() bool {
	return e.MessageType == MessageResponse ||
		e.MessageType == MessageError
}

// Header returns the header value for the given key, along with whether
// it was present.
func (e Envelope) Header(key string) (string, bool) {
	v, ok := e.Metadata.Headers[key]
	return v, ok
}
