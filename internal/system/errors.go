package system

import (
	"errors"
	"fmt"
)

var (
	// ErrActorNotFound is returned when an invocation names a
	// recipient the server's registry does not know.
	ErrActorNotFound = errors.New("actor not found")

	// ErrTypeMismatch is returned when a resolved local actor has a
	// dynamic type incompatible with the requested one.
	ErrTypeMismatch = errors.New("actor type mismatch")

	// ErrMethodNotFound is returned when a target identifier does not
	// resolve to a dispatchable method on the recipient actor.
	ErrMethodNotFound = errors.New("method not found")

	// ErrProtocolMismatch is returned when a reply violates the call
	// contract, e.g. a void result answering a value-returning call.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrNoTransport is returned when a remote call is issued on a
	// system constructed without a transport (server mode).
	ErrNoTransport = errors.New("system has no transport")
)

// RemoteError is the client-side surface of an error thrown by a
// server-side method when the original error type is not registered
// locally. The type name and message always survive the wire; the raw
// codable bytes are kept for callers that want to decode them manually.
type RemoteError struct {
	// TypeName is the peer-reported error type name.
	TypeName string

	// Message is the rendered error message.
	Message string

	// Data optionally holds the codable form of the error value.
	Data []byte
}

// Error renders the remote failure.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %s: %s", e.TypeName, e.Message)
}
