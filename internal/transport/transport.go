// Package transport abstracts the channel envelopes travel over. Two
// implementations ship built in: an in-memory paired transport for
// tests and a gRPC-framed transport for production. Both preserve
// envelope boundaries and per-channel ordering; correlation of replies
// to requests is by call ID, never by arrival order.
package transport

import (
	"context"
	"errors"
	"iter"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/wire"
)

var (
	// ErrDisconnected is returned when the transport is closed or the
	// peer is gone.
	ErrDisconnected = errors.New("transport disconnected")

	// ErrSendFailed is returned when an envelope could not be handed
	// to the peer.
	ErrSendFailed = errors.New("transport send failed")

	// ErrProtocolMismatch is returned when the peer speaks something
	// other than the envelope protocol, or a URL names an unsupported
	// scheme.
	ErrProtocolMismatch = errors.New("transport protocol mismatch")

	// ErrTLSRequired is returned at construction when a grpcs:// URL
	// is used without TLS configuration. The transport never falls
	// back to plaintext silently.
	ErrTLSRequired = errors.New("tls requested but not configured")
)

// Metadata describes a transport instance for introspection and log
// output.
type Metadata struct {
	// Kind names the implementation, e.g. "memory" or "grpc".
	Kind string

	// LocalAddr is the local endpoint, when meaningful.
	LocalAddr string

	// RemoteAddr is the peer endpoint, when meaningful.
	RemoteAddr string

	// Secure reports whether the channel is TLS protected.
	Secure bool
}

// Transport is the channel abstraction the runtime sends and receives
// envelopes through.
type Transport interface {
	// Send delivers an envelope to the peer. Transports with
	// synchronous request-response semantics return the correlated
	// reply envelope; asynchronous transports return None and surface
	// replies through Receive. After Close, Send fails with
	// ErrDisconnected.
	Send(ctx context.Context,
		env wire.Envelope) (fn.Option[wire.Envelope], error)

	// Receive returns a finite iterator over inbound envelopes. The
	// sequence ends when the transport is closed. Each yielded
	// envelope is owned by the consumer.
	Receive() iter.Seq[wire.Envelope]

	// Close tears the channel down. It is idempotent.
	Close() error

	// IsConnected reports whether the channel is usable.
	IsConnected() bool

	// Metadata describes this transport instance.
	Metadata() Metadata
}
