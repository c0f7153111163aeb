package wire

import "errors"

var (
	// ErrMissingRecipient is returned when an envelope is constructed
	// without a recipient.
	ErrMissingRecipient = errors.New("envelope recipient is required")

	// ErrMissingCallID is returned when an invocation, response, or
	// error envelope is constructed without a call ID.
	ErrMissingCallID = errors.New("envelope call id is required")

	// ErrMissingTarget is returned when an invocation envelope is
	// constructed without a target method identifier.
	ErrMissingTarget = errors.New("invocation target is required")

	// ErrMalformedEnvelope is returned when envelope bytes cannot be
	// parsed back into an Envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope bytes")
)
