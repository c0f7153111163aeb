package invoke

import "errors"

var (
	// ErrEncoderState is returned when an encoder operation is invoked
	// in a state that does not accept it.
	ErrEncoderState = errors.New("invocation encoder state violation")

	// ErrArgumentMissing is returned when the decoder is asked for an
	// argument past the end of the recorded sequence.
	ErrArgumentMissing = errors.New("invocation argument missing")

	// ErrArgumentDecode is returned when an argument payload cannot be
	// decoded with its manifest.
	ErrArgumentDecode = errors.New("invocation argument decode failed")

	// ErrArityMismatch is returned at dispatch time when the decoded
	// argument count differs from the target method's arity.
	ErrArityMismatch = errors.New("invocation arity mismatch")

	// ErrNotInvocation is returned when a decoder is created from an
	// envelope that is not an invocation.
	ErrNotInvocation = errors.New("envelope is not an invocation")

	// ErrNotReply is returned when a result is extracted from an
	// envelope that is neither a response nor an error.
	ErrNotReply = errors.New("envelope is not a response or error")

	// ErrResponseWritten is returned when a response writer is asked
	// to complete the same call twice.
	ErrResponseWritten = errors.New("response already written")
)
