// Package invoke implements the invocation pipeline: recording a typed
// method call into a self-describing wire payload, decoding the inverse
// on the receiver, and shuttling results back. The pipeline sits
// between the serialization system and the envelope layer.
package invoke

import (
	"github.com/roasbeef/edgerpc/internal/wire"
)

// Type hints stamped on the envelope payloads the pipeline produces.
// These travel in the envelope manifest so a peer can tell an
// InvocationData payload from an InvocationResult payload without
// relying on the message type alone.
const (
	// InvocationDataHint names the InvocationData payload type.
	InvocationDataHint = "edgerpc.InvocationData"

	// InvocationResultHint names the InvocationResult payload type.
	InvocationResultHint = "edgerpc.InvocationResult"
)

// Argument is one positional method argument: its encoded payload plus
// the manifest needed to decode it.
type Argument struct {
	// Data holds the serialized argument bytes.
	Data []byte `json:"data,omitempty"`

	// Manifest describes how to decode Data.
	Manifest wire.Manifest `json:"manifest"`
}

// InvocationData is the structured payload of an invocation envelope.
// Argument order is positional and meaningful: it matches the declared
// parameter order of the target method. Generic substitutions are
// positional with respect to the method's declared generic parameters.
type InvocationData struct {
	// Arguments holds the ordered, individually-manifested argument
	// payloads.
	Arguments []Argument `json:"arguments,omitempty"`

	// GenericSubstitutions holds positional type hints for the target
	// method's generic parameters.
	GenericSubstitutions []string `json:"generic_substitutions,omitempty"`

	// IsVoid reports whether the target method returns no value.
	IsVoid bool `json:"is_void"`
}

// ResultKind tags the three arms of an InvocationResult.
type ResultKind string

const (
	// ResultSuccess carries a serialized return value.
	ResultSuccess ResultKind = "success"

	// ResultVoid marks a completed void call.
	ResultVoid ResultKind = "void"

	// ResultError carries a serialized remote error.
	ResultError ResultKind = "error"
)

// SerializedError is the wire form of an error thrown by a remote
// method. The receiver recovers the original type only if the type name
// resolves in its type registry; otherwise the name and message alone
// surface as a generic remote error.
type SerializedError struct {
	// TypeName is the registered name of the thrown error type.
	TypeName string `json:"type_name"`

	// Message is the error's rendered message.
	Message string `json:"message"`

	// Data optionally carries the codable form of the error value.
	Data []byte `json:"data,omitempty"`
}

// InvocationResult is the tagged-union payload of response and error
// envelopes: exactly one arm is populated according to Kind.
type InvocationResult struct {
	// Kind selects the populated arm.
	Kind ResultKind `json:"kind"`

	// Manifest describes Data for success results.
	Manifest wire.Manifest `json:"manifest,omitempty"`

	// Data holds the serialized return value for success results.
	Data []byte `json:"data,omitempty"`

	// Error holds the serialized error for error results.
	Error *SerializedError `json:"error,omitempty"`
}
