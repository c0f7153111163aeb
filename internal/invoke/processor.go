package invoke

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/codec"
	"github.com/roasbeef/edgerpc/internal/identity"
	"github.com/roasbeef/edgerpc/internal/wire"
)

// Reserved header keys for distributed tracing.
const (
	// HeaderTraceID carries the runtime's own trace identifier.
	HeaderTraceID = "trace-id"

	// HeaderTraceParent carries a W3C traceparent value.
	HeaderTraceParent = "traceparent"

	// HeaderTraceState carries a W3C tracestate value.
	HeaderTraceState = "tracestate"
)

// TraceContext is the ambient tracing state stamped onto outbound
// invocation headers. Empty fields are omitted.
type TraceContext struct {
	// TraceID is the runtime's trace identifier.
	TraceID string

	// TraceParent is the W3C traceparent value.
	TraceParent string

	// TraceState is the W3C tracestate value.
	TraceState string
}

// headers renders the trace context as envelope headers, or nil when
// the context is empty.
func (tc TraceContext) headers() map[string]string {
	if tc == (TraceContext{}) {
		return nil
	}

	headers := make(map[string]string, 3)
	if tc.TraceID != "" {
		headers[HeaderTraceID] = tc.TraceID
	}
	if tc.TraceParent != "" {
		headers[HeaderTraceParent] = tc.TraceParent
	}
	if tc.TraceState != "" {
		headers[HeaderTraceState] = tc.TraceState
	}

	return headers
}

// Processor is the stateless helper that composes the encoder/decoder,
// the serialization registry, and envelope construction. One processor
// serves a whole system.
type Processor struct {
	// codecs is the system's serialization registry.
	codecs *codec.Registry
}

// NewProcessor creates a processor bound to the given serialization
// registry.
func NewProcessor(codecs *codec.Registry) *Processor {
	return &Processor{codecs: codecs}
}

// Codecs returns the serialization registry the processor composes.
func (p *Processor) Codecs() *codec.Registry {
	return p.codecs
}

// CreateInvocationEnvelope drains the encoder into an InvocationData
// payload, serializes it, and wraps it in an invocation envelope
// stamped with the trace context headers.
func (p *Processor) CreateInvocationEnvelope(recipient identity.ID,
	sender fn.Option[identity.ID], target, callID string,
	enc *Encoder, trace TraceContext) (wire.Envelope, error) {

	data, err := enc.drain()
	if err != nil {
		return wire.Envelope{}, err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf(
			"encode invocation data: %w", err,
		)
	}

	manifest := wire.Manifest{
		SerializerID: codec.JSONSerializerID,
		TypeHint:     InvocationDataHint,
	}

	return wire.NewInvocation(
		recipient, sender, target, callID, manifest, payload,
		trace.headers(),
	)
}

// CreateInvocationDecoder deserializes the InvocationData carried by an
// invocation envelope and binds a decoder to the system's serialization
// registry.
func (p *Processor) CreateInvocationDecoder(
	env wire.Envelope) (*Decoder, error) {

	if env.MessageType != wire.MessageInvocation {
		return nil, fmt.Errorf("%w: got %s", ErrNotInvocation,
			env.MessageType)
	}

	var data InvocationData
	if err := json.Unmarshal(env.Payload, &data); err != nil {
		return nil, fmt.Errorf("decode invocation data: %w", err)
	}

	return NewDecoder(p.codecs, data), nil
}

// ExtractResult deserializes the InvocationResult carried by a response
// or error envelope.
func (p *Processor) ExtractResult(
	env wire.Envelope) (InvocationResult, error) {

	if !env.IsReply() {
		return InvocationResult{}, fmt.Errorf("%w: got %s",
			ErrNotReply, env.MessageType)
	}

	// A void response may arrive with an entirely empty payload under
	// the void manifest.
	if env.Manifest.SerializerID == codec.VoidSerializerID &&
		len(env.Payload) == 0 {

		return InvocationResult{Kind: ResultVoid}, nil
	}

	var result InvocationResult
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		return InvocationResult{}, fmt.Errorf(
			"decode invocation result: %w", err,
		)
	}

	return result, nil
}

// CreateErrorEnvelope wraps an error into an error envelope correlated
// to callID, for failures that occur before any response writer exists
// (e.g. an unknown recipient).
func (p *Processor) CreateErrorEnvelope(to identity.ID, callID string,
	cause error,
	sender fn.Option[identity.ID]) (wire.Envelope, error) {

	result := InvocationResult{
		Kind:  ResultError,
		Error: NewSerializedError(cause),
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf(
			"encode error result: %w", err,
		)
	}

	manifest := wire.Manifest{
		SerializerID: codec.JSONSerializerID,
		TypeHint:     InvocationResultHint,
	}

	return wire.NewError(to, sender, callID, manifest, payload, nil)
}

// NewSerializedError captures an error value for the wire. The type
// name is the error's registered hint form; the codable bytes are
// included when the error value marshals cleanly, so a peer with the
// type registered can recover the original value.
func NewSerializedError(cause error) *SerializedError {
	se := &SerializedError{
		TypeName: errorTypeName(cause),
		Message:  cause.Error(),
	}

	// Best effort: sentinel errors created with errors.New do not
	// marshal to anything useful, so only keep object-shaped bytes.
	if data, err := json.Marshal(cause); err == nil &&
		len(data) > 0 && data[0] == '{' && string(data) != "{}" {

		se.Data = data
	}

	return se
}

// errorTypeName derives the wire type name for an error value,
// unwrapping one level of pointer so "*pkg.MyErr" and "pkg.MyErr" name
// the same registered type.
func errorTypeName(cause error) string {
	t := reflect.TypeOf(cause)
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return codec.HintFor(t)
}
