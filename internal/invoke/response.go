package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/codec"
	"github.com/roasbeef/edgerpc/internal/identity"
	"github.com/roasbeef/edgerpc/internal/wire"
)

// EnvelopeSender is the narrow transport surface the response writer
// needs: the ability to push one envelope toward the peer.
type EnvelopeSender interface {
	// Send delivers an envelope, optionally returning a correlated
	// reply (unused by the writer).
	Send(ctx context.Context,
		env wire.Envelope) (fn.Option[wire.Envelope], error)
}

// ResponseWriter carries the correlation identifiers of one inbound
// invocation and writes exactly one response, void, or error envelope
// back through the transport. A second write attempt fails with
// ErrResponseWritten; a WriteSuccess whose value fails to serialize
// sends nothing and leaves the writer open for an error reply.
type ResponseWriter struct {
	// codecs serializes success values.
	codecs *codec.Registry

	// sender pushes the reply envelope toward the caller.
	sender EnvelopeSender

	// to is the reply recipient: the original caller when known,
	// otherwise the invoked actor itself (paired transports correlate
	// replies by call ID, not by address).
	to identity.ID

	// from identifies the invoked actor as the reply sender.
	from fn.Option[identity.ID]

	// callID is the correlation identifier echoed verbatim.
	callID string

	// written flips when the first reply is sent.
	written atomic.Bool
}

// CreateResponseWriter captures the correlation identifiers of a
// request envelope so the dispatch path can later complete the call.
func (p *Processor) CreateResponseWriter(request wire.Envelope,
	sender EnvelopeSender) *ResponseWriter {

	to := request.Sender.UnwrapOr(request.Recipient)

	return &ResponseWriter{
		codecs: p.codecs,
		sender: sender,
		to:     to,
		from:   fn.Some(request.Recipient),
		callID: request.Metadata.CallID,
	}
}

// CallID returns the correlation identifier this writer replies to.
func (w *ResponseWriter) CallID() string {
	return w.callID
}

// WriteSuccess serializes the return value (declared as staticType) and
// sends a response envelope.
func (w *ResponseWriter) WriteSuccess(ctx context.Context, value any,
	staticType reflect.Type) error {

	if !w.written.CompareAndSwap(false, true) {
		return ErrResponseWritten
	}

	data, manifest, err := w.codecs.SerializeTyped(value, staticType)
	if err != nil {
		// Nothing was sent: release the guard so the dispatch path
		// can still report the failure as an error reply.
		w.written.Store(false)

		return fmt.Errorf("serialize return value: %w", err)
	}

	result := InvocationResult{
		Kind:     ResultSuccess,
		Manifest: manifest,
		Data:     data,
	}

	return w.sendResult(ctx, result, wire.MessageResponse)
}

// WriteVoid sends a void response envelope: empty payload under the
// void manifest.
func (w *ResponseWriter) WriteVoid(ctx context.Context) error {
	if !w.written.CompareAndSwap(false, true) {
		return ErrResponseWritten
	}

	env, err := wire.NewResponse(
		w.to, w.from, w.callID, codec.VoidManifest, nil, nil,
	)
	if err != nil {
		return err
	}

	return w.send(ctx, env)
}

// WriteError captures the thrown error and sends an error envelope.
func (w *ResponseWriter) WriteError(ctx context.Context,
	cause error) error {

	if !w.written.CompareAndSwap(false, true) {
		return ErrResponseWritten
	}

	result := InvocationResult{
		Kind:  ResultError,
		Error: NewSerializedError(cause),
	}

	return w.sendResult(ctx, result, wire.MessageError)
}

// sendResult marshals an InvocationResult and sends it under the given
// message type.
func (w *ResponseWriter) sendResult(ctx context.Context,
	result InvocationResult, msgType wire.MessageType) error {

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode invocation result: %w", err)
	}

	manifest := wire.Manifest{
		SerializerID: codec.JSONSerializerID,
		TypeHint:     InvocationResultHint,
	}

	var env wire.Envelope
	switch msgType {
	case wire.MessageResponse:
		env, err = wire.NewResponse(
			w.to, w.from, w.callID, manifest, payload, nil,
		)
	default:
		env, err = wire.NewError(
			w.to, w.from, w.callID, manifest, payload, nil,
		)
	}
	if err != nil {
		return err
	}

	return w.send(ctx, env)
}

// send pushes the reply envelope through the transport, logging (and
// returning) any write failure so the dispatch path can account for it.
func (w *ResponseWriter) send(ctx context.Context,
	env wire.Envelope) error {

	if _, err := w.sender.Send(ctx, env); err != nil {
		log.ErrorS(ctx, "Failed to write invocation reply", err,
			"call_id", w.callID,
			"msg_type", env.MessageType.String())

		return fmt.Errorf("write reply: %w", err)
	}

	return nil
}
