package system

import (
	"context"
	"reflect"

	"github.com/roasbeef/edgerpc/internal/identity"
	"github.com/roasbeef/edgerpc/internal/invoke"
)

// DistributedActor is implemented by every actor the runtime can
// address. The ID is assigned by the system (AssignID) or chosen as a
// well-known value out of band.
type DistributedActor interface {
	// ActorID returns the actor's wire identity.
	ActorID() identity.ID
}

// Dispatcher is the server-side face of an actor: the type-erased
// handle the registry stores, able to route a decoded invocation to one
// of its methods by target identifier. Hand-written (or generated)
// stubs implement DispatchTarget with a switch over the actor's method
// identifiers — they are the only code that knows the wire identifier
// for a given method.
type Dispatcher interface {
	DistributedActor

	// DispatchTarget invokes the method named by target with
	// arguments decoded from dec, reporting the outcome through
	// handler. Unknown targets return ErrMethodNotFound; argument
	// decode and arity failures are returned as-is. A returned error
	// means no result was written yet: the runtime converts it into
	// an error envelope.
	DispatchTarget(ctx context.Context, target string,
		dec *invoke.Decoder, handler ResultHandler) error
}

// ResultHandler adapts a method's "returned / returned nothing / threw"
// outcome into the wire reply. Exactly one of the three methods is
// invoked per dispatched call; the underlying transport write completes
// (or its failure is logged) before the handler returns.
type ResultHandler interface {
	// OnReturn reports a value result, declared as staticType.
	OnReturn(ctx context.Context, value any,
		staticType reflect.Type) error

	// OnReturnVoid reports completion of a void method.
	OnReturnVoid(ctx context.Context) error

	// OnThrow reports a thrown error.
	OnThrow(ctx context.Context, err error) error
}

// responseHandler is the transport-backed ResultHandler used for real
// dispatches: each outcome is serialized and written through the
// request's response writer.
type responseHandler struct {
	writer *invoke.ResponseWriter
}

// OnReturn serializes the value and writes a response envelope.
func (h *responseHandler) OnReturn(ctx context.Context, value any,
	staticType reflect.Type) error {

	return h.writer.WriteSuccess(ctx, value, staticType)
}

// OnReturnVoid writes a void response envelope.
func (h *responseHandler) OnReturnVoid(ctx context.Context) error {
	return h.writer.WriteVoid(ctx)
}

// OnThrow wraps the error and writes an error envelope.
func (h *responseHandler) OnThrow(ctx context.Context, err error) error {
	return h.writer.WriteError(ctx, err)
}
