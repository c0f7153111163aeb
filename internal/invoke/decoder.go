package invoke

import (
	"fmt"
	"reflect"

	"github.com/roasbeef/edgerpc/internal/codec"
	"github.com/roasbeef/edgerpc/internal/wire"
)

// Decoder consumes the InvocationData of one inbound invocation
// envelope. Arguments are decoded in positional order; the manifests
// can be inspected up front so a dispatcher can resolve parameter types
// before invoking the method. Decoders are single-use and not safe for
// concurrent use.
type Decoder struct {
	// codecs deserializes argument payloads.
	codecs *codec.Registry

	// data is the decoded invocation payload.
	data InvocationData

	// next indexes the next argument to decode.
	next int
}

// NewDecoder creates a decoder over the given invocation data, bound to
// the system's serialization registry.
func NewDecoder(codecs *codec.Registry, data InvocationData) *Decoder {
	return &Decoder{
		codecs: codecs,
		data:   data,
	}
}

// DecodeGenericSubstitutions resolves the recorded positional type
// hints through the type registry. An unresolvable hint fails with the
// registry's ErrUnknownType.
func (d *Decoder) DecodeGenericSubstitutions() ([]reflect.Type, error) {
	subs := make([]reflect.Type, 0, len(d.data.GenericSubstitutions))
	for i, hint := range d.data.GenericSubstitutions {
		t, err := d.codecs.Types().Resolve(hint)
		if err != nil {
			return nil, fmt.Errorf(
				"generic substitution %d: %w", i, err,
			)
		}

		subs = append(subs, t)
	}

	return subs, nil
}

// DecodeNextArgument deserializes the next positional argument using
// its recorded manifest. Calling past the end fails with
// ErrArgumentMissing.
func (d *Decoder) DecodeNextArgument() (any, error) {
	if d.next >= len(d.data.Arguments) {
		return nil, fmt.Errorf("%w: index %d of %d",
			ErrArgumentMissing, d.next,
			len(d.data.Arguments))
	}

	arg := d.data.Arguments[d.next]
	d.next++

	value, err := d.codecs.Deserialize(arg.Data, arg.Manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: argument %d (%s): %v",
			ErrArgumentDecode, d.next-1,
			arg.Manifest.TypeHint, err)
	}

	return value, nil
}

// ArgumentManifests exposes the per-argument manifests for pre-flight
// introspection, in positional order.
func (d *Decoder) ArgumentManifests() []wire.Manifest {
	manifests := make([]wire.Manifest, len(d.data.Arguments))
	for i, arg := range d.data.Arguments {
		manifests[i] = arg.Manifest
	}

	return manifests
}

// NumArguments returns the recorded argument count.
func (d *Decoder) NumArguments() int {
	return len(d.data.Arguments)
}

// IsVoid reports whether the invocation declares a void return.
func (d *Decoder) IsVoid() bool {
	return d.data.IsVoid
}

// CheckArity fails with ErrArityMismatch when the recorded argument
// count differs from the target method's declared arity. Dispatchers
// call this before decoding.
func (d *Decoder) CheckArity(want int) error {
	if len(d.data.Arguments) != want {
		return fmt.Errorf("%w: method takes %d arguments, "+
			"invocation carries %d", ErrArityMismatch, want,
			len(d.data.Arguments))
	}

	return nil
}
