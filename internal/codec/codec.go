// Package codec implements the pluggable serialization system for the
// runtime. Values are encoded by named serializers; every payload
// travels with a Manifest naming the serializer that produced it and a
// type hint the receiver resolves through the TypeRegistry. Three
// serializers ship built in: a general-purpose JSON codec, a specialized
// little-endian codec for primitives, and the void codec for empty
// returns.
package codec

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/roasbeef/edgerpc/internal/wire"
)

// Built-in serializer identifiers.
const (
	// JSONSerializerID is the default general-purpose codec.
	JSONSerializerID = "json"

	// SpecializedSerializerID dispatches to primitive codecs keyed by
	// the manifest type hint.
	SpecializedSerializerID = "specialized-with-type-hint"

	// VoidSerializerID marks an intentionally empty payload.
	VoidSerializerID = "void"
)

// Serializer encodes and decodes values of the types it accepts. The
// manifest a serializer emits must be sufficient for the peer's
// serializer of the same ID to reverse the encoding.
type Serializer interface {
	// ID returns the serializer identifier placed in manifests.
	ID() string

	// Serialize encodes the value, using staticType (never nil) as
	// the declared type for the manifest hint.
	Serialize(value any,
		staticType reflect.Type) ([]byte, wire.Manifest, error)

	// Deserialize decodes payload bytes according to the manifest.
	Deserialize(data []byte, manifest wire.Manifest) (any, error)
}

// Registry is the serialization front door used by the invocation
// pipeline. It owns the set of named serializers and the type registry
// used for hint resolution, and picks the appropriate serializer for
// each value.
type Registry struct {
	mu sync.RWMutex

	// serializers maps serializer ID to implementation.
	serializers map[string]Serializer

	// types resolves wire type hints to concrete types.
	types *TypeRegistry
}

// NewRegistry creates a serialization registry bound to the given type
// registry (the process-wide default when nil), with the three built-in
// serializers registered.
func NewRegistry(types *TypeRegistry) *Registry {
	if types == nil {
		types = DefaultTypeRegistry()
	}

	r := &Registry{
		serializers: make(map[string]Serializer),
		types:       types,
	}

	r.Register(&jsonSerializer{types: types})
	r.Register(&specializedSerializer{types: types})
	r.Register(voidSerializer{})

	return r
}

// Register adds (or replaces) a serializer under its ID.
func (r *Registry) Register(s Serializer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.serializers[s.ID()] = s
}

// Types returns the type registry backing hint resolution.
func (r *Registry) Types() *TypeRegistry {
	return r.types
}

// Serialize encodes a value using its runtime type as the declared
// type. Prefer SerializeTyped on the invocation path, where the static
// parameter type is known.
func (r *Registry) Serialize(value any) ([]byte, wire.Manifest, error) {
	if value == nil {
		return nil, wire.Manifest{}, fmt.Errorf(
			"%w: nil value", ErrUnsupportedType,
		)
	}

	return r.SerializeTyped(value, reflect.TypeOf(value))
}

// SerializeTyped encodes a value using staticType as the declared type.
// The manifest's hint reflects the static type, not the runtime type,
// so the receiver decodes into the declared method parameter type. It
// fails with ErrUnsupportedType when no registered serializer accepts
// the value.
func (r *Registry) SerializeTyped(value any,
	staticType reflect.Type) ([]byte, wire.Manifest, error) {

	if staticType == nil {
		return nil, wire.Manifest{}, fmt.Errorf(
			"%w: missing static type", ErrUnsupportedType,
		)
	}

	switch staticType.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, wire.Manifest{}, fmt.Errorf("%w: %s",
			ErrUnsupportedType, staticType)
	}

	id := JSONSerializerID
	if isSpecializedType(staticType) {
		id = SpecializedSerializerID
	}

	s := r.lookup(id)
	if s == nil {
		return nil, wire.Manifest{}, fmt.Errorf("%w: %q",
			ErrUnknownManifest, id)
	}

	return s.Serialize(value, staticType)
}

// Deserialize decodes payload bytes according to the manifest. It fails
// with ErrUnknownManifest when the named serializer is not registered,
// ErrUnknownType when the hint cannot be resolved, or ErrCorrupt when
// the bytes do not decode.
func (r *Registry) Deserialize(data []byte,
	manifest wire.Manifest) (any, error) {

	s := r.lookup(manifest.SerializerID)
	if s == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownManifest,
			manifest.SerializerID)
	}

	return s.Deserialize(data, manifest)
}

// lookup returns the serializer registered under id, or nil.
func (r *Registry) lookup(id string) Serializer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.serializers[id]
}

// isSpecializedType reports whether the specialized primitive codec
// handles the given static type.
func isSpecializedType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64,
		reflect.Float32, reflect.Float64:

		// Named types with primitive kinds (e.g. a domain enum)
		// still go through JSON so their hint names the domain
		// type.
		return t.PkgPath() == ""

	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8 &&
			t.PkgPath() == ""

	default:
		return false
	}
}
