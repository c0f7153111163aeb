package codec

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TypeRegistry maps wire type hints to concrete Go types. The receiver
// of an envelope consults it to recover the argument and return types
// named by payload manifests. Applications register their domain types
// at startup; the registry is seeded with the built-in primitives under
// both their Go-qualified and short unqualified hints.
type TypeRegistry struct {
	mu sync.RWMutex

	// byHint maps every registered hint (canonical and alias) to its
	// concrete type.
	byHint map[string]reflect.Type
}

// defaultTypeRegistry is the process-wide registry. It is the one
// sanctioned global in the runtime: type identity is inherently
// process-scoped.
var defaultTypeRegistry = NewTypeRegistry()

// DefaultTypeRegistry returns the process-wide type registry.
func DefaultTypeRegistry() *TypeRegistry {
	return defaultTypeRegistry
}

// NewTypeRegistry creates a registry seeded with the built-in types:
// strings, fixed-width integers, bool, floats, byte slices, UUIDs,
// timestamps, and URLs.
func NewTypeRegistry() *TypeRegistry {
	tr := &TypeRegistry{
		byHint: make(map[string]reflect.Type),
	}

	seed := []struct {
		value any
		alias string
	}{
		{value: "", alias: "String"},
		{value: int8(0), alias: "Int8"},
		{value: int16(0), alias: "Int16"},
		{value: int32(0), alias: "Int32"},
		{value: int64(0), alias: "Int64"},
		{value: uint8(0), alias: "UInt8"},
		{value: uint16(0), alias: "UInt16"},
		{value: uint32(0), alias: "UInt32"},
		{value: uint64(0), alias: "UInt64"},
		{value: false, alias: "Bool"},
		{value: float32(0), alias: "Float32"},
		{value: float64(0), alias: "Float64"},
		{value: []byte(nil), alias: "Bytes"},
		{value: uuid.UUID{}, alias: "UUID"},
		{value: time.Time{}, alias: "Timestamp"},
		{value: url.URL{}, alias: "URL"},
	}

	for _, s := range seed {
		tr.RegisterType(reflect.TypeOf(s.value), s.alias)
	}

	return tr
}

// HintFor returns the canonical type hint for a Go type: the qualified
// reflect string form, e.g. "codec.testError" or "[]uint8".
func HintFor(t reflect.Type) string {
	return t.String()
}

// RegisterType registers a concrete type under its canonical hint, its
// unqualified name, and any extra alias hints. Later registrations of
// the same hint replace earlier ones.
func (tr *TypeRegistry) RegisterType(t reflect.Type, aliases ...string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	canonical := HintFor(t)
	tr.byHint[canonical] = t

	if name := t.Name(); name != "" {
		tr.byHint[name] = t
	}

	for _, alias := range aliases {
		if alias != "" {
			tr.byHint[alias] = t
		}
	}
}

// RegisterNamed registers the type of T under its canonical and
// unqualified hints plus any aliases. This is the startup entry point
// applications use for their domain types.
func RegisterNamed[T any](tr *TypeRegistry, aliases ...string) {
	tr.RegisterType(reflect.TypeOf((*T)(nil)).Elem(), aliases...)
}

// Resolve maps a wire type hint to a concrete type. Resolution tries an
// exact match first, then the unqualified tail of a dotted hint. An
// unresolvable hint fails with ErrUnknownType.
func (tr *TypeRegistry) Resolve(hint string) (reflect.Type, error) {
	if hint == "" {
		return nil, fmt.Errorf("%w: empty hint", ErrUnknownType)
	}

	tr.mu.RLock()
	defer tr.mu.RUnlock()

	if t, ok := tr.byHint[hint]; ok {
		return t, nil
	}

	// Fall back to the unqualified form: a peer may qualify the type
	// with a module path we do not share.
	if idx := strings.LastIndex(hint, "."); idx >= 0 {
		if t, ok := tr.byHint[hint[idx+1:]]; ok {
			return t, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, hint)
}

// Known reports whether the hint resolves to a registered type.
func (tr *TypeRegistry) Known(hint string) bool {
	_, err := tr.Resolve(hint)
	return err == nil
}
