// Package identity defines the opaque actor identifiers used to address
// actors across process boundaries. An ID is a plain string value on the
// wire; two constructor forms exist, one for stable well-known names and
// one for generated short tokens.
package identity

import (
	"github.com/google/uuid"
)

// generatedTokenLen is the number of leading UUID characters used for
// generated actor IDs. Eight hex characters keeps IDs short while leaving
// collisions vanishingly unlikely within a single edge pair.
const generatedTokenLen = 8

// ID is an opaque, hashable actor identifier. Equality and hashing are by
// exact string value; the optional metadata map never participates in
// equality. The zero value is invalid and reports IsZero() == true.
type ID struct {
	// value is the canonical string form of the identifier.
	value string

	// metadata carries optional free-form annotations attached at
	// construction time. It is informational only.
	metadata map[string]string
}

// WellKnown constructs an ID from a stable, pre-agreed name such as
// "chat-server". The same name always produces an equal ID.
func WellKnown(name string) ID {
	return ID{value: name}
}

// Generate constructs a fresh ID with a short random token. Generated IDs
// are unique per call.
func Generate() ID {
	return ID{value: uuid.NewString()[:generatedTokenLen]}
}

// FromString reconstructs an ID from its canonical string form, typically
// when decoding a wire envelope. An empty string yields the zero ID.
func FromString(value string) ID {
	return ID{value: value}
}

// WithMetadata returns a copy of the ID carrying the given metadata map.
// The returned ID compares equal to the receiver: metadata is excluded
// from equality and from the wire form.
func (id ID) WithMetadata(md map[string]string) ID {
	cloned := make(map[string]string, len(md))
	for k, v := range md {
		cloned[k] = v
	}

	return ID{value: id.value, metadata: cloned}
}

// String returns the canonical string form of the ID. This is the value
// placed in envelope recipient/sender fields.
func (id ID) String() string {
	return id.value
}

// Metadata returns the metadata value for the given key, along with
// whether the key was present.
func (id ID) Metadata(key string) (string, bool) {
	v, ok := id.metadata[key]
	return v, ok
}

// Equal reports whether two IDs refer to the same actor. Only the string
// value is compared.
func (id ID) Equal(other ID) bool {
	return id.value == other.value
}

// IsZero reports whether the ID is the zero (unset) identifier.
func (id ID) IsZero() bool {
	return id.value == ""
}

// MarshalText implements encoding.TextMarshaler, emitting the canonical
// string form. Metadata is intentionally dropped: it is process-local.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	id.value = string(text)
	id.metadata = nil
	return nil
}
