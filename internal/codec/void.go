package codec

import (
	"fmt"
	"reflect"

	"github.com/roasbeef/edgerpc/internal/wire"
)

// voidSerializer encodes the absence of a value: the payload is empty
// and the manifest hint is empty, since no dynamic dispatch is needed.
type voidSerializer struct{}

// VoidManifest is the manifest stamped on every void payload.
var VoidManifest = wire.Manifest{SerializerID: VoidSerializerID}

// ID returns the serializer identifier placed in manifests.
func (voidSerializer) ID() string {
	return VoidSerializerID
}

// Serialize emits an empty payload for a nil value and rejects any
// other input with ErrUnsupportedType.
func (voidSerializer) Serialize(value any,
	_ reflect.Type) ([]byte, wire.Manifest, error) {

	if value != nil {
		return nil, wire.Manifest{}, fmt.Errorf(
			"%w: void serializer given %T",
			ErrUnsupportedType, value,
		)
	}

	return nil, VoidManifest, nil
}

// Deserialize returns nil for an empty payload and rejects anything
// else as corrupt.
func (voidSerializer) Deserialize(data []byte,
	_ wire.Manifest) (any, error) {

	if len(data) != 0 {
		return nil, fmt.Errorf(
			"%w: void payload carries %d bytes",
			ErrCorrupt, len(data),
		)
	}

	return nil, nil
}
