package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/roasbeef/edgerpc/internal/wire"
)

// jsonSerializer is the default general-purpose codec. The manifest
// type hint carries the declared type's qualified name so the receiver
// can resolve the concrete type before unmarshalling.
type jsonSerializer struct {
	types *TypeRegistry
}

// ID returns the serializer identifier placed in manifests.
func (s *jsonSerializer) ID() string {
	return JSONSerializerID
}

// Serialize encodes the value as JSON with a hint naming the declared
// static type.
func (s *jsonSerializer) Serialize(value any,
	staticType reflect.Type) ([]byte, wire.Manifest, error) {

	data, err := json.Marshal(value)
	if err != nil {
		return nil, wire.Manifest{}, fmt.Errorf("%w: %v",
			ErrUnsupportedType, err)
	}

	return data, wire.Manifest{
		SerializerID: JSONSerializerID,
		TypeHint:     HintFor(staticType),
	}, nil
}

// Deserialize resolves the manifest hint through the type registry and
// unmarshals into a fresh value of that type. JSON always requires a
// hint: without one the argument type cannot be recovered.
func (s *jsonSerializer) Deserialize(data []byte,
	manifest wire.Manifest) (any, error) {

	targetType, err := s.types.Resolve(manifest.TypeHint)
	if err != nil {
		return nil, err
	}

	target := reflect.New(targetType)
	if err := json.Unmarshal(data, target.Interface()); err != nil {
		return nil, fmt.Errorf("%w: json decode into %s: %v",
			ErrCorrupt, targetType, err)
	}

	return target.Elem().Interface(), nil
}
