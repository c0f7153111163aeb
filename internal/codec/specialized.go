package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/roasbeef/edgerpc/internal/wire"
)

// specializedSerializer dispatches to fixed primitive codecs keyed by
// the manifest type hint: strings, fixed-width signed and unsigned
// integers, bools, floats, and opaque byte slices. Integers and floats
// are little-endian on the wire; nothing carries a length prefix since
// the envelope payload length already delimits the value.
type specializedSerializer struct {
	types *TypeRegistry
}

// ID returns the serializer identifier placed in manifests.
func (s *specializedSerializer) ID() string {
	return SpecializedSerializerID
}

// Serialize encodes a primitive value.
func (s *specializedSerializer) Serialize(value any,
	staticType reflect.Type) ([]byte, wire.Manifest, error) {

	manifest := wire.Manifest{
		SerializerID: SpecializedSerializerID,
		TypeHint:     HintFor(staticType),
	}

	var buf []byte
	switch v := value.(type) {
	case string:
		buf = []byte(v)

	case bool:
		buf = []byte{0}
		if v {
			buf[0] = 1
		}

	case int8:
		buf = []byte{byte(v)}
	case uint8:
		buf = []byte{v}

	case int16:
		buf = binary.LittleEndian.AppendUint16(nil, uint16(v))
	case uint16:
		buf = binary.LittleEndian.AppendUint16(nil, v)

	case int32:
		buf = binary.LittleEndian.AppendUint32(nil, uint32(v))
	case uint32:
		buf = binary.LittleEndian.AppendUint32(nil, v)

	case int64:
		buf = binary.LittleEndian.AppendUint64(nil, uint64(v))
	case uint64:
		buf = binary.LittleEndian.AppendUint64(nil, v)

	case float32:
		buf = binary.LittleEndian.AppendUint32(
			nil, math.Float32bits(v),
		)
	case float64:
		buf = binary.LittleEndian.AppendUint64(
			nil, math.Float64bits(v),
		)

	case []byte:
		buf = append([]byte(nil), v...)

	default:
		return nil, wire.Manifest{}, fmt.Errorf("%w: %T",
			ErrUnsupportedType, value)
	}

	return buf, manifest, nil
}

// Deserialize decodes a primitive payload according to the resolved
// hint type. Width mismatches fail with ErrCorrupt.
func (s *specializedSerializer) Deserialize(data []byte,
	manifest wire.Manifest) (any, error) {

	targetType, err := s.types.Resolve(manifest.TypeHint)
	if err != nil {
		return nil, err
	}

	switch targetType.Kind() {
	case reflect.String:
		return string(data), nil

	case reflect.Bool:
		if err := expectLen(data, 1, manifest); err != nil {
			return nil, err
		}
		return data[0] != 0, nil

	case reflect.Int8:
		if err := expectLen(data, 1, manifest); err != nil {
			return nil, err
		}
		return int8(data[0]), nil

	case reflect.Uint8:
		if err := expectLen(data, 1, manifest); err != nil {
			return nil, err
		}
		return data[0], nil

	case reflect.Int16:
		if err := expectLen(data, 2, manifest); err != nil {
			return nil, err
		}
		return int16(binary.LittleEndian.Uint16(data)), nil

	case reflect.Uint16:
		if err := expectLen(data, 2, manifest); err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint16(data), nil

	case reflect.Int32:
		if err := expectLen(data, 4, manifest); err != nil {
			return nil, err
		}
		return int32(binary.LittleEndian.Uint32(data)), nil

	case reflect.Uint32:
		if err := expectLen(data, 4, manifest); err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint32(data), nil

	case reflect.Int64:
		if err := expectLen(data, 8, manifest); err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(data)), nil

	case reflect.Uint64:
		if err := expectLen(data, 8, manifest); err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint64(data), nil

	case reflect.Float32:
		if err := expectLen(data, 4, manifest); err != nil {
			return nil, err
		}
		return math.Float32frombits(
			binary.LittleEndian.Uint32(data),
		), nil

	case reflect.Float64:
		if err := expectLen(data, 8, manifest); err != nil {
			return nil, err
		}
		return math.Float64frombits(
			binary.LittleEndian.Uint64(data),
		), nil

	case reflect.Slice:
		if targetType.Elem().Kind() == reflect.Uint8 {
			return append([]byte(nil), data...), nil
		}
	}

	return nil, fmt.Errorf("%w: hint %q is not a primitive",
		ErrUnknownType, manifest.TypeHint)
}

// expectLen validates the exact payload width for a fixed-size
// primitive.
func expectLen(data []byte, want int, manifest wire.Manifest) error {
	if len(data) != want {
		return fmt.Errorf("%w: %q expects %d bytes, got %d",
			ErrCorrupt, manifest.TypeHint, want, len(data))
	}

	return nil
}
