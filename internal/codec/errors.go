package codec

import "errors"

var (
	// ErrUnsupportedType is returned when no registered serializer
	// accepts the value being serialized.
	ErrUnsupportedType = errors.New("unsupported type for serialization")

	// ErrUnknownManifest is returned when a manifest names a
	// serializer that is not registered locally.
	ErrUnknownManifest = errors.New("unknown serializer manifest")

	// ErrUnknownType is returned when a manifest's type hint cannot be
	// resolved to a locally known type.
	ErrUnknownType = errors.New("unknown type hint")

	// ErrCorrupt is returned when payload bytes cannot be decoded by
	// the serializer the manifest names.
	ErrCorrupt = errors.New("corrupt payload")
)
