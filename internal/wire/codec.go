package wire

import (
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/identity"
	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers in the canonical protobuf wire representation.
// These are frozen: changing a number is a wire-breaking change.
const (
	fieldRecipient    protowire.Number = 1
	fieldSender       protowire.Number = 2
	fieldSerializerID protowire.Number = 3
	fieldTypeHint     protowire.Number = 4
	fieldPayload      protowire.Number = 5
	fieldCallID       protowire.Number = 6
	fieldTarget       protowire.Number = 7
	fieldTimestamp    protowire.Number = 8
	fieldHeader       protowire.Number = 9
	fieldMessageType  protowire.Number = 10
)

// Header sub-message field numbers.
const (
	fieldHeaderKey   protowire.Number = 1
	fieldHeaderValue protowire.Number = 2
)

// MarshalEnvelope encodes the envelope into its canonical protobuf wire
// representation. The encoding is hand-rolled with protowire rather than
// generated code: the message is small and frozen, and this keeps the
// repo free of a codegen step.
func MarshalEnvelope(env Envelope) []byte {
	// Pre-size for the common case: strings plus payload plus a little
	// tag overhead.
	buf := make([]byte, 0, 64+len(env.Payload))

	buf = appendStringField(buf, fieldRecipient, env.Recipient.String())

	sender := env.Sender.UnwrapOr(identity.ID{})
	if !sender.IsZero() {
		buf = appendStringField(buf, fieldSender, sender.String())
	}

	buf = appendStringField(
		buf, fieldSerializerID, env.Manifest.SerializerID,
	)
	buf = appendStringField(buf, fieldTypeHint, env.Manifest.TypeHint)

	if len(env.Payload) > 0 {
		buf = protowire.AppendTag(
			buf, fieldPayload, protowire.BytesType,
		)
		buf = protowire.AppendBytes(buf, env.Payload)
	}

	buf = appendStringField(buf, fieldCallID, env.Metadata.CallID)
	buf = appendStringField(buf, fieldTarget, env.Metadata.Target)

	if env.Metadata.Timestamp != 0 {
		buf = protowire.AppendTag(
			buf, fieldTimestamp, protowire.VarintType,
		)
		buf = protowire.AppendVarint(
			buf, uint64(env.Metadata.Timestamp),
		)
	}

	for key, value := range env.Metadata.Headers {
		var entry []byte
		entry = appendStringField(entry, fieldHeaderKey, key)
		entry = appendStringField(entry, fieldHeaderValue, value)

		buf = protowire.AppendTag(
			buf, fieldHeader, protowire.BytesType,
		)
		buf = protowire.AppendBytes(buf, entry)
	}

	if env.MessageType != MessageInvocation {
		buf = protowire.AppendTag(
			buf, fieldMessageType, protowire.VarintType,
		)
		buf = protowire.AppendVarint(buf, uint64(env.MessageType))
	}

	return buf
}

// UnmarshalEnvelope decodes the canonical binary representation back
// into an Envelope. Unknown fields are skipped so older peers tolerate
// additive evolution; structurally invalid bytes fail with
// ErrMalformedEnvelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Envelope{}, fmt.Errorf("%w: bad tag: %v",
				ErrMalformedEnvelope, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldRecipient:
			value, n, err := consumeString(data)
			if err != nil {
				return Envelope{}, err
			}
			data = data[n:]
			env.Recipient = identity.FromString(value)

		case fieldSender:
			value, n, err := consumeString(data)
			if err != nil {
				return Envelope{}, err
			}
			data = data[n:]
			if value != "" {
				env.Sender = fn.Some(
					identity.FromString(value),
				)
			}

		case fieldSerializerID:
			value, n, err := consumeString(data)
			if err != nil {
				return Envelope{}, err
			}
			data = data[n:]
			env.Manifest.SerializerID = value

		case fieldTypeHint:
			value, n, err := consumeString(data)
			if err != nil {
				return Envelope{}, err
			}
			data = data[n:]
			env.Manifest.TypeHint = value

		case fieldPayload:
			value, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: payload",
					ErrMalformedEnvelope)
			}
			data = data[n:]
			env.Payload = append([]byte(nil), value...)

		case fieldCallID:
			value, n, err := consumeString(data)
			if err != nil {
				return Envelope{}, err
			}
			data = data[n:]
			env.Metadata.CallID = value

		case fieldTarget:
			value, n, err := consumeString(data)
			if err != nil {
				return Envelope{}, err
			}
			data = data[n:]
			env.Metadata.Target = value

		case fieldTimestamp:
			value, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: timestamp",
					ErrMalformedEnvelope)
			}
			data = data[n:]
			env.Metadata.Timestamp = int64(value)

		case fieldHeader:
			entry, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: header",
					ErrMalformedEnvelope)
			}
			data = data[n:]

			key, value, err := unmarshalHeader(entry)
			if err != nil {
				return Envelope{}, err
			}
			if env.Metadata.Headers == nil {
				env.Metadata.Headers = make(
					map[string]string,
				)
			}
			env.Metadata.Headers[key] = value

		case fieldMessageType:
			value, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Envelope{}, fmt.Errorf(
					"%w: message type",
					ErrMalformedEnvelope,
				)
			}
			data = data[n:]
			env.MessageType = MessageType(value)

		default:
			// Skip unknown fields for forward compatibility.
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Envelope{}, fmt.Errorf(
					"%w: unknown field %d",
					ErrMalformedEnvelope, num,
				)
			}
			data = data[n:]
		}
	}

	if env.Recipient.IsZero() {
		return Envelope{}, fmt.Errorf("%w: %v",
			ErrMalformedEnvelope, ErrMissingRecipient)
	}

	return env, nil
}

// appendStringField appends a length-delimited string field, omitting
// empty strings entirely (proto3 default semantics).
func appendStringField(buf []byte, num protowire.Number,
	value string) []byte {

	if value == "" {
		return buf
	}

	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	buf = protowire.AppendString(buf, value)

	return buf
}

// consumeString consumes a length-delimited string field value.
func consumeString(data []byte) (string, int, error) {
	value, n := protowire.ConsumeString(data)
	if n < 0 {
		return "", 0, fmt.Errorf("%w: bad string field",
			ErrMalformedEnvelope)
	}

	return value, n, nil
}

// unmarshalHeader decodes one header map entry sub-message.
func unmarshalHeader(data []byte) (string, string, error) {
	var key, value string

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", "", fmt.Errorf("%w: header entry tag",
				ErrMalformedEnvelope)
		}
		data = data[n:]

		switch num {
		case fieldHeaderKey:
			v, n, err := consumeString(data)
			if err != nil {
				return "", "", err
			}
			data = data[n:]
			key = v

		case fieldHeaderValue:
			v, n, err := consumeString(data)
			if err != nil {
				return "", "", err
			}
			data = data[n:]
			value = v

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", "", fmt.Errorf(
					"%w: header entry field",
					ErrMalformedEnvelope,
				)
			}
			data = data[n:]
		}
	}

	return key, value, nil
}
