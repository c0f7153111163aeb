package wire

import (
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/identity"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestInvocationFactoryInvariants verifies the constructor rejects
// envelopes that are missing required correlation fields.
func TestInvocationFactoryInvariants(t *testing.T) {
	recipient := identity.WellKnown("echo-1")
	manifest := Manifest{SerializerID: "json", TypeHint: "string"}

	t.Run("missing recipient", func(t *testing.T) {
		_, err := NewInvocation(
			identity.ID{}, fn.None[identity.ID](), "echo",
			"call-1", manifest, nil, nil,
		)
		require.ErrorIs(t, err, ErrMissingRecipient)
	})

	t.Run("missing call id", func(t *testing.T) {
		_, err := NewInvocation(
			recipient, fn.None[identity.ID](), "echo", "",
			manifest, nil, nil,
		)
		require.ErrorIs(t, err, ErrMissingCallID)
	})

	t.Run("missing target", func(t *testing.T) {
		_, err := NewInvocation(
			recipient, fn.None[identity.ID](), "", "call-1",
			manifest, nil, nil,
		)
		require.ErrorIs(t, err, ErrMissingTarget)
	})

	t.Run("valid", func(t *testing.T) {
		env, err := NewInvocation(
			recipient, fn.None[identity.ID](), "echo", "call-1",
			manifest, []byte("payload"), nil,
		)
		require.NoError(t, err)
		require.Equal(t, MessageInvocation, env.MessageType)
		require.NotZero(t, env.Metadata.Timestamp)
	})
}

// TestReplyFactoryInvariants verifies response/error constructors demand
// a call ID but not a target.
func TestReplyFactoryInvariants(t *testing.T) {
	recipient := identity.WellKnown("caller")

	_, err := NewResponse(
		recipient, fn.None[identity.ID](), "", Manifest{}, nil, nil,
	)
	require.ErrorIs(t, err, ErrMissingCallID)

	env, err := NewError(
		recipient, fn.None[identity.ID](), "call-9", Manifest{},
		nil, nil,
	)
	require.NoError(t, err)
	require.Equal(t, MessageError, env.MessageType)
	require.True(t, env.IsReply())
}

// TestHeadersNotAliased verifies construction copies the caller's header
// map so later mutation cannot reach into an envelope.
func TestHeadersNotAliased(t *testing.T) {
	headers := map[string]string{"trace-id": "abc"}
	env, err := NewInvocation(
		identity.WellKnown("echo-1"), fn.None[identity.ID](),
		"echo", "call-1", Manifest{SerializerID: "void"}, nil,
		headers,
	)
	require.NoError(t, err)

	headers["trace-id"] = "mutated"

	got, ok := env.Header("trace-id")
	require.True(t, ok)
	require.Equal(t, "abc", got)
}

// TestEnvelopeBinaryRoundTrip checks that every field, including the
// header map and timestamp, survives the bytes round trip exactly.
func TestEnvelopeBinaryRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := Envelope{
			Recipient: identity.FromString(
				rapid.StringMatching(`[a-z0-9-]{1,24}`).
					Draw(t, "recipient"),
			),
			Manifest: Manifest{
				SerializerID: rapid.SampledFrom([]string{
					"json", "specialized-with-type-hint",
					"void",
				}).Draw(t, "serializer"),
				TypeHint: rapid.StringMatching(
					`[a-zA-Z0-9./\[\]]{0,40}`,
				).Draw(t, "hint"),
			},
			Payload: rapid.SliceOfN(
				rapid.Byte(), 0, 256,
			).Draw(t, "payload"),
			Metadata: Metadata{
				CallID: rapid.StringMatching(
					`[a-f0-9-]{1,36}`,
				).Draw(t, "callID"),
				Target: rapid.StringMatching(
					`[a-zA-Z0-9().]{0,30}`,
				).Draw(t, "target"),
				Timestamp: rapid.Int64Range(
					1, 1<<50,
				).Draw(t, "timestamp"),
			},
			MessageType: rapid.SampledFrom([]MessageType{
				MessageInvocation, MessageResponse,
				MessageError, MessageSystem,
			}).Draw(t, "msgType"),
		}

		if rapid.Bool().Draw(t, "hasSender") {
			env.Sender = fn.Some(identity.FromString(
				rapid.StringMatching(`[a-z0-9-]{1,24}`).
					Draw(t, "sender"),
			))
		}

		numHeaders := rapid.IntRange(0, 4).Draw(t, "numHeaders")
		if numHeaders > 0 {
			env.Metadata.Headers = make(map[string]string)
			for i := 0; i < numHeaders; i++ {
				key := rapid.StringMatching(
					`[a-z-]{1,16}`,
				).Draw(t, "headerKey")
				env.Metadata.Headers[key] = rapid.
					StringMatching(`[ -~]{0,32}`).
					Draw(t, "headerValue")
			}
		}

		decoded, err := UnmarshalEnvelope(MarshalEnvelope(env))
		if err != nil {
			t.Fatal(err)
		}

		if !envelopesEqual(env, decoded) {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v",
				decoded, env)
		}
	})
}

// envelopesEqual compares all envelope fields, treating nil and empty
// payloads/headers as equal.
func envelopesEqual(a, b Envelope) bool {
	if !a.Recipient.Equal(b.Recipient) {
		return false
	}

	aSender := a.Sender.UnwrapOr(identity.ID{})
	bSender := b.Sender.UnwrapOr(identity.ID{})
	if !aSender.Equal(bSender) {
		return false
	}

	if a.Manifest != b.Manifest {
		return false
	}
	if string(a.Payload) != string(b.Payload) {
		return false
	}
	if a.Metadata.CallID != b.Metadata.CallID ||
		a.Metadata.Target != b.Metadata.Target ||
		a.Metadata.Timestamp != b.Metadata.Timestamp {

		return false
	}
	if len(a.Metadata.Headers) != len(b.Metadata.Headers) {
		return false
	}
	for k, v := range a.Metadata.Headers {
		if b.Metadata.Headers[k] != v {
			return false
		}
	}

	return a.MessageType == b.MessageType
}

// TestUnmarshalRejectsGarbage verifies structurally invalid bytes fail
// with ErrMalformedEnvelope rather than being silently accepted.
func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := UnmarshalEnvelope([]byte{0xff, 0xff, 0xff})
	require.ErrorIs(t, err, ErrMalformedEnvelope)

	// An empty buffer has no recipient, which is also malformed.
	_, err = UnmarshalEnvelope(nil)
	require.ErrorIs(t, err, ErrMalformedEnvelope)
}
