package transport

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/identity"
	"github.com/roasbeef/edgerpc/internal/wire"
	"github.com/stretchr/testify/require"
)

// invocation builds a minimal invocation envelope for transport tests.
func invocation(t *testing.T, callID string) wire.Envelope {
	t.Helper()

	env, err := wire.NewInvocation(
		identity.WellKnown("server"), fn.None[identity.ID](),
		"work()", callID, wire.Manifest{SerializerID: "void"},
		nil, nil,
	)
	require.NoError(t, err)

	return env
}

// response builds the reply correlated to callID.
func response(t *testing.T, callID string) wire.Envelope {
	t.Helper()

	env, err := wire.NewResponse(
		identity.WellKnown("client"), fn.None[identity.ID](),
		callID, wire.Manifest{SerializerID: "void"}, nil, nil,
	)
	require.NoError(t, err)

	return env
}

// TestMemoryRequestResponse verifies the paired transport matches a
// request to its reply by call ID.
func TestMemoryRequestResponse(t *testing.T) {
	client, server := NewMemoryPair()
	defer client.Close()
	defer server.Close()

	// Server side: consume the request and answer it.
	go func() {
		for env := range server.Receive() {
			_, err := server.Send(
				context.Background(),
				response(t, env.Metadata.CallID),
			)
			require.NoError(t, err)

			return
		}
	}()

	reply, err := client.Send(
		context.Background(), invocation(t, "call-1"),
	)
	require.NoError(t, err)
	require.True(t, reply.IsSome())

	env := reply.UnwrapOr(wire.Envelope{})
	require.Equal(t, "call-1", env.Metadata.CallID)
	require.Equal(t, wire.MessageResponse, env.MessageType)
}

// TestMemoryReplyWithoutWaiter verifies a reply with no blocked sender
// lands on the inbound queue instead, matching asynchronous consumers.
func TestMemoryReplyWithoutWaiter(t *testing.T) {
	client, server := NewMemoryPair()
	defer client.Close()
	defer server.Close()

	_, err := server.Send(context.Background(), response(t, "call-9"))
	require.NoError(t, err)

	for env := range client.Receive() {
		require.Equal(t, "call-9", env.Metadata.CallID)
		return
	}

	t.Fatal("reply never surfaced on inbound queue")
}

// TestMemorySendAfterClose verifies post-close sends fail with
// ErrDisconnected.
func TestMemorySendAfterClose(t *testing.T) {
	client, server := NewMemoryPair()
	require.NoError(t, client.Close())

	// Close is idempotent.
	require.NoError(t, client.Close())

	_, err := client.Send(context.Background(), invocation(t, "c"))
	require.ErrorIs(t, err, ErrDisconnected)

	// The surviving peer cannot reach the closed side either.
	_, err = server.Send(context.Background(), response(t, "c"))
	require.ErrorIs(t, err, ErrDisconnected)

	require.False(t, client.IsConnected())
	require.False(t, server.IsConnected())
}

// TestMemoryReceiveEndsOnClose verifies the receive sequence is finite:
// it terminates once the transport closes.
func TestMemoryReceiveEndsOnClose(t *testing.T) {
	client, server := NewMemoryPair()
	defer server.Close()

	_, err := server.Send(context.Background(), response(t, "c1"))
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		seen := 0
		for range client.Receive() {
			seen++
		}
		done <- seen
	}()

	// Give the consumer a moment, then close.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case seen := <-done:
		require.Equal(t, 1, seen)
	case <-time.After(time.Second):
		t.Fatal("receive sequence did not terminate on close")
	}
}

// TestMemorySendContextCancelled verifies a blocked request send
// respects caller cancellation and cleans up its waiter.
func TestMemorySendContextCancelled(t *testing.T) {
	client, server := NewMemoryPair()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(
		context.Background(), 20*time.Millisecond,
	)
	defer cancel()

	// No server consumer: the request waits until the context dies.
	_, err := client.Send(ctx, invocation(t, "call-slow"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	client.mu.RLock()
	require.Empty(t, client.waiters)
	client.mu.RUnlock()
}

// TestMemoryMetadata sanity checks the introspection surface.
func TestMemoryMetadata(t *testing.T) {
	client, server := NewMemoryPair()
	defer client.Close()
	defer server.Close()

	require.True(t, client.IsConnected())
	require.Equal(t, "memory", client.Metadata().Kind)
	require.Equal(t,
		server.Metadata().LocalAddr,
		client.Metadata().RemoteAddr,
	)
}
