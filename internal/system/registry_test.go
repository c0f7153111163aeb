package system

import (
	"context"
	"testing"

	"github.com/roasbeef/edgerpc/internal/identity"
	"github.com/roasbeef/edgerpc/internal/invoke"
	"github.com/stretchr/testify/require"
)

// stubActor is a minimal Dispatcher for registry tests.
type stubActor struct {
	id identity.ID
}

func (a *stubActor) ActorID() identity.ID {
	return a.id
}

func (a *stubActor) DispatchTarget(context.Context, string,
	*invoke.Decoder, ResultHandler) error {

	return ErrMethodNotFound
}

// TestRegistryFindStability verifies Find returns the same reference
// until the exactly-once unregister.
func TestRegistryFindStability(t *testing.T) {
	r := NewRegistry()
	actor := &stubActor{id: identity.WellKnown("stable-1")}

	r.Register(actor)

	for i := 0; i < 5; i++ {
		found, ok := r.Find(actor.id)
		require.True(t, ok)
		require.Same(t, actor, found)
	}

	require.True(t, r.Unregister(actor.id))
	_, ok := r.Find(actor.id)
	require.False(t, ok)

	// Unregister is exactly-once: the second call finds nothing.
	require.False(t, r.Unregister(actor.id))
}

// TestRegistryReplacement verifies double registration replaces the
// prior entry rather than stacking.
func TestRegistryReplacement(t *testing.T) {
	r := NewRegistry()
	id := identity.WellKnown("dup-1")

	first := &stubActor{id: id}
	second := &stubActor{id: id}

	r.Register(first)
	r.Register(second)
	require.Equal(t, 1, r.Len())

	found, ok := r.Find(id)
	require.True(t, ok)
	require.Same(t, second, found)
}

// TestRegistryMetadataIgnored verifies lookups key on the ID value
// only: metadata-annotated IDs find the same entry.
func TestRegistryMetadataIgnored(t *testing.T) {
	r := NewRegistry()
	actor := &stubActor{id: identity.WellKnown("meta-1")}
	r.Register(actor)

	annotated := identity.WellKnown("meta-1").WithMetadata(
		map[string]string{"zone": "edge"},
	)

	found, ok := r.Find(annotated)
	require.True(t, ok)
	require.Same(t, actor, found)
}
