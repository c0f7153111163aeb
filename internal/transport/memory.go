package transport

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/wire"
)

// memoryQueueDepth bounds each side's inbound queue. A full queue fails
// the send rather than blocking the peer.
const memoryQueueDepth = 1024

// Memory is one side of an in-memory paired transport. Two instances
// are created together by NewMemoryPair; an envelope sent on one side
// arrives on the other side's inbound queue. Requests are matched to
// responses by call ID through a per-side wait map, giving the
// synchronous request-response Send semantics simple RPC stacks have.
// Used extensively to exercise the full pipeline without a network.
type Memory struct {
	// name labels this side for logs and metadata.
	name string

	// peer is the other side of the pair.
	peer *Memory

	// mu guards closed and waiters, and orders sends against Close.
	mu sync.RWMutex

	// closed flips once on Close.
	closed bool

	// inbound queues envelopes for Receive.
	inbound chan wire.Envelope

	// waiters maps an in-flight call ID to the channel its reply is
	// delivered on.
	waiters map[string]chan wire.Envelope

	// quit is closed on Close to release blocked senders.
	quit chan struct{}

	// closeOnce makes Close idempotent.
	closeOnce sync.Once
}

// NewMemoryPair creates two connected in-memory transports. Envelopes
// sent on a arrive at b and vice versa.
func NewMemoryPair() (*Memory, *Memory) {
	a := newMemorySide("mem-a")
	b := newMemorySide("mem-b")
	a.peer, b.peer = b, a

	return a, b
}

// newMemorySide builds one unpaired side.
func newMemorySide(name string) *Memory {
	return &Memory{
		name:    name,
		inbound: make(chan wire.Envelope, memoryQueueDepth),
		waiters: make(map[string]chan wire.Envelope),
		quit:    make(chan struct{}),
	}
}

// Send delivers an envelope to the peer. Invocations block until the
// correlated reply arrives (or the context/transport dies) and return
// it; replies and system envelopes are fire-and-forget.
func (m *Memory) Send(ctx context.Context,
	env wire.Envelope) (fn.Option[wire.Envelope], error) {

	none := fn.None[wire.Envelope]()

	if m.isClosed() {
		return none, ErrDisconnected
	}

	switch env.MessageType {
	case wire.MessageInvocation:
		return m.sendRequest(ctx, env)

	case wire.MessageResponse, wire.MessageError:
		// A reply first tries to complete a waiter blocked in
		// sendRequest on the peer side; otherwise it lands on the
		// peer's inbound queue.
		if m.peer.completeWaiter(env) {
			return none, nil
		}

		return none, m.peer.enqueue(env)

	default:
		return none, m.peer.enqueue(env)
	}
}

// sendRequest registers a reply waiter keyed by call ID, enqueues the
// request on the peer, and blocks until the reply, context expiry, or
// transport close.
func (m *Memory) sendRequest(ctx context.Context,
	env wire.Envelope) (fn.Option[wire.Envelope], error) {

	none := fn.None[wire.Envelope]()
	callID := env.Metadata.CallID

	waiter := make(chan wire.Envelope, 1)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return none, ErrDisconnected
	}
	m.waiters[callID] = waiter
	m.mu.Unlock()

	if err := m.peer.enqueue(env); err != nil {
		m.dropWaiter(callID)
		return none, err
	}

	select {
	case reply := <-waiter:
		return fn.Some(reply), nil

	case <-ctx.Done():
		m.dropWaiter(callID)
		return none, ctx.Err()

	case <-m.quit:
		m.dropWaiter(callID)
		return none, ErrDisconnected
	}
}

// completeWaiter hands a reply to the goroutine blocked on its call ID,
// if one exists. It returns true when the reply was consumed.
func (m *Memory) completeWaiter(env wire.Envelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	waiter, ok := m.waiters[env.Metadata.CallID]
	if !ok {
		return false
	}

	delete(m.waiters, env.Metadata.CallID)
	waiter <- env

	return true
}

// dropWaiter removes an abandoned reply waiter.
func (m *Memory) dropWaiter(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.waiters, callID)
}

// enqueue places an envelope on this side's inbound queue. The read
// lock orders the send against Close so the channel is never written
// after it is closed.
func (m *Memory) enqueue(env wire.Envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrDisconnected
	}

	select {
	case m.inbound <- env:
		return nil
	default:
		return fmt.Errorf("%w: inbound queue full at depth %d",
			ErrSendFailed, memoryQueueDepth)
	}
}

// Receive yields inbound envelopes until the transport is closed and
// the queue is drained.
func (m *Memory) Receive() iter.Seq[wire.Envelope] {
	return func(yield func(wire.Envelope) bool) {
		for env := range m.inbound {
			if !yield(env) {
				return
			}
		}
	}
}

// Close tears this side down: blocked senders are released and Receive
// terminates once the queue drains. The peer stays open and observes
// ErrDisconnected on its next send toward this side.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.quit)
		close(m.inbound)
		m.mu.Unlock()

		log.DebugS(context.Background(),
			"In-memory transport closed", "side", m.name)
	})

	return nil
}

// isClosed reports whether Close has run.
func (m *Memory) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.closed
}

// IsConnected reports whether both sides of the pair are open.
func (m *Memory) IsConnected() bool {
	return !m.isClosed() && m.peer != nil && !m.peer.isClosed()
}

// Metadata describes this side of the pair.
func (m *Memory) Metadata() Metadata {
	return Metadata{
		Kind:      "memory",
		LocalAddr: m.name,
		RemoteAddr: func() string {
			if m.peer != nil {
				return m.peer.name
			}
			return ""
		}(),
	}
}

// Compile-time interface check.
var _ Transport = (*Memory)(nil)
