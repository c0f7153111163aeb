// Package calls implements the client-side in-flight call lifecycle:
// correlating response envelopes back to their callers by call ID,
// enforcing per-call timeouts, and supporting bounded draining on
// shutdown. The manager is transport-agnostic; whatever surfaces a
// reply envelope calls Succeed or Fail with the correlated call ID.
package calls

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/metrics"
	"github.com/roasbeef/edgerpc/internal/wire"
)

// State is the lifecycle state of the manager. Transitions are one-way:
// Running -> Draining -> Terminated.
type State uint8

const (
	// StateRunning accepts new call registrations.
	StateRunning State = iota

	// StateDraining rejects new calls while waiting for in-flight
	// calls to complete.
	StateDraining

	// StateTerminated rejects everything; all calls are resolved.
	StateTerminated
)

// String returns a human readable state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// stateSubBuffer is the buffer size of state subscription channels.
// At most two transitions can ever occur (Running -> Draining ->
// Terminated), so subscribers never block the manager.
const stateSubBuffer = 4

// inFlightCall tracks one outstanding client call.
type inFlightCall struct {
	// callID correlates the call with its reply envelope.
	callID string

	// promise completes with the reply envelope or a failure.
	promise *Promise[wire.Envelope]

	// timeout fires the per-call deadline. Stopped on completion.
	timeout *time.Timer

	// startTime is when the call was registered, for latency
	// accounting.
	startTime time.Time
}

// ManagerConfig holds construction parameters for the Manager.
type ManagerConfig struct {
	// Metrics receives lifecycle measurements. Nil means no
	// recording.
	Metrics metrics.Recorder
}

// Manager tracks in-flight client calls keyed by call ID. All state
// mutations are serialized under a single mutex; timeout callbacks
// acquire the same lock and re-check membership before firing so a
// response and a timeout can never both resolve the same call.
type Manager struct {
	mu sync.Mutex

	// state is the current lifecycle state.
	state State

	// calls maps call ID to its in-flight entry.
	calls map[string]*inFlightCall

	// drained is closed when the call map empties while draining.
	drained chan struct{}

	// stateSubs receive each state transition.
	stateSubs []chan State

	// metrics receives lifecycle measurements.
	metrics metrics.Recorder
}

// NewManager creates a Manager in the Running state.
func NewManager(cfg ManagerConfig) *Manager {
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Noop{}
	}

	return &Manager{
		state:   StateRunning,
		calls:   make(map[string]*inFlightCall),
		metrics: rec,
	}
}

// Register inserts an in-flight entry for callID, schedules its
// timeout, and returns the completion handle the caller awaits. It
// fails with ErrSystemShutDown unless the manager is Running. A zero
// timeout fires on the next scheduling turn rather than blocking
// forever.
func (m *Manager) Register(callID string,
	timeout time.Duration) (Future[wire.Envelope], error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning {
		return nil, ErrSystemShutDown
	}
	if _, exists := m.calls[callID]; exists {
		return nil, ErrDuplicateCallID
	}

	call := &inFlightCall{
		callID:    callID,
		promise:   NewPromise[wire.Envelope](),
		startTime: time.Now(),
	}
	call.timeout = time.AfterFunc(timeout, func() {
		m.expire(callID)
	})

	m.calls[callID] = call
	m.metrics.InFlightChanged(1)

	log.TraceS(context.Background(), "Registered in-flight call",
		"call_id", callID, "timeout", timeout)

	return call.promise.Future(), nil
}

// Succeed resolves the call's handle with the reply envelope. A late
// completion for an unknown call ID (already timed out or cancelled) is
// logged and dropped.
func (m *Manager) Succeed(callID string, env wire.Envelope) {
	m.resolve(callID, fn.Ok(env), metrics.OutcomeSuccess)
}

// Fail resolves the call's handle with the given error. Late failures
// for unknown call IDs are logged and dropped.
func (m *Manager) Fail(callID string, cause error) {
	outcome := metrics.OutcomeError
	if errors.Is(cause, ErrCancelled) {
		outcome = metrics.OutcomeCancelled
	}

	m.resolve(callID, fn.Err[wire.Envelope](cause), outcome)
}

// resolve removes the call, cancels its timeout, and completes its
// promise, all under the manager lock.
func (m *Manager) resolve(callID string, result fn.Result[wire.Envelope],
	outcome string) {

	m.mu.Lock()
	defer m.mu.Unlock()

	call, ok := m.calls[callID]
	if !ok {
		// The call already timed out or was cancelled; drop the
		// late completion.
		log.DebugS(context.Background(),
			"Dropping completion for unknown call",
			"call_id", callID, "outcome", outcome)

		return
	}

	m.remove(call, outcome)
	call.promise.Complete(result)
}

// expire is the timeout callback for one call. Membership is re-checked
// under the lock: if the call completed in the meantime, the timer
// fires into nothing.
func (m *Manager) expire(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call, ok := m.calls[callID]
	if !ok {
		return
	}

	log.DebugS(context.Background(), "In-flight call timed out",
		"call_id", callID,
		"elapsed", time.Since(call.startTime))

	m.metrics.TimeoutExpired()
	m.remove(call, metrics.OutcomeTimeout)
	call.promise.Complete(fn.Err[wire.Envelope](ErrTimeout))
}

// remove deletes the call from the map, stops its timer, and records
// its latency. Callers hold m.mu.
func (m *Manager) remove(call *inFlightCall, outcome string) {
	delete(m.calls, call.callID)
	call.timeout.Stop()

	m.metrics.InFlightChanged(-1)
	m.metrics.CallLatency(outcome, time.Since(call.startTime))

	if len(m.calls) == 0 && m.drained != nil {
		close(m.drained)
		m.drained = nil
	}
}

// CancelAll fails every in-flight call with reason, cancels all
// timeouts, and clears the call map.
func (m *Manager) CancelAll(reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.calls) > 0 {
		log.InfoS(context.Background(),
			"Cancelling all in-flight calls",
			"num_calls", len(m.calls), "reason", reason)
	}

	outcome := metrics.OutcomeCancelled
	for _, call := range m.calls {
		call.timeout.Stop()
		m.metrics.InFlightChanged(-1)
		m.metrics.CallLatency(
			outcome, time.Since(call.startTime),
		)
		call.promise.Complete(fn.Err[wire.Envelope](reason))
	}

	m.calls = make(map[string]*inFlightCall)

	if m.drained != nil {
		close(m.drained)
		m.drained = nil
	}
}

// Drain transitions the manager to Draining, waits until either the
// in-flight count reaches zero or the context deadline elapses, then
// cancels any survivors with ErrSystemShutDown and transitions to
// Terminated. After Drain returns, InFlightCount is zero.
func (m *Manager) Drain(ctx context.Context) {
	start := time.Now()

	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}

	m.setStateLocked(StateDraining)

	var wait chan struct{}
	if len(m.calls) > 0 {
		wait = make(chan struct{})
		m.drained = wait
	}
	m.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
		}
	}

	// Whatever is still outstanding is cancelled with the shutdown
	// reason.
	m.CancelAll(ErrSystemShutDown)

	m.mu.Lock()
	m.setStateLocked(StateTerminated)
	m.mu.Unlock()

	m.metrics.DrainDuration(time.Since(start))

	log.InfoS(context.Background(), "Call manager drained",
		"elapsed", time.Since(start))
}

// setStateLocked updates the state and notifies subscribers. Callers
// hold m.mu.
func (m *Manager) setStateLocked(next State) {
	m.state = next
	for _, sub := range m.stateSubs {
		select {
		case sub <- next:
		default:
			// Subscriber fell behind; state can be read
			// directly via State().
		}
	}
}

// SubscribeState returns a channel receiving each subsequent state
// transition. The channel is buffered for the full transition count and
// never blocks the manager.
func (m *Manager) SubscribeState() <-chan State {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := make(chan State, stateSubBuffer)
	m.stateSubs = append(m.stateSubs, sub)

	return sub
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// InFlightCount returns the number of outstanding calls.
func (m *Manager) InFlightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.calls)
}
