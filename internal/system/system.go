// Package system implements the runtime front door: actor identity
// assignment, local registration, client-side remote calls, and
// server-side dispatch of inbound invocations. A System composes the
// serialization registry, the invocation processor, a transport, and
// the in-flight call lifecycle manager.
package system

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/calls"
	"github.com/roasbeef/edgerpc/internal/codec"
	"github.com/roasbeef/edgerpc/internal/identity"
	"github.com/roasbeef/edgerpc/internal/invoke"
	"github.com/roasbeef/edgerpc/internal/metrics"
	"github.com/roasbeef/edgerpc/internal/transport"
	"github.com/roasbeef/edgerpc/internal/wire"
)

// Mode selects the construction shape of a System.
type Mode uint8

const (
	// ModeClient owns a transport and a call lifecycle manager. It
	// may still host local actors.
	ModeClient Mode = iota

	// ModeServer owns only a registry; the surrounding server owns
	// the ingress transports and feeds them to Serve.
	ModeServer
)

// System is the distributed actor runtime for one process edge.
type System struct {
	cfg  Config
	mode Mode

	// registry maps actor IDs to local dispatchers.
	registry *Registry

	// codecs is the serialization registry.
	codecs *codec.Registry

	// processor composes encoding, decoding, and envelopes.
	processor *invoke.Processor

	// transport carries envelopes in client mode. Nil in server
	// mode.
	transport transport.Transport

	// manager tracks in-flight client calls. Nil in server mode.
	manager *calls.Manager

	// metrics receives lifecycle measurements.
	metrics metrics.Recorder

	// idQueue holds pre-assigned IDs consumed by AssignID.
	idQueue []identity.ID

	// ctx governs the system lifetime; cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks receiver and dispatch goroutines.
	wg sync.WaitGroup

	// stopOnce makes Shutdown idempotent.
	stopOnce sync.Once

	// idMu guards idQueue.
	idMu sync.Mutex
}

// newSystem builds the mode-independent core.
func newSystem(cfg Config, mode Mode, types *codec.TypeRegistry) *System {
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Noop{}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinDrainGrace == 0 {
		cfg.MinDrainGrace = DefaultMinDrainGrace
	}

	codecs := codec.NewRegistry(types)

	ctx, cancel := context.WithCancel(context.Background())

	s := &System{
		cfg:       cfg,
		mode:      mode,
		registry:  NewRegistry(),
		codecs:    codecs,
		processor: invoke.NewProcessor(codecs),
		metrics:   rec,
		ctx:       ctx,
		cancel:    cancel,
	}

	for _, raw := range cfg.PreassignedIDs {
		s.idQueue = append(s.idQueue, identity.FromString(raw))
	}

	return s
}

// NewClient constructs a client-mode system owning the given transport.
// A receiver task immediately begins observing inbound envelopes,
// correlating replies to in-flight calls and dispatching invocations to
// any locally hosted actors.
func NewClient(cfg Config, t transport.Transport,
	types *codec.TypeRegistry) *System {

	s := newSystem(cfg, ModeClient, types)
	s.transport = t
	s.manager = calls.NewManager(calls.ManagerConfig{
		Metrics: s.metrics,
	})

	s.wg.Add(1)
	go s.receiveLoop(t)

	log.InfoS(s.ctx, "Client actor system started",
		"label", cfg.LoggerLabel,
		"transport", t.Metadata().Kind,
		"timeout", cfg.Timeout)

	return s
}

// NewServer constructs a server-mode system: a registry and dispatch
// pipeline with no owned transport. Ingress transports are fed to
// Serve by the surrounding server.
func NewServer(cfg Config, types *codec.TypeRegistry) *System {
	s := newSystem(cfg, ModeServer, types)

	log.InfoS(s.ctx, "Server actor system started",
		"label", cfg.LoggerLabel)

	return s
}

// Mode reports whether the system was constructed in client or server
// mode.
func (s *System) Mode() Mode {
	return s.mode
}

// Codecs exposes the system's serialization registry, used by stubs to
// construct encoders.
func (s *System) Codecs() *codec.Registry {
	return s.codecs
}

// Processor exposes the invocation processor.
func (s *System) Processor() *invoke.Processor {
	return s.processor
}

// Manager exposes the call lifecycle manager, nil in server mode.
func (s *System) Manager() *calls.Manager {
	return s.manager
}

// receiveLoop is the client-side receiver task: it observes inbound
// envelopes, resolves replies against the lifecycle manager by call ID,
// and dispatches invocations to locally hosted actors. The loop ends
// when the transport's receive sequence does; any calls still in flight
// at that point are failed with ErrDisconnected.
func (s *System) receiveLoop(t transport.Transport) {
	defer s.wg.Done()

	for env := range t.Receive() {
		switch {
		case env.IsReply():
			// Error envelopes also resolve as "successes" of
			// the handle: the caller extracts the result and
			// maps the error arm to a typed failure.
			s.manager.Succeed(env.Metadata.CallID, env)

		case env.MessageType == wire.MessageInvocation:
			s.wg.Add(1)
			go func(env wire.Envelope) {
				defer s.wg.Done()
				s.dispatch(s.ctx, env, t)
			}(env)

		default:
			log.DebugS(s.ctx, "Ignoring inbound envelope",
				"msg_type", env.MessageType.String())
		}
	}

	// The transport is gone. Nothing else can resolve in-flight
	// calls, so fail them all now.
	s.manager.CancelAll(transport.ErrDisconnected)
}

// Serve consumes one ingress transport in server mode, dispatching each
// inbound invocation on its own goroutine. It blocks until the
// transport's receive sequence ends; the surrounding server typically
// runs it once per accepted connection.
func (s *System) Serve(t transport.Transport) {
	for env := range t.Receive() {
		if env.MessageType != wire.MessageInvocation {
			log.DebugS(s.ctx, "Ignoring non-invocation envelope",
				"msg_type", env.MessageType.String())

			continue
		}

		s.wg.Add(1)
		go func(env wire.Envelope) {
			defer s.wg.Done()
			s.dispatch(s.ctx, env, t)
		}(env)
	}
}

// AssignID returns the next pre-assigned ID from the seeded queue, or a
// freshly generated one once the queue is exhausted. Queue IDs are
// consumed exactly once and never reissued.
func (s *System) AssignID() identity.ID {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	if len(s.idQueue) > 0 {
		id := s.idQueue[0]
		s.idQueue = s.idQueue[1:]

		return id
	}

	return identity.Generate()
}

// ActorReady registers a local actor, making it addressable by its ID.
func (s *System) ActorReady(actor Dispatcher) {
	s.registry.Register(actor)
}

// ResignID unregisters the actor registered under id.
func (s *System) ResignID(id identity.ID) bool {
	return s.registry.Unregister(id)
}

// Resolve returns a typed reference to the local actor registered under
// id. None signals the caller to construct a remote proxy instead. A
// local entry whose dynamic type disagrees with T fails with
// ErrTypeMismatch.
func Resolve[T any](s *System, id identity.ID) (fn.Option[T], error) {
	actor, ok := s.registry.Find(id)
	if !ok {
		return fn.None[T](), nil
	}

	typed, ok := any(actor).(T)
	if !ok {
		return fn.None[T](), fmt.Errorf(
			"%w: actor %s is %T", ErrTypeMismatch, id, actor,
		)
	}

	return fn.Some(typed), nil
}

// callOptions holds per-call overrides.
type callOptions struct {
	timeout fn.Option[time.Duration]
}

// CallOption is a functional option for one remote call.
type CallOption func(*callOptions)

// WithCallTimeout overrides the system's default per-call timeout for
// one call.
func WithCallTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = fn.Some(d)
	}
}

// issueCall runs steps 1-4 of the remote call sequence: envelope
// construction, lifecycle registration, transport hand-off, and the
// await. It returns the reply envelope.
func (s *System) issueCall(ctx context.Context, recipient identity.ID,
	target string, enc *invoke.Encoder,
	opts ...CallOption) (wire.Envelope, error) {

	var zero wire.Envelope

	if s.transport == nil || s.manager == nil {
		return zero, ErrNoTransport
	}

	var options callOptions
	for _, opt := range opts {
		opt(&options)
	}
	timeout := options.timeout.UnwrapOr(s.cfg.Timeout)

	callID := uuid.NewString()

	env, err := s.processor.CreateInvocationEnvelope(
		recipient, fn.None[identity.ID](), target, callID, enc,
		s.traceContext(ctx),
	)
	if err != nil {
		return zero, err
	}

	handle, err := s.manager.Register(callID, timeout)
	if err != nil {
		return zero, err
	}

	log.TraceS(ctx, "Issuing remote call",
		"recipient", recipient, "target", target,
		"call_id", callID, "timeout", timeout)

	// Hand the envelope to the transport on a separate task. A
	// synchronous-response transport returns the reply directly and
	// we feed it to the manager ourselves; an asynchronous transport
	// returns None and the receiver task resolves the call. The send
	// runs under the system context so a reply arriving after the
	// call's timeout is still drained (and then dropped, with a log,
	// by the manager).
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		reply, err := s.transport.Send(s.ctx, env)
		if err != nil {
			s.manager.Fail(callID, err)

			return
		}

		reply.WhenSome(func(replyEnv wire.Envelope) {
			s.manager.Succeed(callID, replyEnv)
		})
	}()

	result := handle.Await(ctx)
	replyEnv, err := result.Unpack()
	if err != nil {
		// Caller-side cancellation: fail the in-flight entry so
		// the manager's accounting closes out, then surface the
		// typed cancellation. The server is not notified.
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			s.manager.Fail(callID, calls.ErrCancelled)

			return zero, fmt.Errorf("%w: %v",
				calls.ErrCancelled, ctx.Err())
		}

		return zero, err
	}

	return replyEnv, nil
}

// RemoteCall issues a value-returning call against a remote actor:
// the drained encoder becomes an invocation envelope, the call is
// registered with the lifecycle manager, and the extracted result is
// deserialized into R. Every call returns a value or exactly one typed
// error.
func RemoteCall[R any](ctx context.Context, s *System,
	recipient identity.ID, target string, enc *invoke.Encoder,
	opts ...CallOption) (R, error) {

	var zero R

	replyEnv, err := s.issueCall(ctx, recipient, target, enc, opts...)
	if err != nil {
		return zero, err
	}

	result, err := s.processor.ExtractResult(replyEnv)
	if err != nil {
		return zero, err
	}

	switch result.Kind {
	case invoke.ResultSuccess:
		value, err := s.codecs.Deserialize(
			result.Data, result.Manifest,
		)
		if err != nil {
			return zero, err
		}

		typed, ok := value.(R)
		if !ok {
			return zero, fmt.Errorf(
				"%w: result is %T", ErrTypeMismatch, value,
			)
		}

		return typed, nil

	case invoke.ResultVoid:
		return zero, fmt.Errorf(
			"%w: void result for value-returning call %q",
			ErrProtocolMismatch, target,
		)

	case invoke.ResultError:
		return zero, s.remoteError(result.Error)

	default:
		return zero, fmt.Errorf("%w: result kind %q",
			ErrProtocolMismatch, result.Kind)
	}
}

// RemoteCallVoid issues a void call against a remote actor.
func RemoteCallVoid(ctx context.Context, s *System,
	recipient identity.ID, target string, enc *invoke.Encoder,
	opts ...CallOption) error {

	replyEnv, err := s.issueCall(ctx, recipient, target, enc, opts...)
	if err != nil {
		return err
	}

	result, err := s.processor.ExtractResult(replyEnv)
	if err != nil {
		return err
	}

	switch result.Kind {
	case invoke.ResultVoid:
		return nil

	case invoke.ResultError:
		return s.remoteError(result.Error)

	default:
		return fmt.Errorf("%w: %q result for void call",
			ErrProtocolMismatch, result.Kind)
	}
}

// remoteError maps a SerializedError back to a typed error. When the
// type name resolves locally and the codable bytes decode into an
// error value, the original error type is recovered; otherwise a
// generic RemoteError carries the name and message.
func (s *System) remoteError(se *invoke.SerializedError) error {
	if se == nil {
		return &RemoteError{Message: "unknown remote failure"}
	}

	if len(se.Data) > 0 {
		if rt, err := s.codecs.Types().Resolve(
			se.TypeName,
		); err == nil {
			target := reflect.New(rt)
			err := json.Unmarshal(se.Data, target.Interface())
			if err == nil {
				if typed, ok := target.Interface().(error); ok {
					return typed
				}
			}
		}
	}

	return &RemoteError{
		TypeName: se.TypeName,
		Message:  se.Message,
		Data:     se.Data,
	}
}

// traceContext derives the trace headers for one outbound call: the
// ambient context value when present, else a fresh trace ID when
// tracing is enabled.
func (s *System) traceContext(ctx context.Context) invoke.TraceContext {
	if tc, ok := TraceFromContext(ctx); ok {
		return tc
	}

	if s.cfg.Tracing.Enabled {
		return invoke.TraceContext{TraceID: uuid.NewString()}
	}

	return invoke.TraceContext{}
}

// traceCtxKey keys the ambient TraceContext in a context.Context.
type traceCtxKey struct{}

// WithTraceContext attaches a trace context to ctx; subsequent remote
// calls under ctx stamp its values onto their envelope headers.
func WithTraceContext(ctx context.Context,
	tc invoke.TraceContext) context.Context {

	return context.WithValue(ctx, traceCtxKey{}, tc)
}

// TraceFromContext extracts the ambient trace context, if any.
func TraceFromContext(ctx context.Context) (invoke.TraceContext, bool) {
	tc, ok := ctx.Value(traceCtxKey{}).(invoke.TraceContext)

	return tc, ok
}

// InFlightCount reports the number of outstanding client calls. Zero
// in server mode.
func (s *System) InFlightCount() int {
	if s.manager == nil {
		return 0
	}

	return s.manager.InFlightCount()
}

// Shutdown runs the shutdown discipline: stop accepting calls and
// drain in-flight work within a bounded grace window, cancel the
// survivors, close the transport, and join all worker tasks. The
// provided context caps the whole procedure.
func (s *System) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.stopOnce.Do(func() {
		log.InfoS(ctx, "Actor system shutting down",
			"label", s.cfg.LoggerLabel,
			"in_flight", s.InFlightCount())

		if s.manager != nil {
			// Scale the grace window with the in-flight count,
			// but never below the configured minimum.
			expected := s.cfg.ExpectedLatency
			if expected == 0 {
				expected = s.cfg.Timeout
			}
			grace := time.Duration(
				s.InFlightCount(),
			) * expected
			if grace < s.cfg.MinDrainGrace {
				grace = s.cfg.MinDrainGrace
			}

			drainCtx, cancel := context.WithTimeout(ctx, grace)
			s.manager.Drain(drainCtx)
			cancel()
		}

		if s.transport != nil {
			if err := s.transport.Close(); err != nil {
				shutdownErr = err
			}
		}

		// Cancel the system context so dispatch and send tasks
		// wind down, then join them.
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			log.InfoS(ctx, "Actor system shutdown complete",
				"label", s.cfg.LoggerLabel)

		case <-ctx.Done():
			log.ErrorS(ctx, "Actor system shutdown incomplete",
				ctx.Err())

			shutdownErr = ctx.Err()
		}
	})

	return shutdownErr
}
