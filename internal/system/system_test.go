package system

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/roasbeef/edgerpc/internal/calls"
	"github.com/roasbeef/edgerpc/internal/codec"
	"github.com/roasbeef/edgerpc/internal/identity"
	"github.com/roasbeef/edgerpc/internal/invoke"
	"github.com/roasbeef/edgerpc/internal/metrics"
	"github.com/roasbeef/edgerpc/internal/transport"
	"github.com/roasbeef/edgerpc/internal/wire"
	"github.com/stretchr/testify/require"
)

// myErr is the registered domain error used by the throw scenario.
type myErr struct {
	Code int `json:"code"`
}

func (e *myErr) Error() string {
	return fmt.Sprintf("my err code=%d", e.Code)
}

// echoActor hosts the test methods: echo, inc, fail, and sleep.
type echoActor struct {
	id identity.ID

	// count tracks inc() invocations.
	count atomic.Int64

	// sleepFor delays the sleep() method.
	sleepFor time.Duration
}

func (a *echoActor) ActorID() identity.ID {
	return a.id
}

// DispatchTarget is the hand-written server-side stub: the only code
// that knows the wire identifier of each method.
func (a *echoActor) DispatchTarget(ctx context.Context, target string,
	dec *invoke.Decoder, handler ResultHandler) error {

	switch target {
	case "echo(string)":
		if err := dec.CheckArity(1); err != nil {
			return err
		}

		arg, err := dec.DecodeNextArgument()
		if err != nil {
			return err
		}
		input, ok := arg.(string)
		if !ok {
			return fmt.Errorf("%w: argument is %T",
				ErrTypeMismatch, arg)
		}

		return handler.OnReturn(ctx, input, reflect.TypeOf(""))

	case "inc()":
		if err := dec.CheckArity(0); err != nil {
			return err
		}

		a.count.Add(1)

		return handler.OnReturnVoid(ctx)

	case "fail()":
		return handler.OnThrow(ctx, &myErr{Code: 7})

	case "sleep(int64)":
		if err := dec.CheckArity(1); err != nil {
			return err
		}
		if _, err := dec.DecodeNextArgument(); err != nil {
			return err
		}

		select {
		case <-time.After(a.sleepFor):
		case <-ctx.Done():
			return ctx.Err()
		}

		return handler.OnReturnVoid(ctx)

	default:
		return fmt.Errorf("%w: %s", ErrMethodNotFound, target)
	}
}

// echoClient is the hand-written client stub for echoActor: each method
// builds an encoder, issues the remote call, and decodes the result.
type echoClient struct {
	sys *System
	id  identity.ID
}

func (c *echoClient) Echo(ctx context.Context,
	input string) (string, error) {

	enc := invoke.NewEncoder(c.sys.Codecs())
	if err := invoke.RecordArgument(enc, input); err != nil {
		return "", err
	}
	if err := enc.RecordReturnType(reflect.TypeOf("")); err != nil {
		return "", err
	}
	if err := enc.DoneRecording(); err != nil {
		return "", err
	}

	return RemoteCall[string](ctx, c.sys, c.id, "echo(string)", enc)
}

func (c *echoClient) Inc(ctx context.Context) error {
	enc := invoke.NewEncoder(c.sys.Codecs())
	if err := enc.DoneRecording(); err != nil {
		return err
	}

	return RemoteCallVoid(ctx, c.sys, c.id, "inc()", enc)
}

func (c *echoClient) Fail(ctx context.Context) error {
	enc := invoke.NewEncoder(c.sys.Codecs())
	if err := enc.DoneRecording(); err != nil {
		return err
	}

	return RemoteCallVoid(ctx, c.sys, c.id, "fail()", enc)
}

func (c *echoClient) Sleep(ctx context.Context, millis int64,
	opts ...CallOption) error {

	enc := invoke.NewEncoder(c.sys.Codecs())
	if err := invoke.RecordArgument(enc, millis); err != nil {
		return err
	}
	if err := enc.DoneRecording(); err != nil {
		return err
	}

	return RemoteCallVoid(
		ctx, c.sys, c.id, "sleep(int64)", enc, opts...,
	)
}

// recordingTransport wraps a transport and captures every envelope sent
// through it plus every synchronous reply returned.
type recordingTransport struct {
	transport.Transport

	mu      sync.Mutex
	sent    []wire.Envelope
	replies []wire.Envelope
}

func (r *recordingTransport) Send(ctx context.Context,
	env wire.Envelope) (fn.Option[wire.Envelope], error) {

	reply, err := r.Transport.Send(ctx, env)

	r.mu.Lock()
	r.sent = append(r.sent, env)
	reply.WhenSome(func(env wire.Envelope) {
		r.replies = append(r.replies, env)
	})
	r.mu.Unlock()

	return reply, err
}

func (r *recordingTransport) snapshot() (sent, replies []wire.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]wire.Envelope(nil), r.sent...),
		append([]wire.Envelope(nil), r.replies...)
}

// testEdge is one fully wired client/server pair over the in-memory
// transport.
type testEdge struct {
	client *System
	server *System
	actor  *echoActor
	stub   *echoClient
	wire   *recordingTransport
}

// newTestEdge stands up a server hosting one echo actor plus a client
// system connected to it, with shared type registrations.
func newTestEdge(t *testing.T, clientCfg Config) *testEdge {
	t.Helper()

	types := codec.NewTypeRegistry()
	codec.RegisterNamed[myErr](types, "system.myErr")

	clientT, serverT := transport.NewMemoryPair()
	recorded := &recordingTransport{Transport: clientT}

	server := NewServer(DefaultConfig(), types)
	actor := &echoActor{id: identity.WellKnown("echo-1")}
	server.ActorReady(actor)
	go server.Serve(serverT)

	client := NewClient(clientCfg, recorded, types)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()

		_ = client.Shutdown(ctx)
		_ = serverT.Close()
		_ = server.Shutdown(ctx)
	})

	return &testEdge{
		client: client,
		server: server,
		actor:  actor,
		stub:   &echoClient{sys: client, id: actor.id},
		wire:   recorded,
	}
}

// TestEchoHappyPath is seed scenario 1: one echo call, one invocation
// and one response on the wire sharing a call ID, no timeouts.
func TestEchoHappyPath(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	rec := metrics.NewPromRecorder("edgerpc_test", reg)

	cfg := DefaultConfig()
	cfg.Metrics = rec
	edge := newTestEdge(t, cfg)

	out, err := edge.stub.Echo(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", out)

	sent, replies := edge.wire.snapshot()
	require.Len(t, sent, 1)
	require.Len(t, replies, 1)
	require.Equal(t, wire.MessageInvocation, sent[0].MessageType)
	require.Equal(t, wire.MessageResponse, replies[0].MessageType)
	require.Equal(t,
		sent[0].Metadata.CallID, replies[0].Metadata.CallID,
	)

	require.Equal(t, float64(0), testutil.ToFloat64(rec.Timeouts()))
}

// TestVoidCall is seed scenario 2: inc() completes without error, the
// server count moves, and the response is a void-manifest empty
// payload.
func TestVoidCall(t *testing.T) {
	edge := newTestEdge(t, DefaultConfig())

	require.NoError(t, edge.stub.Inc(context.Background()))
	require.Equal(t, int64(1), edge.actor.count.Load())

	_, replies := edge.wire.snapshot()
	require.Len(t, replies, 1)
	require.Equal(t,
		codec.VoidSerializerID, replies[0].Manifest.SerializerID,
	)
	require.Empty(t, replies[0].Payload)
}

// TestServerThrows is seed scenario 3: the thrown domain error arrives
// typed, with its code intact, because the type is registered.
func TestServerThrows(t *testing.T) {
	edge := newTestEdge(t, DefaultConfig())

	err := edge.stub.Fail(context.Background())
	require.Error(t, err)

	var domainErr *myErr
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, 7, domainErr.Code)
}

// TestTimeout is seed scenario 4: a slow server method trips the
// per-call timeout; the late response is dropped without effect.
func TestTimeout(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	rec := metrics.NewPromRecorder("edgerpc_test", reg)

	cfg := DefaultConfig()
	cfg.Metrics = rec
	edge := newTestEdge(t, cfg)
	edge.actor.sleepFor = 300 * time.Millisecond

	start := time.Now()
	err := edge.stub.Sleep(
		context.Background(), 300,
		WithCallTimeout(50*time.Millisecond),
	)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, calls.ErrTimeout)
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	require.Less(t, elapsed, 200*time.Millisecond)
	require.Equal(t, float64(1), testutil.ToFloat64(rec.Timeouts()))

	// The late response arrives well after the timeout and is
	// dropped: nothing is left in flight and nothing panics.
	time.Sleep(400 * time.Millisecond)
	require.Equal(t, 0, edge.client.InFlightCount())
}

// TestGracefulDrain is seed scenario 5: ten in-flight calls all finish
// inside the drain window and the manager walks Running -> Draining ->
// Terminated.
func TestGracefulDrain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDrainGrace = 500 * time.Millisecond
	edge := newTestEdge(t, cfg)
	edge.actor.sleepFor = 100 * time.Millisecond

	states := edge.client.Manager().SubscribeState()

	const numCalls = 10
	var wg sync.WaitGroup
	callErrs := make([]error, numCalls)
	for i := 0; i < numCalls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			callErrs[i] = edge.stub.Sleep(
				context.Background(), 100,
				WithCallTimeout(2*time.Second),
			)
		}(i)
	}

	// Let the calls register before starting the drain.
	require.Eventually(t, func() bool {
		return edge.client.InFlightCount() == numCalls
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()
	require.NoError(t, edge.client.Shutdown(ctx))

	wg.Wait()
	for i, err := range callErrs {
		require.NoError(t, err, "call %d failed", i)
	}

	require.Equal(t, 0, edge.client.InFlightCount())
	require.Equal(
		t, calls.StateTerminated, edge.client.Manager().State(),
	)
	require.Equal(t, calls.StateDraining, <-states)
	require.Equal(t, calls.StateTerminated, <-states)
}

// TestUnknownRecipient is seed scenario 6: calling an unregistered
// actor yields an ActorNotFound error envelope and no dispatch.
func TestUnknownRecipient(t *testing.T) {
	edge := newTestEdge(t, DefaultConfig())

	enc := invoke.NewEncoder(edge.client.Codecs())
	require.NoError(t, enc.RecordReturnType(reflect.TypeOf("")))
	require.NoError(t, enc.DoneRecording())

	_, err := RemoteCall[string](
		context.Background(), edge.client,
		identity.WellKnown("ghost"), "echo(string)", enc,
	)
	require.Error(t, err)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Contains(t, remoteErr.Message, "actor not found")

	// The echo actor never saw a dispatch.
	require.Equal(t, int64(0), edge.actor.count.Load())
}

// TestCancellation verifies caller-side cancellation surfaces as a
// typed Cancelled error and closes out the in-flight entry.
func TestCancellation(t *testing.T) {
	edge := newTestEdge(t, DefaultConfig())
	edge.actor.sleepFor = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := edge.stub.Sleep(ctx, 1000, WithCallTimeout(5*time.Second))
	require.ErrorIs(t, err, calls.ErrCancelled)

	require.Eventually(t, func() bool {
		return edge.client.InFlightCount() == 0
	}, time.Second, time.Millisecond)
}

// TestMethodNotFound verifies unknown targets surface as remote errors
// mentioning the method.
func TestMethodNotFound(t *testing.T) {
	edge := newTestEdge(t, DefaultConfig())

	enc := invoke.NewEncoder(edge.client.Codecs())
	require.NoError(t, enc.DoneRecording())

	err := RemoteCallVoid(
		context.Background(), edge.client, edge.actor.id,
		"vanish()", enc,
	)
	require.Error(t, err)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Contains(t, remoteErr.Message, "method not found")
}

// TestVoidMismatch verifies a value-returning call answered with void
// fails with ErrProtocolMismatch.
func TestVoidMismatch(t *testing.T) {
	edge := newTestEdge(t, DefaultConfig())

	enc := invoke.NewEncoder(edge.client.Codecs())
	require.NoError(t, enc.RecordReturnType(reflect.TypeOf("")))
	require.NoError(t, enc.DoneRecording())

	_, err := RemoteCall[string](
		context.Background(), edge.client, edge.actor.id,
		"inc()", enc,
	)
	require.ErrorIs(t, err, ErrProtocolMismatch)
}

// TestResolveLocal verifies Resolve returns typed local references and
// catches dynamic type disagreement.
func TestResolveLocal(t *testing.T) {
	edge := newTestEdge(t, DefaultConfig())

	// The echo actor lives on the server system.
	resolved, err := Resolve[*echoActor](edge.server, edge.actor.id)
	require.NoError(t, err)
	require.True(t, resolved.IsSome())

	// Unknown id resolves to None: the caller builds a remote proxy.
	resolved2, err := Resolve[*echoActor](
		edge.server, identity.WellKnown("absent"),
	)
	require.NoError(t, err)
	require.True(t, resolved2.IsNone())

	// Wrong dynamic type fails with TypeMismatch.
	_, err = Resolve[*echoClient](edge.server, edge.actor.id)
	require.ErrorIs(t, err, ErrTypeMismatch)
}

// TestAssignIDQueue verifies pre-assigned IDs are consumed in order and
// never reissued.
func TestAssignIDQueue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreassignedIDs = []string{"seed-1", "seed-2"}

	sys := NewServer(cfg, codec.NewTypeRegistry())
	defer sys.Shutdown(context.Background())

	require.Equal(t, "seed-1", sys.AssignID().String())
	require.Equal(t, "seed-2", sys.AssignID().String())

	// Exhausted queue falls back to generated IDs.
	generated := sys.AssignID()
	require.False(t, generated.IsZero())
	require.NotEqual(t, "seed-1", generated.String())
	require.NotEqual(t, "seed-2", generated.String())
}

// TestSendAfterShutdown verifies calls are rejected once the system is
// shut down.
func TestSendAfterShutdown(t *testing.T) {
	edge := newTestEdge(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()
	require.NoError(t, edge.client.Shutdown(ctx))

	err := edge.stub.Inc(context.Background())
	require.ErrorIs(t, err, calls.ErrSystemShutDown)
}

// TestConcurrentCalls fires many echo calls in parallel and verifies
// each completes exactly once with its own payload.
func TestConcurrentCalls(t *testing.T) {
	edge := newTestEdge(t, DefaultConfig())

	const numCalls = 32
	var wg sync.WaitGroup
	results := make([]string, numCalls)
	errs := make([]error, numCalls)

	for i := 0; i < numCalls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := fmt.Sprintf("msg-%d", i)
			results[i], errs[i] = edge.stub.Echo(
				context.Background(), input,
			)
		}(i)
	}

	wg.Wait()

	for i := 0; i < numCalls; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, fmt.Sprintf("msg-%d", i), results[i])
	}
	require.Equal(t, 0, edge.client.InFlightCount())
}

// errors.Is sanity for the exported taxonomy.
func TestErrorTaxonomyDistinct(t *testing.T) {
	kinds := []error{
		ErrActorNotFound, ErrTypeMismatch, ErrMethodNotFound,
		ErrProtocolMismatch, ErrNoTransport, calls.ErrTimeout,
		calls.ErrCancelled, calls.ErrSystemShutDown,
		transport.ErrDisconnected, transport.ErrSendFailed,
		transport.ErrProtocolMismatch,
	}

	for i, a := range kinds {
		for j, b := range kinds {
			if i == j {
				continue
			}
			require.False(t, errors.Is(a, b),
				"%v and %v must be distinct", a, b)
		}
	}
}
