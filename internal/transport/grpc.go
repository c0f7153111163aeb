package transport

import (
	"context"
	"fmt"
	"iter"
	"net"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/peer"
)

// The channel service is defined by hand rather than generated: it has
// a single bidirectional stream method whose messages are raw envelope
// frames, so there is nothing for protoc to add.
const (
	// channelServiceName is the gRPC service name.
	channelServiceName = "edgerpc.Channel"

	// channelMethod is the full method path of the envelope stream.
	channelMethod = "/edgerpc.Channel/Open"
)

// grpcQueueDepth bounds the inbound envelope queue on each side of a
// stream.
const grpcQueueDepth = 1024

// channelStreamDesc describes the bidirectional envelope stream from
// the client side.
var channelStreamDesc = &grpc.StreamDesc{
	StreamName:    "Open",
	ClientStreams: true,
	ServerStreams: true,
}

// rawFrame is the unit the custom codec moves: one marshalled envelope.
// gRPC's HTTP/2 framing preserves message boundaries and per-stream
// ordering, which is exactly the framing contract the envelope layer
// needs.
type rawFrame struct {
	data []byte
}

// envelopeCodec is a pass-through gRPC codec for rawFrame messages. The
// envelope bytes are already in canonical form; the codec only moves
// them in and out of gRPC's message framing.
type envelopeCodec struct{}

// Marshal extracts the pre-encoded envelope bytes.
func (envelopeCodec) Marshal(v any) ([]byte, error) {
	frame, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected message %T",
			ErrProtocolMismatch, v)
	}

	return frame.data, nil
}

// Unmarshal copies the received bytes into the frame.
func (envelopeCodec) Unmarshal(data []byte, v any) error {
	frame, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("%w: unexpected message %T",
			ErrProtocolMismatch, v)
	}

	frame.data = append([]byte(nil), data...)

	return nil
}

// Name identifies the codec in gRPC content subtype negotiation.
func (envelopeCodec) Name() string {
	return "edgerpc-envelope"
}

// envelopeStream is the surface shared by grpc.ClientStream and
// grpc.ServerStream that the transport needs.
type envelopeStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// streamTransport adapts one gRPC stream (client or server side) to the
// Transport interface. Send is asynchronous: replies surface through
// Receive, and a receiver task correlates them by call ID.
type streamTransport struct {
	// stream is the underlying bidirectional stream.
	stream envelopeStream

	// sendMu serializes writes: gRPC permits only one concurrent
	// SendMsg per stream.
	sendMu sync.Mutex

	// inbound queues decoded envelopes for Receive.
	inbound chan wire.Envelope

	// md describes this transport instance.
	md Metadata

	// closed flips once the stream or transport is torn down.
	closed sync.Once

	// quit is closed on teardown.
	quit chan struct{}

	// onClose runs once during teardown (e.g. closing the client
	// connection).
	onClose func()
}

// newStreamTransport wraps a stream and starts its receive pump.
func newStreamTransport(stream envelopeStream, md Metadata,
	onClose func()) *streamTransport {

	t := &streamTransport{
		stream:  stream,
		inbound: make(chan wire.Envelope, grpcQueueDepth),
		md:      md,
		quit:    make(chan struct{}),
		onClose: onClose,
	}

	go t.recvLoop()

	return t
}

// recvLoop pulls frames off the stream, decodes them, and queues them
// for Receive. Parse failures are never dropped silently: they are
// logged and terminate the connection.
func (t *streamTransport) recvLoop() {
	defer t.teardown()

	for {
		frame := new(rawFrame)
		if err := t.stream.RecvMsg(frame); err != nil {
			log.DebugS(context.Background(),
				"Envelope stream closed",
				"remote", t.md.RemoteAddr, "err", err)

			return
		}

		env, err := wire.UnmarshalEnvelope(frame.data)
		if err != nil {
			log.ErrorS(context.Background(),
				"Dropping connection on malformed envelope",
				err, "remote", t.md.RemoteAddr)

			return
		}

		select {
		case t.inbound <- env:
		case <-t.quit:
			return
		}
	}
}

// Send marshals the envelope onto the stream. The reply, if any,
// arrives asynchronously via Receive, so Send always returns None.
func (t *streamTransport) Send(ctx context.Context,
	env wire.Envelope) (fn.Option[wire.Envelope], error) {

	none := fn.None[wire.Envelope]()

	select {
	case <-t.quit:
		return none, ErrDisconnected
	case <-ctx.Done():
		return none, ctx.Err()
	default:
	}

	frame := &rawFrame{data: wire.MarshalEnvelope(env)}

	t.sendMu.Lock()
	err := t.stream.SendMsg(frame)
	t.sendMu.Unlock()

	if err != nil {
		return none, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	return none, nil
}

// Receive yields inbound envelopes until the stream ends.
func (t *streamTransport) Receive() iter.Seq[wire.Envelope] {
	return func(yield func(wire.Envelope) bool) {
		for {
			select {
			case env, ok := <-t.inbound:
				if !ok {
					return
				}
				if !yield(env) {
					return
				}

			case <-t.quit:
				// Drain anything already queued before
				// ending the sequence.
				for {
					select {
					case env, ok := <-t.inbound:
						if !ok || !yield(env) {
							return
						}
					default:
						return
					}
				}
			}
		}
	}
}

// teardown releases the stream exactly once.
func (t *streamTransport) teardown() {
	t.closed.Do(func() {
		close(t.quit)
		if t.onClose != nil {
			t.onClose()
		}
	})
}

// Close tears the transport down. Idempotent.
func (t *streamTransport) Close() error {
	t.teardown()
	return nil
}

// IsConnected reports whether the stream is still up.
func (t *streamTransport) IsConnected() bool {
	select {
	case <-t.quit:
		return false
	default:
		return true
	}
}

// Metadata describes this transport instance.
func (t *streamTransport) Metadata() Metadata {
	return t.md
}

// Compile-time interface check.
var _ Transport = (*streamTransport)(nil)

// GRPCConfig holds the client-side connection parameters for the framed
// RPC transport.
type GRPCConfig struct {
	// URL is the connection URL: grpc://host:port or
	// grpcs://host:port.
	URL string

	// TLS supplies certificate material when the grpcs scheme is
	// used. Requesting grpcs without TLS configuration fails
	// construction with ErrTLSRequired.
	TLS fn.Option[TLSConfig]

	// PingTime is the keepalive ping interval. Zero defaults to one
	// minute.
	PingTime time.Duration

	// PingTimeout is the keepalive ack deadline. Zero defaults to
	// twenty seconds.
	PingTimeout time.Duration
}

// Dial opens the framed RPC transport toward a server. Construction
// fails loudly on TLS misconfiguration; there is no silent downgrade to
// plaintext.
func Dial(ctx context.Context, cfg GRPCConfig) (Transport, error) {
	addr, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	var creds credentials.TransportCredentials
	switch {
	case addr.UseTLS:
		tlsCfg, err := cfg.TLS.UnwrapOrErr(ErrTLSRequired)
		if err != nil {
			return nil, err
		}

		creds, err = tlsCfg.ClientCredentials()
		if err != nil {
			return nil, err
		}

	default:
		log.WarnS(ctx, "Dialing plaintext transport", nil,
			"addr", addr.HostPort())

		creds = insecure.NewCredentials()
	}

	pingTime := cfg.PingTime
	if pingTime == 0 {
		pingTime = time.Minute
	}
	pingTimeout := cfg.PingTimeout
	if pingTimeout == 0 {
		pingTimeout = 20 * time.Second
	}

	conn, err := grpc.NewClient(
		addr.HostPort(),
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                pingTime,
			Timeout:             pingTimeout,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr.HostPort(), err)
	}

	stream, err := conn.NewStream(
		ctx, channelStreamDesc, channelMethod,
		grpc.ForceCodec(envelopeCodec{}),
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open envelope stream: %w", err)
	}

	md := Metadata{
		Kind:       "grpc",
		RemoteAddr: addr.HostPort(),
		Secure:     addr.UseTLS,
	}

	log.InfoS(ctx, "Framed transport connected",
		"addr", addr.HostPort(), "tls", addr.UseTLS)

	return newStreamTransport(stream, md, func() {
		_ = conn.Close()
	}), nil
}

// ServerConfig holds the listening parameters for the framed RPC
// server.
type ServerConfig struct {
	// ListenAddr is the host:port to listen on.
	ListenAddr string

	// TLS supplies the server certificate material. None means
	// plaintext, which is logged.
	TLS fn.Option[TLSConfig]

	// ServerPingTime is the keepalive ping interval toward clients.
	// Zero defaults to five minutes.
	ServerPingTime time.Duration

	// ServerPingTimeout is the keepalive ack deadline. Zero defaults
	// to one minute.
	ServerPingTimeout time.Duration

	// ClientPingMinWait is the minimum interval clients may ping at.
	// Zero defaults to five seconds.
	ClientPingMinWait time.Duration
}

// AcceptFunc receives one Transport per inbound envelope stream. The
// callback owns the transport and must consume Receive until it ends.
type AcceptFunc func(t Transport)

// Server listens for framed RPC connections and hands each accepted
// envelope stream to the accept callback as a Transport.
type Server struct {
	cfg    ServerConfig
	accept AcceptFunc

	grpcServer *grpc.Server
	listener   net.Listener

	mu      sync.Mutex
	started bool

	wg sync.WaitGroup
}

// NewServer constructs the framed RPC server. TLS failures surface
// here, at construction, never as a silent plaintext fallback.
func NewServer(cfg ServerConfig, accept AcceptFunc) (*Server, error) {
	serverPingTime := cfg.ServerPingTime
	if serverPingTime == 0 {
		serverPingTime = 5 * time.Minute
	}
	serverPingTimeout := cfg.ServerPingTimeout
	if serverPingTimeout == 0 {
		serverPingTimeout = time.Minute
	}
	clientPingMinWait := cfg.ClientPingMinWait
	if clientPingMinWait == 0 {
		clientPingMinWait = 5 * time.Second
	}

	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(envelopeCodec{}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    serverPingTime,
			Timeout: serverPingTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(
			keepalive.EnforcementPolicy{
				MinTime:             clientPingMinWait,
				PermitWithoutStream: true,
			},
		),
	}

	tlsCfg, err := cfg.TLS.UnwrapOrErr(ErrTLSRequired)
	if err == nil {
		creds, err := tlsCfg.ServerCredentials()
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		log.WarnS(context.Background(),
			"Serving plaintext transport", nil,
			"addr", cfg.ListenAddr)
	}

	s := &Server{
		cfg:        cfg,
		accept:     accept,
		grpcServer: grpc.NewServer(opts...),
	}

	s.grpcServer.RegisterService(&grpc.ServiceDesc{
		ServiceName: channelServiceName,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Open",
			Handler:       s.handleStream,
			ClientStreams: true,
			ServerStreams: true,
		}},
	}, s)

	return s, nil
}

// handleStream services one inbound envelope stream. The stream handler
// must not return while the connection is live, so it blocks until the
// per-connection transport winds down.
func (s *Server) handleStream(_ any, stream grpc.ServerStream) error {
	var remote string
	if p, ok := streamPeerAddr(stream); ok {
		remote = p
	}

	md := Metadata{
		Kind:       "grpc",
		LocalAddr:  s.cfg.ListenAddr,
		RemoteAddr: remote,
		Secure:     s.cfg.TLS.IsSome(),
	}

	t := newStreamTransport(stream, md, nil)

	log.InfoS(stream.Context(), "Accepted envelope stream",
		"remote", remote)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.accept(t)
	}()

	// Hold the handler open until the stream dies, then make sure the
	// transport consumer unblocks.
	<-t.quit

	return nil
}

// streamPeerAddr extracts the remote address from the stream context.
func streamPeerAddr(stream grpc.ServerStream) (string, bool) {
	p, ok := peer.FromContext(stream.Context())
	if !ok || p.Addr == nil {
		return "", false
	}

	return p.Addr.String(), true
}

// Start begins listening and serving in a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w",
			s.cfg.ListenAddr, err)
	}
	s.listener = listener
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.grpcServer.Serve(listener); err != nil {
			log.ErrorS(context.Background(),
				"Framed RPC server stopped", err)
		}
	}()

	log.InfoS(context.Background(), "Framed RPC server listening",
		"addr", s.cfg.ListenAddr, "tls", s.cfg.TLS.IsSome())

	return nil
}

// Stop gracefully stops the server and waits for connection handlers to
// wind down.
func (s *Server) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if !started {
		return
	}

	s.grpcServer.GracefulStop()
	s.wg.Wait()
}
