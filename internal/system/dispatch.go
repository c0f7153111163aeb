package system

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/invoke"
	"github.com/roasbeef/edgerpc/internal/transport"
	"github.com/roasbeef/edgerpc/internal/wire"
)

// dispatch services one inbound invocation envelope: look up the
// recipient, build the decoder and response writer, and execute the
// target. Unknown recipients answer with an ActorNotFound error
// envelope without dispatching anything.
func (s *System) dispatch(ctx context.Context, env wire.Envelope,
	t transport.Transport) {

	callID := env.Metadata.CallID

	actor, ok := s.registry.Find(env.Recipient)
	if !ok {
		log.WarnS(ctx, "Invocation for unknown actor", nil,
			"actor_id", env.Recipient, "call_id", callID,
			"target", env.Metadata.Target)

		s.replyError(ctx, t, callID, env, fmt.Errorf(
			"%w: %s", ErrActorNotFound, env.Recipient,
		))

		return
	}

	dec, err := s.processor.CreateInvocationDecoder(env)
	if err != nil {
		log.ErrorS(ctx, "Failed to decode invocation", err,
			"call_id", callID)

		s.replyError(ctx, t, callID, env, err)

		return
	}

	writer := s.processor.CreateResponseWriter(env, t)
	handler := &responseHandler{writer: writer}

	log.TraceS(ctx, "Dispatching invocation",
		"actor_id", env.Recipient, "call_id", callID,
		"target", env.Metadata.Target,
		"num_args", dec.NumArguments())

	s.ExecuteDistributedTarget(ctx, actor, env.Metadata.Target, dec,
		handler)
}

// ExecuteDistributedTarget invokes the named method of a registered
// actor with the decoded invocation, reporting the outcome through the
// handler. Every failure mode of the method — a returned dispatch
// error, a thrown domain error reported via OnThrow, or a panic — ends
// as exactly one reply.
func (s *System) ExecuteDistributedTarget(ctx context.Context,
	actor Dispatcher, target string, dec *invoke.Decoder,
	handler ResultHandler) {

	defer func() {
		if r := recover(); r != nil {
			log.CriticalS(ctx, "Recovered panic in dispatch",
				nil, "target", target, "panic", r)

			err := handler.OnThrow(ctx, fmt.Errorf(
				"panic in %s: %v", target, r,
			))
			if err != nil &&
				!errors.Is(err, invoke.ErrResponseWritten) {

				log.ErrorS(ctx,
					"Failed to report dispatch panic",
					err)
			}
		}
	}()

	err := actor.DispatchTarget(ctx, target, dec, handler)
	if err == nil {
		return
	}

	// The dispatcher failed before writing a result (unknown target,
	// arity mismatch, argument decode failure). Convert the failure
	// into an error reply; if a result did slip out first, the
	// writer's once-guard turns this into a no-op.
	if throwErr := handler.OnThrow(ctx, err); throwErr != nil &&
		!errors.Is(throwErr, invoke.ErrResponseWritten) {

		log.ErrorS(ctx, "Failed to report dispatch error",
			throwErr, "target", target)
	}
}

// replyError answers an invocation with a pre-dispatch error envelope.
// The write failure, if any, is logged: the transport must not drop
// envelopes silently.
func (s *System) replyError(ctx context.Context, t transport.Transport,
	callID string, request wire.Envelope, cause error) {

	errEnv, err := s.processor.CreateErrorEnvelope(
		request.Sender.UnwrapOr(request.Recipient), callID, cause,
		fn.Some(request.Recipient),
	)
	if err != nil {
		log.ErrorS(ctx, "Failed to build error envelope", err,
			"call_id", callID)

		return
	}

	if _, err := t.Send(ctx, errEnv); err != nil {
		log.ErrorS(ctx, "Failed to send error envelope", err,
			"call_id", callID)
	}
}
