package invoke

import (
	"fmt"
	"reflect"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/edgerpc/internal/codec"
)

// EncoderState tracks the encoder's position in its lifecycle. The
// machine only moves forward: Recording -> Done -> Finalized.
type EncoderState uint8

const (
	// StateRecording accepts argument, substitution, and return type
	// recordings.
	StateRecording EncoderState = iota

	// StateDone accepts envelope construction only.
	StateDone

	// StateFinalized accepts nothing; the encoder has been drained.
	StateFinalized
)

// String returns a human readable state name.
func (s EncoderState) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateDone:
		return "done"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Encoder records one method call: its generic substitutions, its
// arguments in positional order, and its return type. Each argument is
// serialized eagerly at record time so the manifest reflects the static
// parameter type rather than the runtime type. Encoders are single-use
// and not safe for concurrent use.
type Encoder struct {
	// codecs serializes recorded arguments.
	codecs *codec.Registry

	// state is the current lifecycle state.
	state EncoderState

	// data accumulates the wire payload.
	data InvocationData

	// returnType is the declared return type, when one was recorded.
	returnType fn.Option[reflect.Type]

	// errorType is the declared throwable type, when one was recorded.
	errorType fn.Option[reflect.Type]
}

// NewEncoder creates an encoder in the Recording state, bound to the
// given serialization registry.
func NewEncoder(codecs *codec.Registry) *Encoder {
	return &Encoder{
		codecs: codecs,
		data: InvocationData{
			// Void until a return type is recorded.
			IsVoid: true,
		},
	}
}

// requireState fails unless the encoder is in the wanted state.
func (e *Encoder) requireState(want EncoderState, op string) error {
	if e.state != want {
		return fmt.Errorf("%w: %s in state %s", ErrEncoderState,
			op, e.state)
	}

	return nil
}

// RecordGenericSubstitution records a positional generic substitution
// for the target method.
func (e *Encoder) RecordGenericSubstitution(t reflect.Type) error {
	err := e.requireState(StateRecording, "record substitution")
	if err != nil {
		return err
	}

	e.data.GenericSubstitutions = append(
		e.data.GenericSubstitutions, codec.HintFor(t),
	)

	return nil
}

// RecordArgumentTyped serializes and records the next positional
// argument, using staticType as the declared parameter type for the
// manifest hint.
func (e *Encoder) RecordArgumentTyped(value any,
	staticType reflect.Type) error {

	err := e.requireState(StateRecording, "record argument")
	if err != nil {
		return err
	}

	data, manifest, err := e.codecs.SerializeTyped(value, staticType)
	if err != nil {
		return fmt.Errorf("argument %d: %w",
			len(e.data.Arguments), err)
	}

	e.data.Arguments = append(e.data.Arguments, Argument{
		Data:     data,
		Manifest: manifest,
	})

	return nil
}

// RecordArgument records the next positional argument with the static
// type captured from the type parameter. This is what hand-written
// client stubs call: the compiler pins T to the declared parameter
// type.
func RecordArgument[T any](e *Encoder, value T) error {
	return e.RecordArgumentTyped(
		value, reflect.TypeOf((*T)(nil)).Elem(),
	)
}

// RecordReturnType declares the call's return type, marking the
// invocation as value-returning.
func (e *Encoder) RecordReturnType(t reflect.Type) error {
	err := e.requireState(StateRecording, "record return type")
	if err != nil {
		return err
	}

	e.returnType = fn.Some(t)
	e.data.IsVoid = false

	return nil
}

// RecordErrorType declares the call's throwable error type.
func (e *Encoder) RecordErrorType(t reflect.Type) error {
	err := e.requireState(StateRecording, "record error type")
	if err != nil {
		return err
	}

	e.errorType = fn.Some(t)

	return nil
}

// DoneRecording transitions the encoder from Recording to Done. After
// this point no further recordings are accepted; the encoder is ready
// to be drained into an invocation envelope.
func (e *Encoder) DoneRecording() error {
	if err := e.requireState(StateRecording, "done recording"); err != nil {
		return err
	}

	e.state = StateDone

	return nil
}

// State returns the encoder's current lifecycle state.
func (e *Encoder) State() EncoderState {
	return e.state
}

// ReturnType returns the declared return type, if one was recorded.
func (e *Encoder) ReturnType() fn.Option[reflect.Type] {
	return e.returnType
}

// drain moves the encoder from Done to Finalized and hands out the
// accumulated invocation data. Only the processor calls this.
func (e *Encoder) drain() (InvocationData, error) {
	if err := e.requireState(StateDone, "drain"); err != nil {
		return InvocationData{}, err
	}

	e.state = StateFinalized

	return e.data, nil
}
