package zkvm

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrMalformedInput is wrapped by engines when the input does not decode into the
	// shape the guest program expects.
	ErrMalformedInput = errors.New("malformed program input")

	// ErrUnsupported is wrapped by engines that refuse an operation at call time.
	ErrUnsupported = errors.New("operation not supported")
)

// Input is the opaque program input. It is forwarded to the engine untouched.
type Input json.RawMessage

// Bytes returns the raw input.
func (in Input) Bytes() []byte {
	return []byte(in)
}

// MarshalJSON and UnmarshalJSON keep Input usable as an arbitrary JSON value inside
// request bodies.
func (in Input) MarshalJSON() ([]byte, error) {
	if len(in) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(in).MarshalJSON()
}

func (in *Input) UnmarshalJSON(data []byte) error {
	raw := json.RawMessage{}
	if err := raw.UnmarshalJSON(data); err != nil {
		return err
	}
	*in = Input(raw)
	return nil
}

// Empty reports whether no input was supplied.
func (in Input) Empty() bool {
	return len(in) == 0 || string(in) == "null"
}

// Engine is a loaded program bound to one backend. Implementations must be safe for
// concurrent use: the registry hands the same Engine to every request for a program.
type Engine interface {
	// Execute runs the program without producing a proof.
	Execute(ctx context.Context, input Input) (*ExecutionReport, error)

	// Prove runs the program and produces a proof.
	Prove(ctx context.Context, input Input) ([]byte, *ProvingReport, error)

	// Verify checks a proof. A proof that does not verify yields a rejected Verdict
	// and a nil error; the error is reserved for verifier faults.
	Verify(ctx context.Context, proof []byte) (Verdict, error)
}

// CapabilityReporter is implemented by engines whose vendor only covers part of the
// Engine surface.
type CapabilityReporter interface {
	Supports(op Operation) bool
}

// Supports reports whether engine can serve op. Engines that do not implement
// CapabilityReporter support every operation.
func Supports(engine Engine, op Operation) bool {
	if reporter, ok := engine.(CapabilityReporter); ok {
		return reporter.Supports(op)
	}
	return true
}

// OperationSet is a small set of operations, usable as a CapabilityReporter.
type OperationSet map[Operation]struct{}

// NewOperationSet builds a set from ops.
func NewOperationSet(ops ...Operation) OperationSet {
	set := make(OperationSet, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return set
}

// Supports implements CapabilityReporter.
func (s OperationSet) Supports(op Operation) bool {
	_, ok := s[op]
	return ok
}

// List returns the operations in request-flow order.
func (s OperationSet) List() []Operation {
	out := make([]Operation, 0, len(s))
	for _, op := range Operations() {
		if s.Supports(op) {
			out = append(out, op)
		}
	}
	return out
}
