// Package mock provides a lightweight in-process engine for tests and local runs.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/R3E-Network/zkgate/internal/zkvm"
)

// ProofMarker is the only proof the mock engine accepts.
var ProofMarker = []byte("mock_proof")

const DefaultCycles = 100

// Engine is a configurable fake engine. The zero value is not usable; call New.
type Engine struct {
	cycles      uint64
	regions     zkvm.RegionCycles
	delay       time.Duration
	provingTime time.Duration
	ops         zkvm.OperationSet

	executeErr error
	proveErr   error
	verifyErr  error
	panicOn    zkvm.Operation

	calls atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithCycles sets the reported total cycle count.
func WithCycles(cycles uint64) Option {
	return func(e *Engine) { e.cycles = cycles }
}

// WithRegions sets the reported region breakdown.
func WithRegions(regions zkvm.RegionCycles) Option {
	return func(e *Engine) { e.regions = append(zkvm.RegionCycles(nil), regions...) }
}

// WithDelay makes every call wait for d or until the context is done.
func WithDelay(d time.Duration) Option {
	return func(e *Engine) { e.delay = d }
}

// WithOperations restricts the operations the engine claims to support.
func WithOperations(ops ...zkvm.Operation) Option {
	return func(e *Engine) { e.ops = zkvm.NewOperationSet(ops...) }
}

// WithExecuteError makes Execute fail with err.
func WithExecuteError(err error) Option {
	return func(e *Engine) { e.executeErr = err }
}

// WithProveError makes Prove fail with err.
func WithProveError(err error) Option {
	return func(e *Engine) { e.proveErr = err }
}

// WithVerifyError makes Verify fail with err.
func WithVerifyError(err error) Option {
	return func(e *Engine) { e.verifyErr = err }
}

// WithPanic makes the given operation panic.
func WithPanic(op zkvm.Operation) Option {
	return func(e *Engine) { e.panicOn = op }
}

// New returns an engine reporting DefaultCycles and proving the fixed marker.
func New(opts ...Option) *Engine {
	e := &Engine{
		cycles:      DefaultCycles,
		regions:     zkvm.RegionCycles{},
		delay:       time.Millisecond,
		provingTime: time.Millisecond,
		ops:         zkvm.NewOperationSet(zkvm.Operations()...),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supports implements zkvm.CapabilityReporter.
func (e *Engine) Supports(op zkvm.Operation) bool {
	return e.ops.Supports(op)
}

// Calls returns how many operations reached the engine.
func (e *Engine) Calls() int64 {
	return e.calls.Load()
}

func (e *Engine) Execute(ctx context.Context, _ zkvm.Input) (*zkvm.ExecutionReport, error) {
	if err := e.enter(ctx, zkvm.OpExecute); err != nil {
		return nil, err
	}
	if e.executeErr != nil {
		return nil, e.executeErr
	}
	return &zkvm.ExecutionReport{
		TotalCycles: e.cycles,
		Regions:     append(zkvm.RegionCycles{}, e.regions...),
	}, nil
}

func (e *Engine) Prove(ctx context.Context, _ zkvm.Input) ([]byte, *zkvm.ProvingReport, error) {
	if err := e.enter(ctx, zkvm.OpProve); err != nil {
		return nil, nil, err
	}
	if e.proveErr != nil {
		return nil, nil, e.proveErr
	}
	proof := append([]byte(nil), ProofMarker...)
	return proof, &zkvm.ProvingReport{ProvingTime: e.provingTime}, nil
}

func (e *Engine) Verify(ctx context.Context, proof []byte) (zkvm.Verdict, error) {
	if err := e.enter(ctx, zkvm.OpVerify); err != nil {
		return zkvm.Verdict{}, err
	}
	if e.verifyErr != nil {
		return zkvm.Verdict{}, e.verifyErr
	}
	if bytes.Equal(proof, ProofMarker) {
		return zkvm.Accepted(), nil
	}
	return zkvm.Rejected("invalid proof"), nil
}

func (e *Engine) enter(ctx context.Context, op zkvm.Operation) error {
	e.calls.Add(1)
	if !e.ops.Supports(op) {
		return fmt.Errorf("mock: %s: %w", op, zkvm.ErrUnsupported)
	}
	if e.panicOn == op {
		panic(fmt.Sprintf("mock: %s exploded", op))
	}
	if e.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(e.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ zkvm.Engine = (*Engine)(nil)
var _ zkvm.CapabilityReporter = (*Engine)(nil)
