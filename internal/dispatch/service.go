// Package dispatch routes execute, prove and verify requests to the engine registered
// for a program and turns engine outcomes into the gateway's error categories.
package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/R3E-Network/zkgate/internal/errors"
	"github.com/R3E-Network/zkgate/internal/events"
	"github.com/R3E-Network/zkgate/internal/logging"
	"github.com/R3E-Network/zkgate/internal/metrics"
	"github.com/R3E-Network/zkgate/internal/registry"
	"github.com/R3E-Network/zkgate/internal/zkvm"
)

// DefaultRejectionReason replaces an empty reason from an engine that rejected a proof.
const DefaultRejectionReason = "proof rejected"

// Programs resolves program ids. *registry.Registry satisfies it.
type Programs interface {
	Lookup(id registry.ProgramID) (*registry.Entry, bool)
}

// Config tunes dispatch. Zero timeouts disable the per-operation deadline.
type Config struct {
	ExecuteTimeout time.Duration `yaml:"execute_timeout"`
	ProveTimeout   time.Duration `yaml:"prove_timeout"`
	VerifyTimeout  time.Duration `yaml:"verify_timeout"`
	Prover         LimiterConfig `yaml:"prover"`
}

// DefaultConfig mirrors the client-side timeouts: five minutes to execute, an hour to
// prove.
func DefaultConfig() Config {
	return Config{
		ExecuteTimeout: 300 * time.Second,
		ProveTimeout:   3600 * time.Second,
		VerifyTimeout:  300 * time.Second,
		Prover: LimiterConfig{
			MaxConcurrent:  4,
			QueueSize:      64,
			AcquireTimeout: 10 * time.Minute,
		},
	}
}

type ExecuteResult struct {
	ProgramID    registry.ProgramID `json:"program_id"`
	TotalCycles  uint64             `json:"total_cycles"`
	RegionCycles zkvm.RegionCycles  `json:"region_cycles"`
	Elapsed      zkvm.Elapsed       `json:"elapsed"`
}

type ProveResult struct {
	ProgramID registry.ProgramID `json:"program_id"`
	Proof     []byte             `json:"proof"`
	Elapsed   zkvm.Elapsed       `json:"elapsed"`
}

type VerifyResult struct {
	ProgramID     registry.ProgramID `json:"program_id"`
	Verified      bool               `json:"verified"`
	FailureReason string             `json:"failure_reason"`
}

// Service is stateless apart from the prove limiter and safe for concurrent use.
type Service struct {
	programs Programs
	config   Config
	prover   *Limiter
	logger   *logging.Logger
	events   events.Sink
}

// Option customizes a Service.
type Option func(*Service)

func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithEvents(sink events.Sink) Option {
	return func(s *Service) { s.events = sink }
}

// NewService creates a dispatcher over programs.
func NewService(programs Programs, config Config, opts ...Option) *Service {
	s := &Service{
		programs: programs,
		config:   config,
		prover:   NewLimiter(config.Prover),
		logger:   logging.NewDiscard(),
		events:   events.Discard{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProverStats exposes the prove limiter state.
func (s *Service) ProverStats() LimiterStats {
	return s.prover.Stats()
}

// Close rejects prove requests still waiting for a slot.
func (s *Service) Close() {
	s.prover.Close()
}

// Execute runs the program without proving.
func (s *Service) Execute(ctx context.Context, id registry.ProgramID, input zkvm.Input) (*ExecuteResult, error) {
	var report *zkvm.ExecutionReport
	entry, elapsed, err := s.dispatch(ctx, id, zkvm.OpExecute, func(ctx context.Context, engine zkvm.Engine) error {
		var err error
		report, err = engine.Execute(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	if report == nil {
		report = &zkvm.ExecutionReport{}
	}
	metrics.RecordCycles(entry.Vendor.String(), report.TotalCycles)

	regions := report.Regions
	if regions == nil {
		regions = zkvm.RegionCycles{}
	}
	return &ExecuteResult{
		ProgramID:    entry.ID,
		TotalCycles:  report.TotalCycles,
		RegionCycles: regions,
		Elapsed:      zkvm.Elapsed(elapsed),
	}, nil
}

// Prove runs the program and returns the proof. Admission is bounded by the prove
// limiter; a full queue yields a Busy error.
func (s *Service) Prove(ctx context.Context, id registry.ProgramID, input zkvm.Input) (*ProveResult, error) {
	var (
		proof  []byte
		report *zkvm.ProvingReport
	)
	entry, elapsed, err := s.dispatch(ctx, id, zkvm.OpProve, func(ctx context.Context, engine zkvm.Engine) error {
		var err error
		proof, report, err = engine.Prove(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	if report != nil && report.ProvingTime > 0 {
		elapsed = report.ProvingTime
	}
	return &ProveResult{
		ProgramID: entry.ID,
		Proof:     proof,
		Elapsed:   zkvm.Elapsed(elapsed),
	}, nil
}

// Verify checks proof against the program. A proof that does not verify is a
// successful call with Verified=false.
func (s *Service) Verify(ctx context.Context, id registry.ProgramID, proof []byte) (*VerifyResult, error) {
	var verdict zkvm.Verdict
	entry, _, err := s.dispatch(ctx, id, zkvm.OpVerify, func(ctx context.Context, engine zkvm.Engine) error {
		var err error
		verdict, err = engine.Verify(ctx, proof)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{ProgramID: entry.ID, Verified: verdict.Verified}
	if !verdict.Verified {
		result.FailureReason = verdict.Reason
		if result.FailureReason == "" {
			result.FailureReason = DefaultRejectionReason
		}
	}
	return result, nil
}

type engineCall func(ctx context.Context, engine zkvm.Engine) error

func (s *Service) dispatch(ctx context.Context, id registry.ProgramID, op zkvm.Operation, call engineCall) (*registry.Entry, time.Duration, error) {
	entry, ok := s.programs.Lookup(id)
	if !ok {
		metrics.RecordDispatch("", op.String(), "not_found", 0)
		return nil, 0, errors.NotFound("program", id.String())
	}
	vendor := entry.Vendor.String()

	if !zkvm.Supports(entry.Engine, op) {
		metrics.RecordDispatch(vendor, op.String(), "unimplemented", 0)
		return nil, 0, errors.Unimplemented(op.String(), vendor)
	}

	if op == zkvm.OpProve {
		if err := s.acquireProver(ctx); err != nil {
			metrics.RecordDispatch(vendor, op.String(), outcome(err), 0)
			return nil, 0, err
		}
		defer s.releaseProver()
	}

	if timeout := s.timeout(op); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.invoke(ctx, entry.Engine, op, call)
	elapsed := time.Since(start)

	if err != nil {
		err = s.classify(ctx, entry, op, err)
		metrics.RecordDispatch(vendor, op.String(), outcome(err), elapsed)
		s.reportFailure(ctx, entry, op, elapsed, err)
		return nil, elapsed, err
	}

	metrics.RecordDispatch(vendor, op.String(), "ok", elapsed)
	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"program_id":  entry.ID,
		"vendor":      vendor,
		"operation":   op,
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Operation completed")
	return entry, elapsed, nil
}

type panicError struct {
	value interface{}
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("engine panicked: %v", p.value)
}

// invoke shields the process and the registry from engine panics.
func (s *Service) invoke(ctx context.Context, engine zkvm.Engine, op zkvm.Operation, call engineCall) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return call(ctx, engine)
}

func (s *Service) classify(ctx context.Context, entry *registry.Entry, op zkvm.Operation, err error) error {
	if se := errors.GetServiceError(err); se != nil {
		return se
	}

	var panicked *panicError
	switch {
	case stderrors.As(err, &panicked):
		s.logger.WithContext(ctx).WithField("program_id", entry.ID).
			WithField("stack", string(panicked.stack)).
			Error("Engine panic recovered")
		return errors.EngineFailure(err.Error(), err)
	case stderrors.Is(err, zkvm.ErrMalformedInput):
		return errors.MalformedInput(err.Error(), err)
	case stderrors.Is(err, zkvm.ErrUnsupported):
		return errors.Unimplemented(op.String(), entry.Vendor.String())
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.Timeout(op.String(), err)
	case stderrors.Is(err, context.Canceled):
		return errors.Timeout(op.String(), err).WithDetails("reason", "request canceled")
	default:
		return errors.EngineFailure(err.Error(), err)
	}
}

func (s *Service) acquireProver(ctx context.Context) error {
	err := s.prover.Acquire(ctx)
	s.publishProverLoad()
	if err == nil {
		return nil
	}
	switch {
	case stderrors.Is(err, ErrQueueFull), stderrors.Is(err, ErrAcquireTimeout), stderrors.Is(err, ErrLimiterClosed):
		metrics.IncProverRejected()
		return errors.Busy(err.Error())
	default:
		return errors.Timeout(zkvm.OpProve.String(), err)
	}
}

func (s *Service) releaseProver() {
	s.prover.Release()
	s.publishProverLoad()
}

func (s *Service) publishProverLoad() {
	stats := s.prover.Stats()
	metrics.SetProverLoad(stats.Active, stats.Waiting)
}

func (s *Service) timeout(op zkvm.Operation) time.Duration {
	switch op {
	case zkvm.OpExecute:
		return s.config.ExecuteTimeout
	case zkvm.OpProve:
		return s.config.ProveTimeout
	case zkvm.OpVerify:
		return s.config.VerifyTimeout
	default:
		return 0
	}
}

func (s *Service) reportFailure(ctx context.Context, entry *registry.Entry, op zkvm.Operation, elapsed time.Duration, err error) {
	s.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
		"program_id": entry.ID,
		"vendor":     entry.Vendor,
		"operation":  op,
	}).Warn("Operation failed")

	severity := events.SeverityError
	if errors.HasCode(err, errors.CodeMalformedInput) {
		severity = events.SeverityWarning
	}
	s.events.LogWithContext(ctx, events.Event{
		Type:      events.EventOperationFailed,
		Severity:  severity,
		ProgramID: entry.ID.String(),
		Vendor:    entry.Vendor.String(),
		Operation: op.String(),
		Error:     err.Error(),
		Duration:  elapsed,
	})
}

func outcome(err error) string {
	se := errors.GetServiceError(err)
	if se == nil {
		return "error"
	}
	switch se.Code {
	case errors.CodeMalformedInput:
		return "malformed_input"
	case errors.CodeUnimplemented:
		return "unimplemented"
	case errors.CodeTimeout:
		return "timeout"
	case errors.CodeBusy:
		return "busy"
	default:
		return "engine_failure"
	}
}
