// Package hostproc drives a vendor host binary as a zkVM engine.
//
// Each call runs `<binary> [args...] <operation> --elf <path>` with the input (or proof)
// on stdin and expects one JSON document on stdout. Exit status 65 (EX_DATAERR) means the
// guest rejected its input.
package hostproc

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/zkgate/internal/zkvm"
)

// ExitDataErr is the exit status a host uses for undecodable input.
const ExitDataErr = 65

const (
	defaultStderrTail = 2048
	defaultWaitDelay  = 5 * time.Second
)

// Config describes how to run a host binary.
type Config struct {
	Binary string
	Args   []string
	Env    []string

	// Operations lists what the host implements. Empty means all three.
	Operations []zkvm.Operation

	// StderrTail bounds how much stderr is quoted in errors.
	StderrTail int
}

// Engine runs one program through a host binary. It is immutable and safe for
// concurrent use; every call gets its own process.
type Engine struct {
	binary  string
	args    []string
	env     []string
	elfPath string
	ops     zkvm.OperationSet
	tail    int
}

// New binds cfg to the program at elfPath.
func New(cfg Config, elfPath string) (*Engine, error) {
	if strings.TrimSpace(cfg.Binary) == "" {
		return nil, errors.New("hostproc: binary is required")
	}
	if _, err := os.Stat(elfPath); err != nil {
		return nil, fmt.Errorf("hostproc: program: %w", err)
	}

	ops := cfg.Operations
	if len(ops) == 0 {
		ops = zkvm.Operations()
	}
	tail := cfg.StderrTail
	if tail <= 0 {
		tail = defaultStderrTail
	}

	var env []string
	if len(cfg.Env) > 0 {
		env = append(os.Environ(), cfg.Env...)
	}

	return &Engine{
		binary:  cfg.Binary,
		args:    append([]string(nil), cfg.Args...),
		env:     env,
		elfPath: elfPath,
		ops:     zkvm.NewOperationSet(ops...),
		tail:    tail,
	}, nil
}

// Supports implements zkvm.CapabilityReporter.
func (e *Engine) Supports(op zkvm.Operation) bool {
	return e.ops.Supports(op)
}

func (e *Engine) Execute(ctx context.Context, input zkvm.Input) (*zkvm.ExecutionReport, error) {
	out, err := e.run(ctx, zkvm.OpExecute, input.Bytes())
	if err != nil {
		return nil, err
	}

	total := out.Get("total_cycles")
	if !isUint(total) {
		return nil, fmt.Errorf("hostproc: execute: missing or invalid total_cycles")
	}
	report := &zkvm.ExecutionReport{TotalCycles: total.Uint(), Regions: zkvm.RegionCycles{}}
	if regions := out.Get("region_cycles"); regions.Exists() {
		if err := report.Regions.UnmarshalJSON([]byte(regions.Raw)); err != nil {
			return nil, fmt.Errorf("hostproc: execute: %w", err)
		}
		if report.Regions == nil {
			report.Regions = zkvm.RegionCycles{}
		}
	}
	return report, nil
}

func (e *Engine) Prove(ctx context.Context, input zkvm.Input) ([]byte, *zkvm.ProvingReport, error) {
	out, err := e.run(ctx, zkvm.OpProve, input.Bytes())
	if err != nil {
		return nil, nil, err
	}

	encoded := out.Get("proof")
	if encoded.Type != gjson.String || encoded.Str == "" {
		return nil, nil, fmt.Errorf("hostproc: prove: missing proof")
	}
	proof, err := base64.StdEncoding.DecodeString(encoded.Str)
	if err != nil {
		return nil, nil, fmt.Errorf("hostproc: prove: proof is not base64: %w", err)
	}

	report := &zkvm.ProvingReport{}
	if ms := out.Get("proving_time_ms"); isUint(ms) {
		report.ProvingTime = time.Duration(ms.Uint()) * time.Millisecond
	}
	return proof, report, nil
}

func (e *Engine) Verify(ctx context.Context, proof []byte) (zkvm.Verdict, error) {
	if len(proof) == 0 {
		return zkvm.Rejected("empty proof"), nil
	}
	out, err := e.run(ctx, zkvm.OpVerify, proof)
	if err != nil {
		// A host that cannot even decode the proof has rejected it.
		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.Code == ExitDataErr {
			return zkvm.Rejected(exitErr.Detail), nil
		}
		return zkvm.Verdict{}, err
	}

	verified := out.Get("verified")
	if !verified.IsBool() {
		return zkvm.Verdict{}, fmt.Errorf("hostproc: verify: missing verified flag")
	}
	if verified.Bool() {
		return zkvm.Accepted(), nil
	}
	return zkvm.Rejected(out.Get("reason").String()), nil
}

func (e *Engine) run(ctx context.Context, op zkvm.Operation, stdin []byte) (gjson.Result, error) {
	if !e.ops.Supports(op) {
		return gjson.Result{}, fmt.Errorf("hostproc: %s: %w", op, zkvm.ErrUnsupported)
	}

	args := make([]string, 0, len(e.args)+3)
	args = append(args, e.args...)
	args = append(args, op.String(), "--elf", e.elfPath)

	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Env = e.env
	cmd.WaitDelay = defaultWaitDelay
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return gjson.Result{}, fmt.Errorf("hostproc: %s: %w", op, ctxErr)
	}
	if runErr != nil {
		code := exitCodeForError(runErr)
		detail := e.stderrTail(stderr.Bytes())
		if detail == "" {
			detail = runErr.Error()
		}
		return gjson.Result{}, &ExitError{Operation: op, Code: code, Detail: detail}
	}

	if !gjson.ValidBytes(stdout.Bytes()) {
		return gjson.Result{}, fmt.Errorf("hostproc: %s: host wrote invalid JSON: %s", op, e.stderrTail(stdout.Bytes()))
	}
	out := gjson.ParseBytes(stdout.Bytes())
	if !out.IsObject() {
		return gjson.Result{}, fmt.Errorf("hostproc: %s: host output is not an object", op)
	}
	return out, nil
}

// ExitError reports a host that exited unsuccessfully. Exit status 65 unwraps to
// zkvm.ErrMalformedInput.
type ExitError struct {
	Operation zkvm.Operation
	Code      int
	Detail    string
}

func (e *ExitError) Error() string {
	if e.Code == ExitDataErr {
		return fmt.Sprintf("%s: %s", zkvm.ErrMalformedInput, e.Detail)
	}
	return fmt.Sprintf("hostproc: %s exited with code %d: %s", e.Operation, e.Code, e.Detail)
}

func (e *ExitError) Unwrap() error {
	if e.Code == ExitDataErr {
		return zkvm.ErrMalformedInput
	}
	return nil
}

func (e *Engine) stderrTail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > e.tail {
		b = b[len(b)-e.tail:]
	}
	return string(b)
}

func isUint(r gjson.Result) bool {
	return r.Type == gjson.Number && !strings.ContainsAny(r.Raw, ".eE-")
}

func exitCodeForError(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return -1
}

var _ zkvm.Engine = (*Engine)(nil)
