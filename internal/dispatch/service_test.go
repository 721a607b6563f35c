package dispatch

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/zkgate/internal/backends/mock"
	"github.com/R3E-Network/zkgate/internal/errors"
	"github.com/R3E-Network/zkgate/internal/events"
	"github.com/R3E-Network/zkgate/internal/registry"
	"github.com/R3E-Network/zkgate/internal/zkvm"
)

func newService(t *testing.T, cfg Config, programs map[registry.ProgramID]zkvm.Engine) (*Service, *registry.Registry, *events.RingBuffer) {
	t.Helper()
	reg := registry.New()
	for id, engine := range programs {
		_, err := reg.Register(id, zkvm.VendorSP1, engine, registry.Metadata{})
		require.NoError(t, err)
	}
	log := events.NewRingBuffer(100)
	return NewService(reg, cfg, WithEvents(log)), reg, log
}

func TestExecuteMock(t *testing.T) {
	svc, _, _ := newService(t, DefaultConfig(), map[registry.ProgramID]zkvm.Engine{"p1": mock.New()})

	result, err := svc.Execute(context.Background(), "p1", zkvm.Input(`{}`))
	require.NoError(t, err)
	assert.Equal(t, registry.ProgramID("p1"), result.ProgramID)
	assert.Equal(t, uint64(100), result.TotalCycles)
	assert.Empty(t, result.RegionCycles)
	assert.Greater(t, result.Elapsed.Duration(), time.Duration(0))

	out, err := json.Marshal(result)
	require.NoError(t, err)
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.JSONEq(t, `{}`, string(decoded["region_cycles"]))
}

func TestProveThenVerify(t *testing.T) {
	svc, _, _ := newService(t, DefaultConfig(), map[registry.ProgramID]zkvm.Engine{"p1": mock.New()})
	ctx := context.Background()

	proved, err := svc.Prove(ctx, "p1", zkvm.Input(`{}`))
	require.NoError(t, err)
	assert.Equal(t, []byte("mock_proof"), proved.Proof)
	assert.Equal(t, time.Millisecond, proved.Elapsed.Duration())

	verified, err := svc.Verify(ctx, "p1", proved.Proof)
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Empty(t, verified.FailureReason)

	rejected, err := svc.Verify(ctx, "p1", []byte("invalid_proof"))
	require.NoError(t, err)
	assert.False(t, rejected.Verified)
	assert.NotEmpty(t, rejected.FailureReason)
}

func TestTamperedProofDoesNotVerify(t *testing.T) {
	svc, _, _ := newService(t, DefaultConfig(), map[registry.ProgramID]zkvm.Engine{"p1": mock.New(mock.WithDelay(0))})
	ctx := context.Background()

	proved, err := svc.Prove(ctx, "p1", nil)
	require.NoError(t, err)
	proof := append([]byte(nil), proved.Proof...)
	proof[len(proof)-1] ^= 0x80

	result, err := svc.Verify(ctx, "p1", proof)
	require.NoError(t, err)
	assert.False(t, result.Verified)
}

func TestUnknownProgram(t *testing.T) {
	svc, reg, _ := newService(t, DefaultConfig(), map[registry.ProgramID]zkvm.Engine{"p1": mock.New()})
	ctx := context.Background()

	_, err := svc.Execute(ctx, "missing", nil)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	_, err = svc.Prove(ctx, "missing", nil)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	_, err = svc.Verify(ctx, "missing", []byte("x"))
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))

	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Lookup("missing")
	assert.False(t, ok)
}

func TestUnimplementedOperation(t *testing.T) {
	engine := mock.New(mock.WithOperations(zkvm.OpExecute))
	reg := registry.New()
	_, err := reg.Register("r1", zkvm.VendorRisc0, engine, registry.Metadata{})
	require.NoError(t, err)
	svc := NewService(reg, DefaultConfig())

	_, err = svc.Prove(context.Background(), "r1", nil)
	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, errors.CodeUnimplemented, se.Code)
	assert.Contains(t, se.Message, "prove")
	assert.Contains(t, se.Message, "risc0")
	assert.Zero(t, engine.Calls(), "engine must not be invoked for unsupported operations")

	_, err = svc.Execute(context.Background(), "r1", nil)
	assert.NoError(t, err)
}

func TestEngineErrorsAreClassified(t *testing.T) {
	cases := []struct {
		name   string
		engine zkvm.Engine
		code   errors.ErrorCode
	}{
		{"malformed", mock.New(mock.WithExecuteError(fmt.Errorf("decode: %w", zkvm.ErrMalformedInput))), errors.CodeMalformedInput},
		{"unsupported at call time", mock.New(mock.WithExecuteError(zkvm.ErrUnsupported)), errors.CodeUnimplemented},
		{"engine failure", mock.New(mock.WithExecuteError(stderrors.New("guest trapped"))), errors.CodeEngineFailure},
		{"panic", mock.New(mock.WithPanic(zkvm.OpExecute)), errors.CodeEngineFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, reg, log := newService(t, DefaultConfig(), map[registry.ProgramID]zkvm.Engine{"p1": tc.engine})

			_, err := svc.Execute(context.Background(), "p1", nil)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tc.code), "got %v", err)

			entry, ok := reg.Lookup("p1")
			require.True(t, ok)
			assert.Same(t, tc.engine, entry.Engine)

			failures := log.RecentByType(events.EventOperationFailed, 10)
			require.Len(t, failures, 1)
			assert.Equal(t, "p1", failures[0].ProgramID)
			assert.Equal(t, "execute", failures[0].Operation)
		})
	}
}

func TestEngineFailureCarriesEngineMessage(t *testing.T) {
	svc, _, _ := newService(t, DefaultConfig(), map[registry.ProgramID]zkvm.Engine{
		"p1": mock.New(mock.WithProveError(stderrors.New("out of GPU memory"))),
	})
	_, err := svc.Prove(context.Background(), "p1", nil)
	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Contains(t, se.Message, "out of GPU memory")
}

func TestPanicKeepsServing(t *testing.T) {
	svc, _, _ := newService(t, DefaultConfig(), map[registry.ProgramID]zkvm.Engine{
		"bad":  mock.New(mock.WithPanic(zkvm.OpVerify)),
		"good": mock.New(),
	})
	_, err := svc.Verify(context.Background(), "bad", []byte("x"))
	assert.True(t, errors.HasCode(err, errors.CodeEngineFailure))

	result, err := svc.Verify(context.Background(), "good", mock.ProofMarker)
	require.NoError(t, err)
	assert.True(t, result.Verified)
}

func TestOperationTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExecuteTimeout = 20 * time.Millisecond
	svc, _, _ := newService(t, cfg, map[registry.ProgramID]zkvm.Engine{"slow": mock.New(mock.WithDelay(time.Hour))})

	start := time.Now()
	_, err := svc.Execute(context.Background(), "slow", nil)
	assert.True(t, errors.HasCode(err, errors.CodeTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

type rejectingEngine struct{ zkvm.Engine }

func (rejectingEngine) Verify(context.Context, []byte) (zkvm.Verdict, error) {
	return zkvm.Rejected(""), nil
}

func TestEmptyRejectionReasonIsFilled(t *testing.T) {
	svc, _, _ := newService(t, DefaultConfig(), map[registry.ProgramID]zkvm.Engine{"p1": rejectingEngine{mock.New()}})
	result, err := svc.Verify(context.Background(), "p1", []byte("x"))
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, DefaultRejectionReason, result.FailureReason)
}

func TestProverQueueFullIsBusy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Prover = LimiterConfig{MaxConcurrent: 1, QueueSize: 1}
	svc, _, _ := newService(t, cfg, map[registry.ProgramID]zkvm.Engine{"slow": mock.New(mock.WithDelay(200 * time.Millisecond))})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Prove(ctx, "slow", nil)
		}()
	}

	deadline := time.Now().Add(time.Second)
	for svc.ProverStats().Waiting != 1 {
		if time.Now().After(deadline) {
			t.Fatal("second prove never queued")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := svc.Prove(ctx, "slow", nil)
	assert.True(t, errors.HasCode(err, errors.CodeBusy), "got %v", err)

	cancel()
	wg.Wait()
}

func TestConcurrentDispatchAndRegistration(t *testing.T) {
	svc, reg, _ := newService(t, DefaultConfig(), map[registry.ProgramID]zkvm.Engine{"p1": mock.New(mock.WithDelay(0))})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := svc.Execute(context.Background(), "p1", nil); err != nil {
					t.Errorf("execute: %v", err)
					return
				}
			}
		}()
		go func(i int) {
			defer wg.Done()
			id := registry.ProgramID(fmt.Sprintf("other-%d", i))
			if _, err := reg.Register(id, zkvm.VendorRisc0, mock.New(), registry.Metadata{}); err != nil {
				t.Errorf("register: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 11, reg.Len())
}
