package backends

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/zkgate/internal/backends/hostproc"
	"github.com/R3E-Network/zkgate/internal/backends/mock"
	"github.com/R3E-Network/zkgate/internal/config"
	"github.com/R3E-Network/zkgate/internal/zkvm"
)

func TestMockFactoryHonoursOperations(t *testing.T) {
	f, err := Factory(config.VendorConfig{Backend: config.BackendMock, Operations: []string{"execute"}})
	require.NoError(t, err)

	engine, err := f("ignored.elf")
	require.NoError(t, err)
	require.IsType(t, &mock.Engine{}, engine)

	reporter, ok := engine.(zkvm.CapabilityReporter)
	require.True(t, ok)
	assert.True(t, reporter.Supports(zkvm.OpExecute))
	assert.False(t, reporter.Supports(zkvm.OpProve))

	report, err := engine.Execute(context.Background(), zkvm.Input(`{}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(mock.DefaultCycles), report.TotalCycles)
}

func TestHostFactory(t *testing.T) {
	f, err := Factory(config.VendorConfig{Backend: config.BackendHost, Binary: "/bin/true"})
	require.NoError(t, err)

	_, err = f(filepath.Join(t.TempDir(), "missing.elf"))
	assert.Error(t, err, "the program must exist")

	elf := filepath.Join(t.TempDir(), "program.elf")
	require.NoError(t, os.WriteFile(elf, []byte("\x7fELF"), 0o644))
	engine, err := f(elf)
	require.NoError(t, err)
	assert.IsType(t, &hostproc.Engine{}, engine)
}

func TestFactoryRejectsBadConfig(t *testing.T) {
	_, err := Factory(config.VendorConfig{Backend: "gpu"})
	assert.Error(t, err)
	_, err = Factory(config.VendorConfig{Backend: config.BackendMock, Operations: []string{"fold"}})
	assert.Error(t, err)
}

func TestFactoriesFromDefaultGateway(t *testing.T) {
	cfg := config.DefaultGateway()
	cfg.Builtins = []config.BuiltinConfig{{ID: "sp1", Vendor: "sp1", Name: "sp1-program", ELF: "builtins/sp1/sp1-program.elf"}}

	factories, err := Factories(cfg)
	require.NoError(t, err)
	assert.Len(t, factories, 2)
	assert.Contains(t, factories, zkvm.VendorSP1)
	assert.Contains(t, factories, zkvm.VendorRisc0)

	builtins := Builtins(cfg)
	require.Len(t, builtins, 1)
	assert.Equal(t, zkvm.VendorSP1, builtins[0].Vendor)
	assert.Equal(t, "builtins/sp1/sp1-program.elf", builtins[0].ELFPath)
}
