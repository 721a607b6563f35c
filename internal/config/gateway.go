package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/zkgate/internal/dispatch"
	"github.com/R3E-Network/zkgate/internal/zkvm"
)

// Backend kinds a vendor can be bound to.
const (
	BackendMock = "mock"
	BackendHost = "host"
)

// DefaultGatewayPath is used when no path is configured.
var DefaultGatewayPath = filepath.Join("config", "gateway.yaml")

// VendorConfig binds one vendor to a backend.
type VendorConfig struct {
	Backend    string   `yaml:"backend"`
	Binary     string   `yaml:"binary,omitempty"`
	Args       []string `yaml:"args,omitempty"`
	Env        []string `yaml:"env,omitempty"`
	Operations []string `yaml:"operations,omitempty"`
}

// SupportedOperations parses Operations. Empty means every operation.
func (v VendorConfig) SupportedOperations() ([]zkvm.Operation, error) {
	if len(v.Operations) == 0 {
		return zkvm.Operations(), nil
	}
	ops := make([]zkvm.Operation, 0, len(v.Operations))
	for _, name := range v.Operations {
		op, err := zkvm.ParseOperation(name)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// BuiltinConfig names a program registered at start from a path on disk.
type BuiltinConfig struct {
	ID              string `yaml:"id"`
	Vendor          string `yaml:"vendor"`
	Name            string `yaml:"name,omitempty"`
	ELF             string `yaml:"elf"`
	CompilerVersion string `yaml:"compiler_version,omitempty"`
}

// Gateway is the contents of config/gateway.yaml.
type Gateway struct {
	Dispatch dispatch.Config         `yaml:"dispatch"`
	Vendors  map[string]VendorConfig `yaml:"vendors"`
	Builtins []BuiltinConfig         `yaml:"builtins,omitempty"`
}

// LoadGateway loads the gateway configuration from config/gateway.yaml.
func LoadGateway() (*Gateway, error) {
	return LoadGatewayFromPath(DefaultGatewayPath)
}

// LoadGatewayFromPath loads the gateway configuration from a specific path. Dispatch
// fields left out of the file keep their defaults.
func LoadGatewayFromPath(path string) (*Gateway, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway config: %w", err)
	}

	cfg := Gateway{Dispatch: dispatch.DefaultConfig()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse gateway config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadGatewayOrDefault returns DefaultGateway when path does not exist. usedDefault tells
// the caller to warn about it. A file that exists but is invalid is still an error.
func LoadGatewayOrDefault(path string) (cfg *Gateway, usedDefault bool, err error) {
	cfg, err = LoadGatewayFromPath(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultGateway(), true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// DefaultGateway binds every vendor to the mock backend and ships no builtins.
func DefaultGateway() *Gateway {
	vendors := make(map[string]VendorConfig)
	for _, v := range zkvm.Vendors() {
		vendors[v.String()] = VendorConfig{Backend: BackendMock}
	}
	return &Gateway{
		Dispatch: dispatch.DefaultConfig(),
		Vendors:  vendors,
	}
}

// Validate rejects unknown vendors, backends and operations, host backends without a
// binary, and builtins that reference unconfigured vendors.
func (g *Gateway) Validate() error {
	if len(g.Vendors) == 0 {
		return errors.New("at least one vendor must be configured")
	}

	normalized := make(map[string]VendorConfig, len(g.Vendors))
	for name, vc := range g.Vendors {
		vendor, err := zkvm.ParseVendor(name)
		if err != nil {
			return err
		}
		vc.Backend = strings.ToLower(strings.TrimSpace(vc.Backend))
		switch vc.Backend {
		case BackendMock:
		case BackendHost:
			if strings.TrimSpace(vc.Binary) == "" {
				return fmt.Errorf("vendor %s: binary is required for the host backend", vendor)
			}
		default:
			return fmt.Errorf("vendor %s: unknown backend %q", vendor, vc.Backend)
		}
		if _, err := vc.SupportedOperations(); err != nil {
			return fmt.Errorf("vendor %s: %w", vendor, err)
		}
		normalized[vendor.String()] = vc
	}
	g.Vendors = normalized

	seen := make(map[string]bool, len(g.Builtins))
	for i, b := range g.Builtins {
		if strings.TrimSpace(b.ID) == "" {
			return fmt.Errorf("builtin %d: id is required", i)
		}
		if seen[b.ID] {
			return fmt.Errorf("builtin %s: duplicate id", b.ID)
		}
		seen[b.ID] = true
		vendor, err := zkvm.ParseVendor(b.Vendor)
		if err != nil {
			return fmt.Errorf("builtin %s: %w", b.ID, err)
		}
		if _, ok := g.Vendors[vendor.String()]; !ok {
			return fmt.Errorf("builtin %s: vendor %s is not configured", b.ID, vendor)
		}
		if strings.TrimSpace(b.ELF) == "" {
			return fmt.Errorf("builtin %s: elf is required", b.ID)
		}
		g.Builtins[i].Vendor = vendor.String()
	}

	if g.Dispatch.Prover.MaxConcurrent < 0 || g.Dispatch.Prover.QueueSize < 0 {
		return errors.New("dispatch.prover limits must not be negative")
	}
	return nil
}

// VendorNames returns the configured vendors in sorted order.
func (g *Gateway) VendorNames() []string {
	names := make([]string, 0, len(g.Vendors))
	for name := range g.Vendors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
