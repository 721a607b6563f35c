// Package backends builds the per-vendor engine factories the loader uses from the
// gateway configuration.
package backends

import (
	"fmt"

	"github.com/R3E-Network/zkgate/internal/backends/hostproc"
	"github.com/R3E-Network/zkgate/internal/backends/mock"
	"github.com/R3E-Network/zkgate/internal/config"
	"github.com/R3E-Network/zkgate/internal/loader"
	"github.com/R3E-Network/zkgate/internal/zkvm"
)

// Factory returns the engine builder for one vendor.
func Factory(vc config.VendorConfig) (loader.Factory, error) {
	ops, err := vc.SupportedOperations()
	if err != nil {
		return nil, err
	}

	switch vc.Backend {
	case config.BackendMock:
		return func(string) (zkvm.Engine, error) {
			return mock.New(mock.WithOperations(ops...)), nil
		}, nil
	case config.BackendHost:
		hc := hostproc.Config{
			Binary:     vc.Binary,
			Args:       vc.Args,
			Env:        vc.Env,
			Operations: ops,
		}
		return func(elfPath string) (zkvm.Engine, error) {
			return hostproc.New(hc, elfPath)
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", vc.Backend)
	}
}

// Factories builds a factory for every configured vendor.
func Factories(cfg *config.Gateway) (map[zkvm.Vendor]loader.Factory, error) {
	factories := make(map[zkvm.Vendor]loader.Factory, len(cfg.Vendors))
	for name, vc := range cfg.Vendors {
		vendor, err := zkvm.ParseVendor(name)
		if err != nil {
			return nil, err
		}
		f, err := Factory(vc)
		if err != nil {
			return nil, fmt.Errorf("vendor %s: %w", vendor, err)
		}
		factories[vendor] = f
	}
	return factories, nil
}

// Builtins converts configured builtins for the loader.
func Builtins(cfg *config.Gateway) []loader.Builtin {
	out := make([]loader.Builtin, 0, len(cfg.Builtins))
	for _, b := range cfg.Builtins {
		out = append(out, loader.Builtin{
			ID:              b.ID,
			Vendor:          zkvm.Vendor(b.Vendor),
			Name:            b.Name,
			ELFPath:         b.ELF,
			CompilerVersion: b.CompilerVersion,
		})
	}
	return out
}
