// Package hostinfo describes the machine the gateway runs on for the /info route.
package hostinfo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	Unknown  = "Unknown"
	NoGPU    = "No GPU detected"
	gpuJoint = " · "
)

type Info struct {
	CPU          CPUInfo    `json:"cpu"`
	Memory       MemoryInfo `json:"memory"`
	OS           OSInfo     `json:"os"`
	Architecture string     `json:"architecture"`
	GPU          string     `json:"gpu"`
}

type CPUInfo struct {
	Model     string `json:"model"`
	Cores     int    `json:"cores"`
	Frequency uint64 `json:"frequency"`
	Vendor    string `json:"vendor"`
}

// MemoryInfo values are formatted as "%.2f GB".
type MemoryInfo struct {
	Total     string `json:"total"`
	Available string `json:"available"`
	Used      string `json:"used"`
}

type OSInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Kernel  string `json:"kernel"`
}

// sources are the probes a Collector reads from. Tests replace them.
type sources struct {
	cpuInfo   func(context.Context) ([]cpu.InfoStat, error)
	cpuCounts func(context.Context, bool) (int, error)
	memory    func(context.Context) (*mem.VirtualMemoryStat, error)
	host      func(context.Context) (*host.InfoStat, error)
	gpus      func() []string
}

func systemSources() sources {
	return sources{
		cpuInfo:   cpu.InfoWithContext,
		cpuCounts: cpu.CountsWithContext,
		memory:    mem.VirtualMemoryWithContext,
		host:      host.InfoWithContext,
		gpus:      nvidiaGPUs,
	}
}

// Collector gathers host data once and serves the cached copy afterwards.
type Collector struct {
	src  sources
	once sync.Once
	info Info
}

func NewCollector() *Collector {
	return &Collector{src: systemSources()}
}

// Get returns the host descriptor, probing the system on first use.
func (c *Collector) Get(ctx context.Context) Info {
	c.once.Do(func() {
		c.info = c.collect(ctx)
	})
	return c.info
}

func (c *Collector) collect(ctx context.Context) Info {
	info := Info{
		CPU:          CPUInfo{Model: Unknown, Vendor: Unknown},
		Memory:       MemoryInfo{Total: formatGB(0), Available: formatGB(0), Used: formatGB(0)},
		OS:           OSInfo{Name: Unknown, Version: Unknown, Kernel: Unknown},
		Architecture: runtime.GOARCH,
		GPU:          NoGPU,
	}

	if stats, err := c.src.cpuInfo(ctx); err == nil && len(stats) > 0 {
		info.CPU.Model = orUnknown(stats[0].ModelName)
		info.CPU.Vendor = orUnknown(stats[0].VendorID)
		if stats[0].Mhz > 0 {
			info.CPU.Frequency = uint64(stats[0].Mhz)
		}
	}
	if cores, err := c.src.cpuCounts(ctx, false); err == nil {
		info.CPU.Cores = cores
	}

	if vm, err := c.src.memory(ctx); err == nil && vm != nil {
		used := uint64(0)
		if vm.Total > vm.Available {
			used = vm.Total - vm.Available
		}
		info.Memory = MemoryInfo{
			Total:     formatGB(vm.Total),
			Available: formatGB(vm.Available),
			Used:      formatGB(used),
		}
	}

	if h, err := c.src.host(ctx); err == nil && h != nil {
		name := h.Platform
		if name == "" {
			name = h.OS
		}
		info.OS = OSInfo{
			Name:    orUnknown(name),
			Version: orUnknown(h.PlatformVersion),
			Kernel:  orUnknown(h.KernelVersion),
		}
		if h.KernelArch != "" {
			info.Architecture = h.KernelArch
		}
	}

	if names := c.src.gpus(); len(names) > 0 {
		info.GPU = strings.Join(names, gpuJoint)
	}
	return info
}

func formatGB(bytes uint64) string {
	return fmt.Sprintf("%.2f GB", float64(bytes)/1024/1024/1024)
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return Unknown
	}
	return s
}

// nvidiaGPUs reads adapter models from the NVIDIA driver's procfs entries.
func nvidiaGPUs() []string {
	return gpusFromProc("/proc/driver/nvidia/gpus")
}

func gpusFromProc(root string) []string {
	files, err := filepath.Glob(filepath.Join(root, "*", "information"))
	if err != nil {
		return nil
	}
	var names []string
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			key, value, ok := strings.Cut(line, ":")
			if ok && strings.TrimSpace(key) == "Model" {
				names = append(names, strings.TrimSpace(value))
				break
			}
		}
	}
	return names
}
