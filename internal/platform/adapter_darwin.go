//go:build darwin

package platform

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const nativeType = TypeMacOS

type darwinAdapter struct {
	base
}

func newNativeAdapter(log zerolog.Logger) (Adapter, error) {
	return &darwinAdapter{base: base{log: log}}, nil
}

func (a *darwinAdapter) Platform() Type { return TypeMacOS }

func (a *darwinAdapter) SystemInfo(ctx context.Context) (SystemInfo, error) {
	var si SystemInfo
	hostCPU(&si)
	si.OSName = "macOS"
	si.OSVersion, _ = osVersion()
	if si.CPUModel == "" {
		si.CPUModel, _ = unix.Sysctl("machdep.cpu.brand_string")
	}
	if total, err := unix.SysctlUint64("hw.memsize"); err == nil {
		si.MemoryTotal = total
	}
	if free, err := unix.SysctlUint32("vm.page_free_count"); err == nil {
		si.MemoryAvailable = uint64(free) * uint64(unix.Getpagesize())
	}
	if si.MemoryAvailable > si.MemoryTotal {
		si.MemoryAvailable = si.MemoryTotal
	}
	si.DiskTotal, si.DiskAvailable = diskUsage("/")
	si.LoadAverage = loadAverage()
	if tv, err := unix.SysctlTimeval("kern.boottime"); err == nil {
		si.Uptime = time.Since(time.Unix(tv.Unix()))
	}
	// No cheap per-CPU tick counters are exposed through sysctl; the one
	// minute load normalized by thread count stands in for utilization.
	if si.CPUThreads > 0 {
		si.CPUUsage = clampPercent(si.LoadAverage[0] / float64(si.CPUThreads) * 100)
	}
	return si, ctx.Err()
}

// loadAverage decodes vm.loadavg: three fixed-point uint32 values followed by
// the scale.
func loadAverage() [3]float64 {
	var out [3]float64
	raw, err := unix.SysctlRaw("vm.loadavg")
	if err != nil || len(raw) < 24 {
		return out
	}
	scale := float64(binary.LittleEndian.Uint64(raw[16:24]))
	if scale == 0 {
		return out
	}
	for i := range out {
		out[i] = float64(binary.LittleEndian.Uint32(raw[i*4:])) / scale
	}
	return out
}

func (a *darwinAdapter) Processes(ctx context.Context) ([]ProcessInfo, error) {
	kps, err := unix.SysctlKinfoProcSlice("kern.proc.all")
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	out := make([]ProcessInfo, 0, len(kps))
	for _, kp := range kps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, ProcessInfo{
			PID:       int(kp.Proc.P_pid),
			ParentPID: int(kp.Eproc.Ppid),
			Name:      unix.ByteSliceToString(kp.Proc.P_comm[:]),
		})
	}
	sortProcesses(out)
	return out, nil
}

func (a *darwinAdapter) Process(ctx context.Context, pid int) (ProcessInfo, bool, error) {
	kp, err := unix.SysctlKinfoProc("kern.proc.pid", pid)
	if err != nil || kp == nil || int(kp.Proc.P_pid) != pid {
		return ProcessInfo{}, false, nil
	}
	return ProcessInfo{
		PID:       pid,
		ParentPID: int(kp.Eproc.Ppid),
		Name:      unix.ByteSliceToString(kp.Proc.P_comm[:]),
	}, true, ctx.Err()
}

func (a *darwinAdapter) FindProcesses(ctx context.Context, name string) ([]ProcessInfo, error) {
	procs, err := a.Processes(ctx)
	if err != nil {
		return nil, err
	}
	return matchProcesses(procs, name), nil
}

func (a *darwinAdapter) KillProcess(pid, signal int) error { return posixKill(pid, signal) }

func (a *darwinAdapter) StartProcess(ctx context.Context, command string, args []string, dir string) (ProcessInfo, error) {
	return a.startProcess(ctx, command, args, dir)
}

func (a *darwinAdapter) LibraryDir() string { return "/usr/local/lib" }

func (a *darwinAdapter) IsExecutable(path string) bool { return posixExecutable(path) }

func (a *darwinAdapter) NetworkInterfaces(context.Context) ([]NetworkInterface, error) {
	return a.interfaces()
}

func (a *darwinAdapter) CUDAAvailable() bool { return false }

func (a *darwinAdapter) OpenCLAvailable() bool {
	return anyExists("/System/Library/Frameworks/OpenCL.framework")
}

// GPUs reads system_profiler's display report.
func (a *darwinAdapter) GPUs(ctx context.Context) ([]GPUInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, gpuProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "system_profiler", "-json", "SPDisplaysDataType").Output()
	if err != nil {
		return nil, nil
	}
	var report struct {
		Displays []struct {
			Model  string `json:"sppci_model"`
			Vendor string `json:"spdisplays_vendor"`
			VRAM   string `json:"spdisplays_vram"`
		} `json:"SPDisplaysDataType"`
	}
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, fmt.Errorf("system_profiler: %w", err)
	}
	opencl := a.OpenCLAvailable()
	gpus := make([]GPUInfo, 0, len(report.Displays))
	for _, d := range report.Displays {
		if d.Model == "" {
			continue
		}
		vendor := strings.TrimPrefix(d.Vendor, "sppci_vendor_")
		if vendor == "" {
			vendor = "Apple"
		}
		gpus = append(gpus, GPUInfo{
			Name:            d.Model,
			Vendor:          vendor,
			MemoryTotalMB:   vramMB(d.VRAM),
			OpenCLSupported: opencl,
		})
	}
	return gpus, nil
}

// vramMB parses "8 GB" or "1536 MB".
func vramMB(s string) uint64 {
	f := strings.Fields(s)
	if len(f) != 2 {
		return 0
	}
	n, err := strconv.ParseUint(f[0], 10, 64)
	if err != nil {
		return 0
	}
	if strings.EqualFold(f[1], "GB") {
		return n << 10
	}
	return n
}

func (a *darwinAdapter) CPUTemperature() (float64, bool) { return 0, false }

func osVersion() (version, kernel string) {
	version, _ = unix.Sysctl("kern.osproductversion")
	kernel, _ = unix.Sysctl("kern.osrelease")
	return version, kernel
}

func detectFeatures() Feature {
	f := FeatureGCD | FeatureMetal
	if fd, err := unix.Kqueue(); err == nil {
		_ = unix.Close(fd)
		f |= FeatureKqueue
	}
	return f
}

func containerType() (string, bool) { return "", false }
