//go:build linux

package platform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/procfs"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	nativeType      = TypeLinux
	cpuSampleWindow = 100 * time.Millisecond
	sysfsRoot       = "/sys"
)

type linuxAdapter struct {
	base
	proc procfs.FS
}

func newNativeAdapter(log zerolog.Logger) (Adapter, error) {
	pfs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &linuxAdapter{base: base{log: log}, proc: pfs}, nil
}

func (a *linuxAdapter) Platform() Type { return TypeLinux }

func (a *linuxAdapter) SystemInfo(ctx context.Context) (SystemInfo, error) {
	var si SystemInfo
	hostCPU(&si)
	si.OSName, si.OSVersion = osRelease()
	if ci, err := a.proc.CPUInfo(); err == nil && len(ci) > 0 && si.CPUModel == "" {
		si.CPUModel = ci[0].ModelName
	}

	if mi, err := a.proc.Meminfo(); err == nil {
		if mi.MemTotal != nil {
			si.MemoryTotal = *mi.MemTotal * 1024
		}
		if mi.MemAvailable != nil {
			si.MemoryAvailable = *mi.MemAvailable * 1024
		} else if mi.MemFree != nil {
			si.MemoryAvailable = *mi.MemFree * 1024
		}
	}
	if si.MemoryAvailable > si.MemoryTotal {
		si.MemoryAvailable = si.MemoryTotal
	}
	si.DiskTotal, si.DiskAvailable = diskUsage("/")

	if la, err := a.proc.LoadAvg(); err == nil {
		si.LoadAverage = [3]float64{la.Load1, la.Load5, la.Load15}
	}
	var sys unix.Sysinfo_t
	if err := unix.Sysinfo(&sys); err == nil {
		si.Uptime = time.Duration(int64(sys.Uptime)) * time.Second
	}
	usage, err := a.cpuUsage(ctx)
	if err != nil {
		return si, err
	}
	si.CPUUsage = usage
	return si, nil
}

// cpuUsage samples /proc/stat twice and returns the busy share in percent.
func (a *linuxAdapter) cpuUsage(ctx context.Context) (float64, error) {
	first, err := a.proc.Stat()
	if err != nil {
		return 0, nil
	}
	t := time.NewTimer(cpuSampleWindow)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.C:
	}
	second, err := a.proc.Stat()
	if err != nil {
		return 0, nil
	}
	idle := func(c procfs.CPUStat) float64 { return c.Idle + c.Iowait }
	total := func(c procfs.CPUStat) float64 {
		return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
	}
	dt := total(second.CPUTotal) - total(first.CPUTotal)
	if dt <= 0 {
		return 0, nil
	}
	di := idle(second.CPUTotal) - idle(first.CPUTotal)
	return clampPercent((dt - di) / dt * 100), nil
}

func (a *linuxAdapter) Processes(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := a.proc.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pi, ok := a.describe(p); ok {
			out = append(out, pi)
		}
	}
	sortProcesses(out)
	return out, nil
}

// describe reads one process. Processes that exit mid-read are skipped.
func (a *linuxAdapter) describe(p procfs.Proc) (ProcessInfo, bool) {
	st, err := p.Stat()
	if err != nil {
		return ProcessInfo{}, false
	}
	pi := ProcessInfo{
		PID:       st.PID,
		ParentPID: st.PPID,
		Name:      st.Comm,
		Status:    procState(st.State),
		CPUTime:   st.CPUTime(),
		MemoryRSS: uint64(st.ResidentMemory()),
	}
	if secs, err := st.StartTime(); err == nil {
		pi.StartTime = time.Unix(0, int64(secs*float64(time.Second)))
	}
	if exe, err := p.Executable(); err == nil {
		pi.Executable = exe
	}
	if args, err := p.CmdLine(); err == nil {
		pi.CommandLine = strings.Join(args, " ")
	}
	return pi, true
}

func procState(s string) string {
	switch s {
	case "R":
		return "running"
	case "S":
		return "sleeping"
	case "D":
		return "disk-sleep"
	case "Z":
		return "zombie"
	case "T", "t":
		return "stopped"
	case "I":
		return "idle"
	default:
		return s
	}
}

func (a *linuxAdapter) Process(_ context.Context, pid int) (ProcessInfo, bool, error) {
	p, err := a.proc.Proc(pid)
	if errors.Is(err, fs.ErrNotExist) {
		return ProcessInfo{}, false, nil
	}
	if err != nil {
		return ProcessInfo{}, false, err
	}
	pi, ok := a.describe(p)
	return pi, ok, nil
}

func (a *linuxAdapter) FindProcesses(ctx context.Context, name string) ([]ProcessInfo, error) {
	procs, err := a.Processes(ctx)
	if err != nil {
		return nil, err
	}
	return matchProcesses(procs, name), nil
}

func (a *linuxAdapter) KillProcess(pid, signal int) error { return posixKill(pid, signal) }

func (a *linuxAdapter) StartProcess(ctx context.Context, command string, args []string, dir string) (ProcessInfo, error) {
	return a.startProcess(ctx, command, args, dir)
}

func (a *linuxAdapter) LibraryDir() string {
	for _, d := range []string{"/usr/lib64", "/usr/lib/x86_64-linux-gnu", "/usr/lib/aarch64-linux-gnu", "/usr/lib"} {
		if fi, err := os.Stat(d); err == nil && fi.IsDir() {
			return d
		}
	}
	return "/usr/lib"
}

func (a *linuxAdapter) IsExecutable(path string) bool { return posixExecutable(path) }

func (a *linuxAdapter) NetworkInterfaces(_ context.Context) ([]NetworkInterface, error) {
	ifs, err := a.interfaces()
	if err != nil {
		return nil, err
	}
	dev, err := a.proc.NetDev()
	if err != nil {
		return ifs, nil
	}
	for i := range ifs {
		if line, ok := dev[ifs[i].Name]; ok {
			ifs[i].BytesReceived = line.RxBytes
			ifs[i].BytesSent = line.TxBytes
			ifs[i].PacketsReceived = line.RxPackets
			ifs[i].PacketsSent = line.TxPackets
		}
	}
	return ifs, nil
}

func (a *linuxAdapter) CUDAAvailable() bool {
	return anyGlob("/usr/lib*/libcuda.so*", "/usr/lib/*/libcuda.so*", "/usr/local/cuda/lib64/libcudart.so*") ||
		anyExists("/dev/nvidiactl", "/proc/driver/nvidia/version")
}

func (a *linuxAdapter) OpenCLAvailable() bool {
	return anyGlob("/etc/OpenCL/vendors/*.icd", "/usr/lib*/libOpenCL.so*", "/usr/lib/*/libOpenCL.so*")
}

// GPUs prefers nvidia-smi and falls back to DRM devices in sysfs.
func (a *linuxAdapter) GPUs(ctx context.Context) ([]GPUInfo, error) {
	gpus, err := nvidiaSMI(ctx)
	if err != nil {
		a.log.Debug().Err(err).Msg("nvidia-smi probe failed")
	}
	if len(gpus) > 0 {
		return gpus, nil
	}
	return a.drmGPUs(), nil
}

func (a *linuxAdapter) drmGPUs() []GPUInfo {
	cards, _ := filepath.Glob(filepath.Join(sysfsRoot, "class/drm/card[0-9]*"))
	opencl := a.OpenCLAvailable()
	var out []GPUInfo
	for _, c := range cards {
		if strings.Contains(filepath.Base(c), "-") {
			continue // connector, e.g. card0-HDMI-A-1
		}
		vendor := readTrim(filepath.Join(c, "device/vendor"))
		if vendor == "" {
			continue
		}
		device := readTrim(filepath.Join(c, "device/device"))
		g := GPUInfo{
			Name:            fmt.Sprintf("%s GPU %s", vendorName(vendor), device),
			Vendor:          vendorName(vendor),
			DriverVersion:   driverName(filepath.Join(c, "device/driver")),
			OpenCLSupported: opencl,
		}
		if total, err := strconv.ParseUint(readTrim(filepath.Join(c, "device/mem_info_vram_total")), 10, 64); err == nil {
			g.MemoryTotalMB = total >> 20
			if used, err := strconv.ParseUint(readTrim(filepath.Join(c, "device/mem_info_vram_used")), 10, 64); err == nil {
				g.MemoryUsedMB = min(used>>20, g.MemoryTotalMB)
			}
		}
		if busy, err := strconv.ParseFloat(readTrim(filepath.Join(c, "device/gpu_busy_percent")), 64); err == nil {
			g.Utilization = clampPercent(busy)
		}
		out = append(out, g)
	}
	return out
}

func driverName(link string) string {
	target, err := os.Readlink(link)
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

// CPUTemperature reads the package sensor from the thermal zones, falling
// back to the first zone with a reading.
func (a *linuxAdapter) CPUTemperature() (float64, bool) {
	zones, _ := filepath.Glob(filepath.Join(sysfsRoot, "class/thermal/thermal_zone*"))
	var fallback float64
	found := false
	for _, z := range zones {
		milli, err := strconv.ParseFloat(readTrim(filepath.Join(z, "temp")), 64)
		if err != nil {
			continue
		}
		c := milli / 1000
		kind := readTrim(filepath.Join(z, "type"))
		if strings.Contains(kind, "x86_pkg_temp") || strings.Contains(strings.ToLower(kind), "cpu") {
			return c, true
		}
		if !found {
			fallback, found = c, true
		}
	}
	return fallback, found
}

func readTrim(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// osRelease returns NAME and VERSION_ID from /etc/os-release.
func osRelease() (name, version string) {
	name = "Linux"
	b, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return name, ""
	}
	for _, line := range strings.Split(string(b), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		v = strings.Trim(v, `"'`)
		switch k {
		case "NAME":
			name = v
		case "VERSION_ID":
			version = v
		}
	}
	return name, version
}

func osVersion() (version, kernel string) {
	_, version = osRelease()
	var u unix.Utsname
	if err := unix.Uname(&u); err == nil {
		kernel = unix.ByteSliceToString(u.Release[:])
	}
	if version == "" {
		version = kernel
	}
	return version, kernel
}

func detectFeatures() Feature {
	var f Feature
	if fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC); err == nil {
		_ = unix.Close(fd)
		f |= FeatureEpoll
	}
	if nodes, _ := filepath.Glob(filepath.Join(sysfsRoot, "devices/system/node/node[0-9]*")); len(nodes) > 1 {
		f |= FeatureNUMA
	}
	if anyExists("/run/systemd/system") {
		f |= FeatureSystemd
	}
	if anyExists("/proc/sys/kernel/perf_event_paranoid") {
		f |= FeaturePerfEvents
	}
	return f
}

// containerType recognizes docker, podman, kubernetes and generic cgroup
// container markers.
func containerType() (string, bool) {
	switch {
	case anyExists("/.dockerenv"):
		return "docker", true
	case anyExists("/run/.containerenv"):
		return "podman", true
	case os.Getenv("KUBERNETES_SERVICE_HOST") != "":
		return "kubernetes", true
	}
	cg := readTrim("/proc/1/cgroup")
	for _, marker := range []string{"kubepods", "docker", "containerd", "lxc"} {
		if strings.Contains(cg, marker) {
			return marker, true
		}
	}
	return "", false
}
