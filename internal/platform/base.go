package platform

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/rs/zerolog"
)

const (
	appDirName      = "nexrt"
	gpuProbeTimeout = 5 * time.Second
)

// processStart anchors ProcessUptime.
var processStart = time.Now()

// base holds the queries that behave the same on every OS. Each adapter
// embeds it and overrides what its OS does differently.
type base struct {
	log zerolog.Logger
}

func (b base) TempDir() string { return os.TempDir() }

func (b base) HomeDir() (string, error) { return os.UserHomeDir() }

func (b base) ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDirName), nil
}

func (b base) FilePermissions(path string) (fs.FileMode, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Mode().Perm(), nil
}

func (b base) SetFilePermissions(path string, mode fs.FileMode) error {
	return os.Chmod(path, mode.Perm())
}

func (b base) Getenv(name string) (string, bool) { return os.LookupEnv(name) }

func (b base) Setenv(name, value string) error {
	if name == "" || strings.ContainsAny(name, "=\x00") {
		return fmt.Errorf("setenv: invalid name %q", name)
	}
	return os.Setenv(name, value)
}

func (b base) LocalIPAddresses() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if ip := addrIP(a); ip != nil {
			out = append(out, ip.String())
		}
	}
	return out, nil
}

// interfaces enumerates net.Interfaces; counters are filled by the caller
// where the OS exposes them.
func (b base) interfaces() ([]NetworkInterface, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]NetworkInterface, 0, len(ifs))
	for _, ifc := range ifs {
		ni := NetworkInterface{
			Name:       ifc.Name,
			MACAddress: ifc.HardwareAddr.String(),
			MTU:        ifc.MTU,
			IsUp:       ifc.Flags&net.FlagUp != 0,
			IsLoopback: ifc.Flags&net.FlagLoopback != 0,
		}
		if addrs, err := ifc.Addrs(); err == nil {
			for _, a := range addrs {
				if ip := addrIP(a); ip != nil {
					ni.Addresses = append(ni.Addresses, ip.String())
				}
			}
		}
		out = append(out, ni)
	}
	return out, nil
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}

func (b base) IsPortAvailable(port int, protocol string) bool {
	if port == 0 {
		return true
	}
	if port < 0 || port > 65535 {
		return false
	}
	addr := net.JoinHostPort("", strconv.Itoa(port))
	switch strings.ToLower(protocol) {
	case "udp", "udp4", "udp6":
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		_ = pc.Close()
		return true
	default:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		_ = ln.Close()
		return true
	}
}

// startProcess launches command detached from ctx cancellation after start;
// the child is reaped in the background.
func (b base) startProcess(ctx context.Context, command string, args []string, dir string) (ProcessInfo, error) {
	if strings.TrimSpace(command) == "" {
		return ProcessInfo{}, errors.New("start process: empty command")
	}
	if err := ctx.Err(); err != nil {
		return ProcessInfo{}, err
	}
	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		return ProcessInfo{}, fmt.Errorf("start process: %w", err)
	}
	pi := ProcessInfo{
		PID:         cmd.Process.Pid,
		ParentPID:   os.Getpid(),
		Name:        filepath.Base(command),
		Executable:  cmd.Path,
		CommandLine: strings.Join(append([]string{command}, args...), " "),
		Status:      "running",
		StartTime:   time.Now(),
	}
	go func() {
		err := cmd.Wait()
		b.log.Debug().Int("pid", pi.PID).AnErr("exit", err).Msg("child process exited")
	}()
	return pi, nil
}

// matchProcesses filters procs by case-sensitive substring match on the
// process name or the executable's base name.
func matchProcesses(procs []ProcessInfo, name string) []ProcessInfo {
	var out []ProcessInfo
	for _, p := range procs {
		if name == "" {
			continue
		}
		if strings.Contains(p.Name, name) || (p.Executable != "" && strings.Contains(filepath.Base(p.Executable), name)) {
			out = append(out, p)
		}
	}
	return out
}

func findPID(procs []ProcessInfo, pid int) (ProcessInfo, bool) {
	for _, p := range procs {
		if p.PID == pid {
			return p, true
		}
	}
	return ProcessInfo{}, false
}

func sortProcesses(procs []ProcessInfo) {
	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
}

// hostCPU fills the CPU fields every adapter reports the same way.
func hostCPU(si *SystemInfo) {
	si.CPUModel = strings.TrimSpace(cpuid.CPU.BrandName)
	si.CPUThreads = runtime.NumCPU()
	si.CPUCores = cpuid.CPU.PhysicalCores
	if si.CPUCores <= 0 || si.CPUCores > si.CPUThreads {
		si.CPUCores = si.CPUThreads
	}
	si.Architecture = runtime.GOARCH
	if h, err := os.Hostname(); err == nil {
		si.Hostname = h
	}
	si.ProcessUptime = time.Since(processStart)
}

// nvidiaSMI queries GPUs through nvidia-smi. A missing binary yields no GPUs.
func nvidiaSMI(ctx context.Context) ([]GPUInfo, error) {
	bin, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, gpuProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin,
		"--query-gpu=name,driver_version,memory.total,memory.used,temperature.gpu,utilization.gpu",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi: %w", err)
	}
	return parseNvidiaSMI(out), nil
}

func parseNvidiaSMI(out []byte) []GPUInfo {
	var gpus []GPUInfo
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ",")
		if len(fields) < 6 {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if fields[0] == "" {
			continue
		}
		g := GPUInfo{
			Name:            fields[0],
			Vendor:          "NVIDIA",
			DriverVersion:   fields[1],
			MemoryTotalMB:   parseUint(fields[2]),
			MemoryUsedMB:    parseUint(fields[3]),
			Temperature:     parseFloat(fields[4]),
			Utilization:     clampPercent(parseFloat(fields[5])),
			CUDASupported:   true,
			OpenCLSupported: true,
		}
		if g.MemoryUsedMB > g.MemoryTotalMB {
			g.MemoryUsedMB = g.MemoryTotalMB
		}
		gpus = append(gpus, g)
	}
	return gpus
}

func parseUint(s string) uint64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return uint64(v)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// anyExists reports whether any of paths exists.
func anyExists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// anyGlob reports whether any pattern matches a file.
func anyGlob(patterns ...string) bool {
	for _, p := range patterns {
		if m, _ := filepath.Glob(p); len(m) > 0 {
			return true
		}
	}
	return false
}

func vendorName(id string) string {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "0x10de":
		return "NVIDIA"
	case "0x1002", "0x1022":
		return "AMD"
	case "0x8086":
		return "Intel"
	case "0x1af4":
		return "Red Hat (virtio)"
	case "0x15ad":
		return "VMware"
	case "0x1234":
		return "QEMU"
	default:
		return "Unknown"
	}
}
