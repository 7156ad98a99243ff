//go:build windows

package platform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
	"golang.org/x/sys/windows"
)

const nativeType = TypeWindows

var (
	modkernel32              = windows.NewLazySystemDLL("kernel32.dll")
	procGlobalMemoryStatusEx = modkernel32.NewProc("GlobalMemoryStatusEx")
	procGetTickCount64       = modkernel32.NewProc("GetTickCount64")
	procGetSystemTimes       = modkernel32.NewProc("GetSystemTimes")
)

// memoryStatusEx mirrors MEMORYSTATUSEX.
type memoryStatusEx struct {
	Length               uint32
	MemoryLoad           uint32
	TotalPhys            uint64
	AvailPhys            uint64
	TotalPageFile        uint64
	AvailPageFile        uint64
	TotalVirtual         uint64
	AvailVirtual         uint64
	AvailExtendedVirtual uint64
}

type windowsAdapter struct {
	base
}

func newNativeAdapter(log zerolog.Logger) (Adapter, error) {
	return &windowsAdapter{base: base{log: log}}, nil
}

func (a *windowsAdapter) Platform() Type { return TypeWindows }

func (a *windowsAdapter) SystemInfo(ctx context.Context) (SystemInfo, error) {
	var si SystemInfo
	hostCPU(&si)
	si.OSName = "Windows"
	si.OSVersion, _ = osVersion()

	ms := memoryStatusEx{Length: uint32(unsafe.Sizeof(memoryStatusEx{}))}
	if r, _, _ := procGlobalMemoryStatusEx.Call(uintptr(unsafe.Pointer(&ms))); r != 0 {
		si.MemoryTotal = ms.TotalPhys
		si.MemoryAvailable = min(ms.AvailPhys, ms.TotalPhys)
	}
	si.DiskTotal, si.DiskAvailable = diskUsage(os.Getenv("SystemDrive") + `\`)
	if r, _, _ := procGetTickCount64.Call(); r != 0 {
		si.Uptime = time.Duration(r) * time.Millisecond
	}
	usage, err := cpuUsage(ctx)
	if err != nil {
		return si, err
	}
	si.CPUUsage = usage
	return si, nil
}

func systemTimes() (idle, kernel, user uint64, ok bool) {
	var i, k, u windows.Filetime
	r, _, _ := procGetSystemTimes.Call(uintptr(unsafe.Pointer(&i)), uintptr(unsafe.Pointer(&k)), uintptr(unsafe.Pointer(&u)))
	if r == 0 {
		return 0, 0, 0, false
	}
	ft := func(f windows.Filetime) uint64 { return uint64(f.HighDateTime)<<32 | uint64(f.LowDateTime) }
	return ft(i), ft(k), ft(u), true
}

// cpuUsage samples GetSystemTimes twice. Kernel time includes idle time.
func cpuUsage(ctx context.Context) (float64, error) {
	i1, k1, u1, ok := systemTimes()
	if !ok {
		return 0, nil
	}
	t := time.NewTimer(100 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.C:
	}
	i2, k2, u2, ok := systemTimes()
	if !ok {
		return 0, nil
	}
	total := float64((k2 - k1) + (u2 - u1))
	if total <= 0 {
		return 0, nil
	}
	return clampPercent((total - float64(i2-i1)) / total * 100), nil
}

func diskUsage(root string) (total, avail uint64) {
	p, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return 0, 0
	}
	var free, tot, totFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &free, &tot, &totFree); err != nil {
		return 0, 0
	}
	return tot, min(free, tot)
}

func (a *windowsAdapter) Processes(ctx context.Context) ([]ProcessInfo, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("process snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var pe windows.ProcessEntry32
	pe.Size = uint32(unsafe.Sizeof(pe))
	var out []ProcessInfo
	for err = windows.Process32First(snap, &pe); err == nil; err = windows.Process32Next(snap, &pe) {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		out = append(out, ProcessInfo{
			PID:       int(pe.ProcessID),
			ParentPID: int(pe.ParentProcessID),
			Name:      windows.UTF16ToString(pe.ExeFile[:]),
			Status:    "running",
		})
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, fmt.Errorf("walk processes: %w", err)
	}
	sortProcesses(out)
	return out, nil
}

func (a *windowsAdapter) Process(ctx context.Context, pid int) (ProcessInfo, bool, error) {
	procs, err := a.Processes(ctx)
	if err != nil {
		return ProcessInfo{}, false, err
	}
	p, ok := findPID(procs, pid)
	return p, ok, nil
}

// FindProcesses also matches without the ".exe" suffix.
func (a *windowsAdapter) FindProcesses(ctx context.Context, name string) ([]ProcessInfo, error) {
	procs, err := a.Processes(ctx)
	if err != nil {
		return nil, err
	}
	return matchProcesses(procs, strings.TrimSuffix(name, ".exe")), nil
}

// KillProcess terminates pid. Windows has no signals; signal becomes the
// exit code.
func (a *windowsAdapter) KillProcess(pid, signal int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return fmt.Errorf("%w: %d", ErrProcessNotFound, pid)
		}
		return err
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, uint32(signal))
}

func (a *windowsAdapter) StartProcess(ctx context.Context, command string, args []string, dir string) (ProcessInfo, error) {
	return a.startProcess(ctx, command, args, dir)
}

func (a *windowsAdapter) LibraryDir() string {
	if root := os.Getenv("SystemRoot"); root != "" {
		return filepath.Join(root, "System32")
	}
	return `C:\Windows\System32`
}

func (a *windowsAdapter) IsExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".bat", ".cmd", ".com", ".ps1":
		return true
	}
	return false
}

// SetFilePermissions only toggles the read-only attribute; Windows has no
// POSIX mode bits.
func (a *windowsAdapter) SetFilePermissions(path string, mode fs.FileMode) error {
	return os.Chmod(path, mode)
}

func (a *windowsAdapter) NetworkInterfaces(context.Context) ([]NetworkInterface, error) {
	return a.interfaces()
}

func (a *windowsAdapter) CUDAAvailable() bool {
	return anyExists(filepath.Join(a.LibraryDir(), "nvcuda.dll"))
}

func (a *windowsAdapter) OpenCLAvailable() bool {
	return anyExists(filepath.Join(a.LibraryDir(), "OpenCL.dll"))
}

func (a *windowsAdapter) GPUs(ctx context.Context) ([]GPUInfo, error) { return nvidiaSMI(ctx) }

func (a *windowsAdapter) CPUTemperature() (float64, bool) { return 0, false }

func osVersion() (version, kernel string) {
	v := windows.RtlGetVersion()
	version = fmt.Sprintf("%d.%d.%d", v.MajorVersion, v.MinorVersion, v.BuildNumber)
	return version, version
}

func detectFeatures() Feature {
	f := FeatureIOCP | FeatureETW
	if anyExists(filepath.Join(os.Getenv("SystemRoot"), "System32", "wbem", "WMIC.exe")) {
		f |= FeatureWMI
	}
	return f
}

func containerType() (string, bool) {
	if _, err := os.Stat(`C:\ServiceProfiles\ContainerUser`); err == nil {
		return "windows-container", true
	}
	return "", false
}
