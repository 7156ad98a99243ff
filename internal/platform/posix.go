//go:build linux || darwin

package platform

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func posixKill(pid, signal int) error {
	if pid <= 0 {
		return fmt.Errorf("kill: invalid pid %d", pid)
	}
	if signal == 0 {
		signal = int(unix.SIGTERM)
	}
	err := unix.Kill(pid, unix.Signal(signal))
	if errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("%w: %d", ErrProcessNotFound, pid)
	}
	return err
}

// posixExecutable asks the kernel, so ACLs and the caller's identity count.
func posixExecutable(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil || st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}

func diskUsage(path string) (total, avail uint64) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0
	}
	bsize := uint64(st.Bsize)
	total = uint64(st.Blocks) * bsize
	avail = uint64(st.Bavail) * bsize
	if avail > total {
		avail = total
	}
	return total, avail
}
