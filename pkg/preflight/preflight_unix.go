//go:build !windows

package preflight

import (
	"golang.org/x/sys/unix"
)

// FreeBytes reports the free space available to the current user on the
// filesystem containing path.
func FreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	// Bavail counts blocks available to unprivileged users, which is the
	// number that matters for the sync worker.
	return stat.Bavail * uint64(stat.Bsize), nil
}
