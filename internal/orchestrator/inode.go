package orchestrator

import (
	"os"
	"syscall"
)

// inodeOf extracts the inode number backing info, or 0 if the platform's
// FileInfo doesn't expose one.
func inodeOf(info os.FileInfo) uint64 {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return stat.Ino
}
