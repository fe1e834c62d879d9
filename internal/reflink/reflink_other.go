//go:build !linux

package reflink

import "fmt"

// clone has no portable implementation outside Linux's FICLONE ioctl
// in this codebase; every call falls back to a hard link.
func clone(src, dst string) error {
	return fmt.Errorf("%w: reflink unimplemented on this platform", ErrNotSupported)
}
