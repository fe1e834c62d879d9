//go:build linux

package reflink

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// clone uses the FICLONE ioctl (Linux btrfs/XFS/OCFS2/recent ext4) to
// clone src's extents into a freshly created dst.
func clone(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("reflink: open source: %w", err)
	}
	defer func() { _ = srcFile.Close() }()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("reflink: create destination: %w", err)
	}
	defer func() { _ = dstFile.Close() }()

	if err := unix.IoctlFileClone(int(dstFile.Fd()), int(srcFile.Fd())); err != nil {
		_ = os.Remove(dst)
		if isUnsupported(err) {
			return fmt.Errorf("%w: %v", ErrNotSupported, err)
		}
		return fmt.Errorf("reflink: clone ioctl: %w", err)
	}
	return nil
}

// isUnsupported reports whether err indicates the filesystem or file
// pair simply cannot be cloned (as opposed to a real failure worth
// surfacing), per the FICLONE ioctl's documented error codes.
func isUnsupported(err error) bool {
	switch err {
	case unix.EOPNOTSUPP, unix.ENOTTY, unix.EXDEV, unix.EINVAL, unix.EPERM:
		return true
	default:
		return false
	}
}
