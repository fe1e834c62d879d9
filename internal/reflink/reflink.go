// Package reflink creates copy-on-write clones of files where the
// underlying filesystem supports them (btrfs, XFS with reflink=1,
// newer ext4/OCFS2 configurations). Only Linux's FICLONE ioctl is
// implemented; on every other platform Clone returns ErrNotSupported.
//
// Clone returns an error wrapping ErrNotSupported when the filesystem,
// platform, or specific file pair cannot be cloned; callers are
// expected to fall back to a hard link in that case (§4.5).
package reflink

import "errors"

// ErrNotSupported indicates the underlying filesystem or platform does
// not support copy-on-write clones for this file pair. Callers should
// treat this as routine (§7's "Unsupported" error kind: silently fall
// back, not an error to surface to the user).
var ErrNotSupported = errors.New("reflink: not supported")

// Clone creates dst as a copy-on-write clone of src. dst must not
// already exist. On success, dst shares physical extents with src
// until either is modified (divergent writes allocate fresh extents).
func Clone(src, dst string) error {
	return clone(src, dst)
}
