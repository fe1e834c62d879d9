// Package types provides shared types used across the imprint codebase.
package types

import "time"

// HashSize is the width, in bytes, of a Hash. Both the sparse hash and
// the full hash share this representation; they must never be compared
// across tiers (a sparse Hash and a full Hash for the same file are
// unrelated values even though their Go type is identical).
const HashSize = 32

// Hash is a fixed-width opaque content digest. The zero Hash is never a
// valid digest of real content and is used as a "not computed" sentinel.
type Hash [HashSize]byte

// IsZero reports whether h is the unset sentinel value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// FileInfo holds metadata for a scanned file, gathered from a single
// stat call. Ino is the key for vaulted-inode lookups; Dev and Nlink
// record the file's device and hard-link count at scan time.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	Dev     uint64
	Ino     uint64
	Nlink   uint32
}

// FileRecord is the durable, per-path record described in §3: it exists
// so a later run can skip full-hashing a path whose (size, modified)
// is unchanged. Modified is seconds since the epoch, matching the
// state store's on-disk encoding.
type FileRecord struct {
	Size     int64
	Modified int64
	FullHash Hash
}

// Semaphore implements a counting semaphore using a buffered channel.
// It limits concurrent access to a resource by blocking when the limit
// is reached.
type Semaphore chan struct{}

// NewSemaphore creates a semaphore that allows up to n concurrent
// acquisitions. n <= 0 is treated as 1 (one acquisition at a time).
func NewSemaphore(n int) Semaphore {
	if n <= 0 {
		n = 1
	}
	return make(chan struct{}, n)
}

// Acquire blocks until a slot is available, then claims it.
func (s Semaphore) Acquire() { s <- struct{}{} }

// Release frees a slot, unblocking one waiting Acquire call.
func (s Semaphore) Release() { <-s }
