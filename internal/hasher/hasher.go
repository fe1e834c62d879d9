// Package hasher provides sparse and full content hashing of a single
// file.
//
// # Two tiers, two algorithms
//
// SparseHash is a cheap pre-filter: it reads up to three fixed 64KiB
// windows (head, middle, tail) through a fast non-cryptographic hash
// (xxhash, folded to 128 bits). FullHash streams the entire file
// through a collision-resistant hash (SHA-256). The two tiers share a
// representation (types.Hash) but a sparse Hash and a full Hash are
// never meaningfully comparable to each other - only within a tier.
//
// For files at or below the window size, SparseHash reads the whole
// file once and its result equals FullHash's (Testable Property 5):
// head, middle and tail windows all degenerate to the same single read.
package hasher

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/imprintfs/imprint/internal/types"
)

// windowSize is the size of each sparse-hash probe window.
const windowSize = 64 * 1024

// streamBufSize is the read buffer used while streaming a full hash.
const streamBufSize = 1 << 20 // 1 MiB, per §4.1's recommendation.

// sparseSeedA and sparseSeedB seed the two xxhash sums folded into the
// 128 low bits of a sparse Hash. Distinct seeds keep the two halves
// independent even though they hash the same bytes.
const (
	sparseSeedA uint64 = 0
	sparseSeedB uint64 = 0x9e3779b97f4a7c15
)

// SparseHash computes the cheap pre-filter hash for a file of the
// given size. It reads up to three 64KiB windows - offset 0, size/2
// (aligned down to windowSize), and max(0, size-windowSize) - and
// folds them together with size itself through xxhash.
//
// For size <= windowSize the three windows all collapse to a single
// whole-file read; SparseHash delegates to FullHash in that case so
// the two tiers are byte-for-byte identical, matching §4.1's
// requirement that small files hash the same way under both tiers.
//
// size must match the file's current length; a mismatched size only
// affects which bytes are sampled; the hash itself does not re-stat.
func SparseHash(path string, size int64) (types.Hash, error) {
	if size <= windowSize {
		return FullHash(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return types.Hash{}, err
	}
	defer func() { _ = f.Close() }()

	ha := xxhash.NewWithSeed(sparseSeedA)
	hb := xxhash.NewWithSeed(sparseSeedB)

	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(size))
	_, _ = ha.Write(sizeBuf[:])
	_, _ = hb.Write(sizeBuf[:])

	for _, off := range sparseWindowOffsets(size) {
		n := windowSize
		if remaining := size - off; remaining < int64(n) {
			n = int(remaining)
		}
		if n <= 0 {
			continue
		}
		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, off); err != nil && err != io.EOF {
			return types.Hash{}, err
		}
		_, _ = ha.Write(buf)
		_, _ = hb.Write(buf)
	}

	return foldXXHash(ha.Sum64(), hb.Sum64()), nil
}

// sparseWindowOffsets returns the distinct byte offsets to probe for a
// file of the given size: head (0), middle (size/2, aligned down to
// windowSize), and tail (max(0, size-windowSize)). Offsets that would
// duplicate an earlier one (small files) are omitted so each byte range
// is folded into the hash at most once.
func sparseWindowOffsets(size int64) []int64 {
	head := int64(0)
	mid := (size / 2) / windowSize * windowSize
	tail := size - windowSize
	if tail < 0 {
		tail = 0
	}

	offsets := []int64{head}
	if mid != head && mid != tail {
		offsets = append(offsets, mid)
	}
	if tail != head {
		offsets = append(offsets, tail)
	}
	return offsets
}

// foldXXHash packs two independent 64-bit xxhash sums into a 32-byte
// Hash, zero-padding the unused high bytes. The sparse hash only needs
// 128 bits of collision resistance (it is a pre-filter, not an
// identity); the padding keeps SparseHash and FullHash interchangeable
// at the type level while remaining incomparable in value.
func foldXXHash(a, b uint64) types.Hash {
	var h types.Hash
	binary.BigEndian.PutUint64(h[0:8], a)
	binary.BigEndian.PutUint64(h[8:16], b)
	return h
}

// FullHash streams the entire file through SHA-256 in streamBufSize
// chunks. Its result is the file's content identity: outside of
// paranoid mode, equal FullHash values are accepted as equal content.
func FullHash(path string) (types.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Hash{}, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, streamBufSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return types.Hash{}, err
	}

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}
