// Package dedupe implements the crash-safety-critical dedup primitive
// from §4.5: ReplaceWithLink atomically swaps a user-visible path for
// a link (copy-on-write reflink, hard link otherwise) pointing at a
// vault object, without ever leaving target missing or partial.
//
// The temp-file cleanup is a scoped resource, adapted from the
// original Rust implementation's TempCleanup guard: it is armed on
// creation and must be disarmed immediately after the rename that
// consumes the temp file succeeds. Every other exit path - including
// an early return on a reflink/hardlink failure - runs the cleanup.
package dedupe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/imprintfs/imprint/internal/reflink"
)

// LinkType distinguishes how ReplaceWithLink joined target to master.
// Hardlinks share an inode with master (the orchestrator marks that
// inode vaulted so future scans skip it); reflinks get an independent
// inode that merely shares extents, so they are not marked.
type LinkType int

const (
	// NoLink means master and target were already the same path.
	NoLink LinkType = iota
	Reflink
	HardLink
)

func (lt LinkType) String() string {
	switch lt {
	case Reflink:
		return "reflink"
	case HardLink:
		return "hardlink"
	default:
		return "no-op"
	}
}

// tempSuffix names the sibling temp file ReplaceWithLink stages its
// clone/hardlink in before the final atomic rename. Any path ending in
// this suffix is suppressed from user-visible output (§6).
const tempSuffix = ".imprint_tmp"

// TempPath returns the staging path ReplaceWithLink uses for target.
func TempPath(target string) string {
	return target + tempSuffix
}

// IsTempPath reports whether path is a ReplaceWithLink staging file.
func IsTempPath(path string) bool {
	return len(path) >= len(tempSuffix) && path[len(path)-len(tempSuffix):] == tempSuffix
}

// tempGuard owns a staging path and removes it on Release unless
// Disarm was called first. Disarm must run immediately after the
// rename that consumes the temp file succeeds, so a later failure
// elsewhere in the caller can't delete the file now sitting at target.
type tempGuard struct {
	path  string
	armed bool
}

func newTempGuard(path string) *tempGuard {
	return &tempGuard{path: path, armed: true}
}

func (g *tempGuard) disarm() {
	g.armed = false
}

func (g *tempGuard) release() {
	if g.armed {
		_ = os.Remove(g.path)
	}
}

// ReplaceWithLink replaces target with a link to master (§4.5):
//
//  1. master == target is a no-op.
//  2. Any stale temp file at target's staging path is removed.
//  3. A reflink clone of master is attempted at the staging path.
//  4. If the reflink fails with an error wrapping reflink.ErrNotSupported,
//     a hard link is attempted instead; any other reflink error is
//     returned without trying a hard link.
//  5. The staging path is renamed over target - a single atomic
//     replace on any supported POSIX filesystem, so readers of target
//     see either the old content or the new content, never absence or
//     a partial file.
//  6. The staging file's cleanup guard is disarmed only after that
//     rename succeeds; every earlier return path removes it.
//
// If target does not exist, ReplaceWithLink still succeeds (the
// "replacement" simply manifests as link creation).
func ReplaceWithLink(master, target string) (LinkType, error) {
	if master == target {
		return NoLink, nil
	}

	temp := TempPath(target)
	_ = os.Remove(temp) // clear any stale temp from a prior crash

	guard := newTempGuard(temp)
	defer guard.release()

	if err := reflink.Clone(master, temp); err == nil {
		if err := os.Rename(temp, target); err != nil {
			return NoLink, fmt.Errorf("dedupe: rename reflink into place: %w", err)
		}
		guard.disarm()
		return Reflink, nil
	} else if !errors.Is(err, reflink.ErrNotSupported) {
		return NoLink, fmt.Errorf("dedupe: reflink: %w", err)
	}

	_ = os.Remove(temp) // reflink may have left a partial file

	if err := os.Link(master, temp); err != nil {
		return NoLink, fmt.Errorf("dedupe: hard link: %w", err)
	}
	if err := os.Rename(temp, target); err != nil {
		return NoLink, fmt.Errorf("dedupe: rename hard link into place: %w", err)
	}
	guard.disarm()
	return HardLink, nil
}

// CompareFiles streams a and b and reports whether their bytes are
// identical. Used by paranoid mode (§4.5, §7's Integrity error kind):
// the full hash is collision-resistant but not collision-proof, so
// paranoid mode trades throughput for a direct byte comparison before
// any replacement.
func CompareFiles(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, fmt.Errorf("dedupe: open %s: %w", a, err)
	}
	defer func() { _ = fa.Close() }()

	fb, err := os.Open(b)
	if err != nil {
		return false, fmt.Errorf("dedupe: open %s: %w", b, err)
	}
	defer func() { _ = fb.Close() }()

	statA, err := fa.Stat()
	if err != nil {
		return false, err
	}
	statB, err := fb.Stat()
	if err != nil {
		return false, err
	}
	if statA.Size() != statB.Size() {
		return false, nil
	}

	const bufSize = 1 << 20
	bufA := make([]byte, bufSize)
	bufB := make([]byte, bufSize)

	for {
		nA, errA := fa.Read(bufA)
		nB, errB := fb.Read(bufB)
		if nA != nB || !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return false, nil
		}

		doneA := errors.Is(errA, io.EOF)
		doneB := errors.Is(errB, io.EOF)
		if doneA && doneB {
			return true, nil
		}
		if doneA != doneB {
			return false, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}
