package hasher

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// TestSparseEqualsFullForSmallFiles is Testable Property 5: for all
// files <= 64KiB, SparseHash must equal FullHash exactly.
func TestSparseEqualsFullForSmallFiles(t *testing.T) {
	dir := t.TempDir()
	sizes := []int{0, 1, 100, 65536}

	for _, size := range sizes {
		content := make([]byte, size)
		for i := range content {
			content[i] = byte(i)
		}
		path := writeFile(t, dir, "f", content)

		sparse, err := SparseHash(path, int64(size))
		if err != nil {
			t.Fatalf("size %d: SparseHash: %v", size, err)
		}
		full, err := FullHash(path)
		if err != nil {
			t.Fatalf("size %d: FullHash: %v", size, err)
		}
		if sparse != full {
			t.Errorf("size %d: SparseHash != FullHash", size)
		}
	}
}

func TestSparseHashDiffersOnTailChange(t *testing.T) {
	dir := t.TempDir()
	size := 2 * windowSize

	a := make([]byte, size)
	for i := range a {
		a[i] = 0x41
	}
	b := make([]byte, size)
	copy(b, a)
	b[len(b)-1] = 0x42 // only the tail byte differs

	pathA := writeFile(t, dir, "a", a)
	pathB := writeFile(t, dir, "b", b)

	hashA, err := SparseHash(pathA, int64(size))
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := SparseHash(pathB, int64(size))
	if err != nil {
		t.Fatal(err)
	}
	if hashA == hashB {
		t.Error("SparseHash did not distinguish files differing only in the tail window")
	}
}

func TestSparseHashIgnoresMiddleDivergenceOutsideWindows(t *testing.T) {
	dir := t.TempDir()
	size := 10 * windowSize

	a := make([]byte, size)
	for i := range a {
		a[i] = 0x41
	}
	b := make([]byte, size)
	copy(b, a)
	// Flip a byte well outside head/middle/tail windows.
	b[size/4] = 0x42

	pathA := writeFile(t, dir, "a", a)
	pathB := writeFile(t, dir, "b", b)

	hashA, err := SparseHash(pathA, int64(size))
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := SparseHash(pathB, int64(size))
	if err != nil {
		t.Fatal(err)
	}
	if hashA != hashB {
		t.Error("SparseHash diverged on a byte outside its probe windows")
	}
}

func TestFullHashDetectsAnyDifference(t *testing.T) {
	dir := t.TempDir()
	size := 10 * windowSize

	a := make([]byte, size)
	b := make([]byte, size)
	copy(b, a)
	b[size/4] = 0x01

	pathA := writeFile(t, dir, "a", a)
	pathB := writeFile(t, dir, "b", b)

	hashA, err := FullHash(pathA)
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := FullHash(pathB)
	if err != nil {
		t.Fatal(err)
	}
	if hashA == hashB {
		t.Error("FullHash did not detect a single-byte difference")
	}
}

func TestFullHashDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f", []byte("hello world"))

	h1, err := FullHash(path)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := FullHash(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("FullHash is not deterministic across calls")
	}
}
