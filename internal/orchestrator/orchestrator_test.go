package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/imprintfs/imprint/internal/scanner"
	"github.com/imprintfs/imprint/internal/state"
	"github.com/imprintfs/imprint/internal/types"
	"github.com/imprintfs/imprint/internal/vault"
)

func newTestOrchestrator(t *testing.T, opts Options) (*Orchestrator, *state.Store, *vault.Vault) {
	t.Helper()
	dir := t.TempDir()

	st, err := state.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	v := vault.New(filepath.Join(dir, "vault"))
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	return New(st, v, opts, nil), st, v
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func scanDir(t *testing.T, root string) map[int64][]*types.FileInfo {
	t.Helper()
	return scanner.New([]string{root}, 0, nil, 2, false, nil).Run()
}

// S1 - Trivial duplicate.
func TestScanGroupsIdenticalFiles(t *testing.T) {
	root := t.TempDir()
	content := make([]byte, 1<<20)
	for i := range content {
		content[i] = 0x41
	}
	writeFile(t, filepath.Join(root, "a.bin"), content)
	writeFile(t, filepath.Join(root, "b.bin"), content)

	o, _, _ := newTestOrchestrator(t, Options{})
	groups, err := o.Scan(scanDir(t, root))
	if err != nil {
		t.Fatal(err)
	}

	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(groups))
	}
	for _, paths := range groups {
		if len(paths) != 2 {
			t.Errorf("expected group of size 2, got %d", len(paths))
		}
	}
}

// S2 - Near-duplicate: equal size, differing tail, same head/middle.
func TestScanNearDuplicateProducesNoGroup(t *testing.T) {
	root := t.TempDir()
	size := 1 << 20
	a := make([]byte, size)
	for i := range a {
		a[i] = 0x41
	}
	b := make([]byte, size)
	copy(b, a)
	b[size-1] = 0x42

	writeFile(t, filepath.Join(root, "a.bin"), a)
	writeFile(t, filepath.Join(root, "b.bin"), b)

	o, _, _ := newTestOrchestrator(t, Options{})
	groups, err := o.Scan(scanDir(t, root))
	if err != nil {
		t.Fatal(err)
	}

	if len(groups) != 0 {
		t.Errorf("expected no duplicate groups for tail-diverging files, got %d", len(groups))
	}
}

func TestScanSkipsVaultedInodes(t *testing.T) {
	root := t.TempDir()
	content := []byte("duplicate content, above the inline threshold padding padding padding")
	pathA := filepath.Join(root, "a.bin")
	pathB := filepath.Join(root, "b.bin")
	writeFile(t, pathA, content)
	writeFile(t, pathB, content)

	o, st, _ := newTestOrchestrator(t, Options{})

	infoA, err := os.Stat(pathA)
	if err != nil {
		t.Fatal(err)
	}
	ino := inodeOf(infoA)
	if err := st.MarkInodeVaulted(ino); err != nil {
		t.Fatal(err)
	}

	groups, err := o.Scan(scanDir(t, root))
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 0 {
		t.Errorf("expected the vaulted inode's file to be excluded, leaving no group, got %d", len(groups))
	}
}

// A state-store failure consulting IsInodeVaulted is run-fatal (§7's
// "Run-fatal | State store unavailable" row), not a per-file skip: it
// must abort Scan rather than being logged and dropped.
func TestScanAbortsOnStateStoreFailure(t *testing.T) {
	root := t.TempDir()
	content := []byte("duplicate content for a store-failure scan test, padded a bit")
	writeFile(t, filepath.Join(root, "a.bin"), content)
	writeFile(t, filepath.Join(root, "b.bin"), content)

	o, st, _ := newTestOrchestrator(t, Options{})
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := o.Scan(scanDir(t, root)); err == nil {
		t.Fatal("expected Scan to abort when the state store is unavailable")
	}
}

func TestScanDiscardsSingletonBuckets(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "unique.bin"), []byte("only one of these"))

	o, _, _ := newTestOrchestrator(t, Options{})
	groups, err := o.Scan(scanDir(t, root))
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 0 {
		t.Errorf("expected no groups for a singleton file, got %d", len(groups))
	}
}
