// Package vault implements the content-addressed store that holds one
// canonical copy of each distinct file content (§4.4).
//
// A vault object's path is derived deterministically from its content
// Hash via ShardPath, fanned out two directory levels deep (256
// first-level directories, each with up to 256 second-level ones) so
// objects spread across up to 256*256 leaf directories under heavy use. Promotion (EnsureInVault) is idempotent
// and never overwrites an existing vault object in place: two
// concurrent promotions of the same hash both converge on the same
// rename-into-place post-condition.
package vault

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/imprintfs/imprint/internal/types"
)

// Vault is a content-addressed on-disk directory.
type Vault struct {
	root string
}

// renameFn performs the rename EnsureInVault uses to promote a source
// file into the vault. It is a package variable so tests can substitute
// a fake that fails with syscall.EXDEV, exercising the copy-then-remove
// fallback without needing two real filesystems.
var renameFn = os.Rename

// New returns a Vault rooted at dir. dir is created lazily by the
// first promotion, not by New.
func New(dir string) *Vault {
	return &Vault{root: dir}
}

// DefaultRoot returns the fixed per-user vault directory (§6):
// $XDG_DATA_HOME/imprint/vault, falling back to ~/.local/share/imprint/vault.
func DefaultRoot() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "imprint", "vault"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("vault: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "imprint", "vault"), nil
}

// Root returns the vault's root directory.
func (v *Vault) Root() string { return v.root }

// ShardPath returns the path a vault object for hash would live at:
// <root>/<hex[0:2]>/<hex[2:4]>/<hex>.
func (v *Vault) ShardPath(hash types.Hash) string {
	hexHash := hex.EncodeToString(hash[:])
	return filepath.Join(v.root, hexHash[0:2], hexHash[2:4], hexHash)
}

// EnsureInVault idempotently promotes sourcePath into the vault under
// hash's shard path. If the target already exists, it is returned
// unchanged and sourcePath is removed (unless it is the target itself);
// nothing is written to the vault. Otherwise sourcePath is moved
// (renamed) into place; if source and vault are on different devices,
// rename fails with EXDEV and EnsureInVault falls back to copy then
// remove-source, preserving the "source path no longer exists
// afterward" postcondition (§4.4).
//
// The vault object is never overwritten once created: a concurrent
// promotion that loses the rename-into-place race simply discovers
// the winner's object already present.
func (v *Vault) EnsureInVault(hash types.Hash, sourcePath string) (string, error) {
	target := v.ShardPath(hash)

	if _, err := os.Stat(target); err == nil {
		// Already vaulted by this or a prior run; drop our redundant
		// source copy so the caller's link-replacement step (§4.5)
		// still finds nothing in its way.
		if sourcePath != target {
			_ = os.Remove(sourcePath)
		}
		return target, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("vault: stat %s: %w", target, err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("vault: create shard dir: %w", err)
	}

	if err := renameFn(sourcePath, target); err == nil {
		return target, nil
	} else if !isCrossDevice(err) {
		// Another promotion may have won the race between our Stat
		// and our Rename; that's success from our point of view.
		if _, statErr := os.Stat(target); statErr == nil {
			_ = os.Remove(sourcePath)
			return target, nil
		}
		return "", fmt.Errorf("vault: move into vault: %w", err)
	}

	if err := copyThenRemove(sourcePath, target); err != nil {
		return "", fmt.Errorf("vault: copy into vault: %w", err)
	}
	return target, nil
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}

// copyThenRemove copies src to a temp file beside dst, renames it into
// place, and removes src. Used when the vault and the source tree
// live on different devices, where rename(2) cannot be atomic across
// the whole move - the copy is not linearizable with a competing
// promotion, but EnsureInVault's caller only ever acts on the returned
// path, so a redundant copy that loses the race is simply discarded.
func copyThenRemove(src, dst string) error {
	tmp := dst + ".vault_tmp"
	_ = os.Remove(tmp)

	if err := copyFile(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		if _, statErr := os.Stat(dst); statErr == nil {
			// Lost the race to a concurrent promotion; that's fine.
			_ = os.Remove(src)
			return nil
		}
		return err
	}
	_ = os.Remove(src)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
