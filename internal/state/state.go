// Package state provides the durable per-user state store described in
// §4.3: three logical tables - File, VaultedInode and CASRefcount -
// backed by a single BoltDB (go.etcd.io/bbolt) database file.
//
// No transaction spans multiple of the exported operations: the core
// tolerates a crash mid-run because the filesystem-level protocol
// (internal/dedupe, internal/vault) is already crash-safe on its own.
// The store only accelerates subsequent runs; it is never the source
// of truth for what's actually on disk.
package state

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/imprintfs/imprint/internal/types"
)

const (
	filesBucket   = "files"
	vaultedBucket = "vaulted_inodes"
	refcntBucket  = "cas_refcount"
)

// Store is a durable key/value facility over the three tables in §3.
type Store struct {
	db *bolt.DB
}

// DefaultPath returns the fixed per-user location OpenDefault uses:
// $XDG_STATE_HOME/imprint/state.db, falling back to
// ~/.local/state/imprint/state.db.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "imprint", "state.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("state: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "imprint", "state.db"), nil
}

// OpenDefault opens or creates the store at DefaultPath. Idempotent:
// calling it repeatedly (even concurrently, across processes) is safe
// because BoltDB serializes access to the underlying file with a flock.
func OpenDefault() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// Open opens or creates the store at path, creating parent directories
// as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state: create state dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{filesBucket, vaultedBucket, refcntBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state: create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertFile overwrites the prior FileRecord for path, if any. Atomic
// with respect to concurrent readers within the process (BoltDB
// transactions).
func (s *Store) UpsertFile(path string, rec types.FileRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(filesBucket))
		return b.Put([]byte(path), encodeFileRecord(rec))
	})
}

// LookupFile returns the stored FileRecord for path, if any. The
// second return value is false when no record exists.
func (s *Store) LookupFile(path string) (types.FileRecord, bool, error) {
	var rec types.FileRecord
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(filesBucket))
		data := b.Get([]byte(path))
		if data == nil {
			return nil
		}
		decoded, err := decodeFileRecord(data)
		if err != nil {
			return err
		}
		rec = decoded
		found = true
		return nil
	})
	return rec, found, err
}

// IsInodeVaulted reports whether ino is known to already point, via
// hard link, into the vault.
func (s *Store) IsInodeVaulted(ino uint64) (bool, error) {
	var vaulted bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(vaultedBucket))
		vaulted = b.Get(inodeKey(ino)) != nil
		return nil
	})
	return vaulted, err
}

// MarkInodeVaulted idempotently records that ino now points into the
// vault.
func (s *Store) MarkInodeVaulted(ino uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(vaultedBucket))
		return b.Put(inodeKey(ino), []byte{1})
	})
}

// SetCASRefcount overwrites the refcount for hash. n may be 0.
func (s *Store) SetCASRefcount(hash types.Hash, n uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(refcntBucket))
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], n)
		return b.Put(hash[:], buf[:])
	})
}

// CASRefcount returns the stored refcount for hash, or 0 if unset.
func (s *Store) CASRefcount(hash types.Hash) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(refcntBucket))
		data := b.Get(hash[:])
		if len(data) == 8 {
			n = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	return n, err
}

func inodeKey(ino uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], ino)
	return buf[:]
}

// encodeFileRecord packs a FileRecord as size(8) + modified(8) + hash(HashSize).
func encodeFileRecord(rec types.FileRecord) []byte {
	buf := make([]byte, 16+types.HashSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(rec.Size))
	binary.BigEndian.PutUint64(buf[8:16], uint64(rec.Modified))
	copy(buf[16:], rec.FullHash[:])
	return buf
}

func decodeFileRecord(data []byte) (types.FileRecord, error) {
	if len(data) != 16+types.HashSize {
		return types.FileRecord{}, fmt.Errorf("state: corrupt file record (%d bytes)", len(data))
	}
	rec := types.FileRecord{
		Size:     int64(binary.BigEndian.Uint64(data[0:8])),
		Modified: int64(binary.BigEndian.Uint64(data[8:16])),
	}
	copy(rec.FullHash[:], data[16:])
	return rec, nil
}
