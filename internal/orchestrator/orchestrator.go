// Package orchestrator drives the scan-and-dedup pipeline end to end: it
// owns the staged reduction from size buckets to duplicate groups (§4.6's
// scan phase), and the vault-promotion-then-link dedup phase that follows.
//
// Work fans out within one unit of work (a size bucket, a sparse group)
// through a bounded worker pool, and the driver stays sequential across
// units so progress accounting and regrouping stay linearizable (§5).
// Every stage still produces correct results at workers=1.
package orchestrator

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/imprintfs/imprint/internal/hasher"
	"github.com/imprintfs/imprint/internal/progress"
	"github.com/imprintfs/imprint/internal/state"
	"github.com/imprintfs/imprint/internal/types"
	"github.com/imprintfs/imprint/internal/vault"
)

// Options configures an Orchestrator's behavior across both the scan and
// dedup phases.
type Options struct {
	Workers      int
	ShowProgress bool
	Verbose      bool
	Paranoid     bool
	DryRun       bool
}

// Orchestrator is the C6 pipeline driver described in §4.6. Single-use:
// create with New, call Scan then optionally Dedupe.
type Orchestrator struct {
	store *state.Store
	vault *vault.Vault
	opts  Options
	errCh chan error
}

// New returns an Orchestrator backed by store and vlt.
func New(store *state.Store, vlt *vault.Vault, opts Options, errCh chan error) *Orchestrator {
	return &Orchestrator{store: store, vault: vlt, opts: opts, errCh: errCh}
}

func (o *Orchestrator) sendError(err error) {
	if o.errCh != nil {
		o.errCh <- err
	}
}

// scanStats tracks progress through the sparse/full hashing tiers.
type scanStats struct {
	sizeBuckets    int
	sparseDone     int
	sparseGroups   int
	fullDone       int
	duplicateFiles int
	startTime      time.Time
}

func (s *scanStats) String() string {
	return fmt.Sprintf("Sparse-hashed %d/%d size buckets, full-hashed %d files, found %d duplicate files in %.1fs",
		s.sparseDone, s.sizeBuckets, s.fullDone, s.duplicateFiles, time.Since(s.startTime).Seconds())
}

// Scan runs the full scan phase (§4.6): prune singleton size buckets,
// sparse-hash survivors skipping already-vaulted inodes, regroup by sparse
// hash and prune again, full-hash the survivors and regroup by full hash.
// Every full-hash group of size ≥ 2 gets an initial CASRefcount equal to
// its size; Dedupe overwrites this with the count of links that actually
// succeed.
func (o *Orchestrator) Scan(buckets map[int64][]*types.FileInfo) (map[types.Hash][]*types.FileInfo, error) {
	st := &scanStats{startTime: time.Now()}
	for _, files := range buckets {
		if len(files) >= 2 {
			st.sizeBuckets++
		}
	}

	bar := progress.New(o.opts.ShowProgress, -1)
	bar.Describe(st)

	fullGroups := make(map[types.Hash][]*types.FileInfo)

	for _, files := range buckets {
		if len(files) < 2 {
			continue
		}

		sparseGroups, err := o.sparseHashBucket(files)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		st.sparseDone++
		st.sparseGroups += len(sparseGroups)
		bar.Describe(st)

		for _, group := range sparseGroups {
			if len(group) < 2 {
				// §9 open question: collapsed sparse groups are skipped
				// before paying for a pointless full-hash pass.
				continue
			}

			hashed, err := o.fullHashGroup(group)
			if err != nil {
				return nil, fmt.Errorf("orchestrator: full hash: %w", err)
			}
			st.fullDone += len(group)
			bar.Describe(st)

			for h, paths := range hashed {
				fullGroups[h] = append(fullGroups[h], paths...)
			}
		}
	}

	for hash, paths := range fullGroups {
		if len(paths) < 2 {
			delete(fullGroups, hash)
			continue
		}
		st.duplicateFiles += len(paths)
		if !o.opts.DryRun {
			if err := o.store.SetCASRefcount(hash, uint64(len(paths))); err != nil {
				return nil, fmt.Errorf("orchestrator: set initial refcount: %w", err)
			}
		}
	}

	bar.Finish(st)
	return fullGroups, nil
}

// sparseHashBucket sparse-hashes every member of a size bucket in
// parallel, skipping paths whose inode is already known vaulted, and
// regroups the survivors by sparse hash.
//
// A failure consulting the state store (IsInodeVaulted) is run-fatal
// per §7's "Run-fatal | State store unavailable" row: an inconsistency
// between disk and store would otherwise accumulate silently, so the
// first such failure aborts the bucket and is returned rather than
// routed through errCh as a transient per-file error.
func (o *Orchestrator) sparseHashBucket(files []*types.FileInfo) ([][]*types.FileInfo, error) {
	type result struct {
		hash types.Hash
		file *types.FileInfo
		ok   bool
	}

	var mu sync.Mutex
	var fatalErr error

	results := parallelMap(files, o.opts.Workers, func(f *types.FileInfo) result {
		vaulted, err := o.store.IsInodeVaulted(f.Ino)
		if err != nil {
			mu.Lock()
			if fatalErr == nil {
				fatalErr = fmt.Errorf("state store: is inode vaulted (%s): %w", f.Path, err)
			}
			mu.Unlock()
			return result{}
		}
		if vaulted {
			return result{}
		}

		h, err := hasher.SparseHash(f.Path, f.Size)
		if err != nil {
			o.sendError(fmt.Errorf("%s: %w", f.Path, err))
			return result{}
		}
		return result{hash: h, file: f, ok: true}
	})

	if fatalErr != nil {
		return nil, fatalErr
	}

	buckets := make(map[types.Hash][]*types.FileInfo)
	for _, r := range results {
		if r.ok {
			buckets[r.hash] = append(buckets[r.hash], r.file)
		}
	}

	groups := make([][]*types.FileInfo, 0, len(buckets))
	for _, group := range buckets {
		groups = append(groups, group)
	}
	return groups, nil
}

// fullHashGroup full-hashes every member of a sparse group in parallel,
// upserts a FileRecord for each, and regroups by full hash.
//
// A failure upserting a FileRecord is run-fatal for the same reason as
// sparseHashBucket's IsInodeVaulted check: §7 treats state-store
// unavailability as fatal to the whole run, not a per-file skip.
func (o *Orchestrator) fullHashGroup(files []*types.FileInfo) (map[types.Hash][]*types.FileInfo, error) {
	type result struct {
		hash types.Hash
		file *types.FileInfo
		ok   bool
	}

	var mu sync.Mutex
	var fatalErr error

	results := parallelMap(files, o.opts.Workers, func(f *types.FileInfo) result {
		h, err := hasher.FullHash(f.Path)
		if err != nil {
			o.sendError(fmt.Errorf("%s: %w", f.Path, err))
			return result{}
		}

		info, err := os.Stat(f.Path)
		if err != nil {
			o.sendError(fmt.Errorf("%s: %w", f.Path, err))
			return result{}
		}

		if !o.opts.DryRun {
			rec := types.FileRecord{Size: info.Size(), Modified: info.ModTime().Unix(), FullHash: h}
			if err := o.store.UpsertFile(f.Path, rec); err != nil {
				mu.Lock()
				if fatalErr == nil {
					fatalErr = fmt.Errorf("state store: upsert file (%s): %w", f.Path, err)
				}
				mu.Unlock()
				return result{}
			}
		}

		return result{hash: h, file: f, ok: true}
	})

	if fatalErr != nil {
		return nil, fatalErr
	}

	groups := make(map[types.Hash][]*types.FileInfo)
	for _, r := range results {
		if r.ok {
			groups[r.hash] = append(groups[r.hash], r.file)
		}
	}
	return groups, nil
}

// parallelMap runs fn over items using a bounded worker pool (§5: hashing
// of distinct files within one unit runs in parallel; the driver stays
// sequential across units). Order of the returned slice matches items.
func parallelMap[T any](items []*types.FileInfo, workers int, fn func(*types.FileInfo) T) []T {
	sem := types.NewSemaphore(workers)
	results := make([]T, len(items))

	done := make(chan struct{}, len(items))
	for i, item := range items {
		sem.Acquire()
		go func(i int, item *types.FileInfo) {
			defer sem.Release()
			defer func() { done <- struct{}{} }()
			results[i] = fn(item)
		}(i, item)
	}
	for range items {
		<-done
	}
	return results
}
