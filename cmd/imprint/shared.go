package main

import (
	"fmt"
	"os"

	"github.com/imprintfs/imprint/internal/orchestrator"
	"github.com/imprintfs/imprint/internal/scanner"
	"github.com/imprintfs/imprint/internal/state"
	"github.com/imprintfs/imprint/internal/types"
	"github.com/imprintfs/imprint/internal/vault"
)

// scanOptions holds the flags shared by both subcommands.
type scanOptions struct {
	minSizeStr string
	excludes   []string
	workers    int
	noProgress bool
}

// drainErrors consumes errors from a channel and writes them to stderr.
// Clears progress bar line before printing to avoid visual collision.
func drainErrors(errs <-chan error) {
	for err := range errs {
		fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
	}
}

// openStoreAndVault opens the per-user state store and vault at their
// fixed default locations (§6).
func openStoreAndVault() (*state.Store, *vault.Vault, error) {
	st, err := state.OpenDefault()
	if err != nil {
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}

	vaultRoot, err := vault.DefaultRoot()
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("resolve vault root: %w", err)
	}

	return st, vault.New(vaultRoot), nil
}

// runScanPhase scans paths and returns the duplicate groups found, driving
// the shared scan phase both subcommands build on.
func runScanPhase(paths []string, opts *scanOptions, o *orchestrator.Orchestrator, errCh chan error) (map[types.Hash][]*types.FileInfo, error) {
	minSize, err := parseSize(opts.minSizeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --min-size: %w", err)
	}
	if err := validateGlobPatterns(opts.excludes); err != nil {
		return nil, fmt.Errorf("invalid --exclude: %w", err)
	}

	buckets := scanner.New(paths, minSize, opts.excludes, opts.workers, !opts.noProgress, errCh).Run()
	return o.Scan(buckets)
}

// printSummary emits the one-line "<mode> complete. duplicate groups: N"
// line recovered from original_source's print_summary, extended to cover
// both scan and dedupe (§6 only names it for scan).
func printSummary(mode string, groups map[types.Hash][]*types.FileInfo) {
	n := 0
	for _, paths := range groups {
		if len(paths) > 1 {
			n++
		}
	}
	fmt.Printf("%s complete. duplicate groups: %d\n", mode, n)
}
