package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/imprintfs/imprint/internal/orchestrator"
)

// dedupeOptions holds CLI flags for the dedupe command.
type dedupeOptions struct {
	scanOptions
	verbose  bool
	dryRun   bool
	paranoid bool
}

// newDedupeCmd creates the dedupe subcommand (§6): runs scan then dedup.
// --paranoid enables byte-for-byte verification before any replacement;
// --dry-run suppresses all filesystem and state-store mutations.
func newDedupeCmd() *cobra.Command {
	opts := &dedupeOptions{
		scanOptions: scanOptions{
			minSizeStr: "1",
			workers:    runtime.NumCPU(),
		},
	}

	cmd := &cobra.Command{
		Use:   "dedupe [paths...]",
		Short: "Find duplicates and replace them with links into a content-addressed vault",
		Long: `Scans for duplicates and replaces them with copy-on-write reflinks
(hard links as a fallback) to a single canonical copy kept in the vault.

Use --paranoid to verify byte-for-byte equality against the vault object
before every replacement. Use --dry-run to preview without making changes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runDedupe(args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel workers")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show individual link replacements")
	cmd.Flags().BoolVarP(&opts.dryRun, "dry-run", "n", false, "Preview changes without executing")
	cmd.Flags().BoolVar(&opts.paranoid, "paranoid", false, "Verify byte-for-byte equality before every replacement")

	return cmd
}

// runDedupe executes the full pipeline: scan, then dedup.
func runDedupe(paths []string, opts *dedupeOptions) error {
	st, v, err := openStoreAndVault()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	errCh := make(chan error, 100)
	go drainErrors(errCh)
	defer close(errCh)

	o := orchestrator.New(st, v, orchestrator.Options{
		Workers:      opts.workers,
		ShowProgress: !opts.noProgress,
		Verbose:      opts.verbose,
		Paranoid:     opts.paranoid,
		DryRun:       opts.dryRun,
	}, errCh)

	groups, err := runScanPhase(paths, &opts.scanOptions, o, errCh)
	if err != nil {
		return err
	}

	if _, err := o.Dedupe(groups); err != nil {
		return err
	}

	printSummary("dedupe", groups)
	return nil
}
