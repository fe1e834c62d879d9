package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/imprintfs/imprint/internal/orchestrator"
)

// newScanCmd creates the scan subcommand (§6): runs the scan phase only
// and prints a one-line summary of the duplicate groups found.
func newScanCmd() *cobra.Command {
	opts := &scanOptions{
		minSizeStr: "1",
		workers:    runtime.NumCPU(),
	}

	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Find duplicate files without modifying anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runScan(args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel workers")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")

	return cmd
}

func runScan(paths []string, opts *scanOptions) error {
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
	}, errCh)

	groups, err := runScanPhase(paths, opts, o, errCh)
	if err != nil {
		return err
	}

	printSummary("scan", groups)
	return nil
}
