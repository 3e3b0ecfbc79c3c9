package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odysseyhq/odyssey/pkg/surface"
)

type ledgerOptions struct {
	*rootOptions
	Verify bool
}

func newLedgerCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &ledgerOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger <execution-id>",
		Short: "Print the full state record chain of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(cmd.Context(), opts, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.Verify, "verify", true, "verify hash chain integrity")
	return cmd
}

func runLedger(ctx context.Context, opts *ledgerOptions, executionID string) error {
	cfg, err := loadConfig(opts.rootOptions)
	if err != nil {
		return err
	}
	surf, closeSurf, err := openSurface(ctx, cfg)
	if err != nil {
		return err
	}
	if closeSurf != nil {
		defer closeSurf() //nolint:errcheck
	}

	records, err := surf.Read(ctx, executionID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("execution %s: no records", executionID)
	}
	if opts.Verify {
		if err := surface.Verify(records); err != nil {
			return fmt.Errorf("ledger verification failed: %w", err)
		}
	}
	return printRecords(opts.Format, records)
}
