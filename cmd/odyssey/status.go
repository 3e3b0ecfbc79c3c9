package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odysseyhq/odyssey/pkg/engine"
	"github.com/odysseyhq/odyssey/pkg/surface"
)

func newStatusCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show the replay-derived status of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), rootOpts, args[0])
		},
	}
}

func runStatus(ctx context.Context, opts *rootOptions, executionID string) error {
	cfg, err := loadConfig(opts)
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
	ec, err := surface.Replay(executionID, records)
	if err != nil {
		return fmt.Errorf("replay %s: %w", executionID, err)
	}
	return printReport(opts.Format, engine.StatusReport{
		ExecutionID: executionID,
		Status:      ec.Status,
		Reason:      ec.Reason,
		Frontier:    ec.Frontier,
		RecordCount: ec.RecordCount,
		CreatedAt:   ec.CreatedAt,
		UpdatedAt:   ec.UpdatedAt,
	})
}
