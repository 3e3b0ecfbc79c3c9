package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/odysseyhq/odyssey/pkg/telemetry"
)

type towersOptions struct {
	*rootOptions
	Window time.Duration
}

func newTowersCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &towersOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "towers",
		Short: "Aggregate recent ledger activity per actor and state",
		Long: `Replay state records from the recent window through a control tower and
print the aggregates: records written per actor and terminal states reached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTowers(cmd.Context(), opts)
		},
	}
	cmd.Flags().DurationVar(&opts.Window, "window", 5*time.Minute, "aggregation window")
	return cmd
}

func runTowers(ctx context.Context, opts *towersOptions) error {
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

	now := time.Now()
	records, err := surf.ReadRange(ctx, now.Add(-opts.Window), now)
	if err != nil {
		return err
	}

	tower := telemetry.NewControlTower(telemetry.TowerConfig{MaxWindow: opts.Window})
	for _, r := range records {
		tower.Ingest(telemetry.Event{
			ComponentID: r.Actor,
			ExecutionID: r.ExecutionID,
			Metric:      "surface.records",
			Value:       1,
			Unit:        "count",
			Timestamp:   r.Timestamp,
		})
		if r.NewState.Terminal() {
			tower.Ingest(telemetry.Event{
				ComponentID: r.Actor,
				ExecutionID: r.ExecutionID,
				Metric:      "surface.terminal." + string(r.NewState),
				Value:       1,
				Unit:        "count",
				Timestamp:   r.Timestamp,
			})
		}
	}
	return printAggregates(opts.Format, tower.Snapshot(opts.Window))
}
