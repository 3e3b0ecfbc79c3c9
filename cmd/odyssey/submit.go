package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odysseyhq/odyssey/pkg/contracts"
	"github.com/odysseyhq/odyssey/pkg/engine"
)

type submitOptions struct {
	*rootOptions
	SolutionID string
	JourneyID  string
	Input      string
	TenantID   string
	ShowTowers bool
}

func newSubmitCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &submitOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a journey and wait for its terminal state",
		Long: `Submit one execution of a published journey to the embedded engine and
block until it reaches SUCCEEDED, FAILED, or CANCELLED. Ctrl-C requests
cooperative cancellation instead of killing the run.

Example:
  odyssey submit --solution billing --journey invoice-sync --input '{"month":"2026-08"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.SolutionID, "solution", "", "solution id (required)")
	cmd.Flags().StringVar(&opts.JourneyID, "journey", "", "journey id (required)")
	cmd.Flags().StringVar(&opts.Input, "input", "", "input payload as JSON object")
	cmd.Flags().StringVar(&opts.TenantID, "tenant", "", "tenant id for admission control")
	cmd.Flags().BoolVar(&opts.ShowTowers, "towers", false, "print telemetry aggregates after completion")
	_ = cmd.MarkFlagRequired("solution")
	_ = cmd.MarkFlagRequired("journey")

	return cmd
}

func runSubmit(ctx context.Context, opts *submitOptions) error {
	var input map[string]any
	if opts.Input != "" {
		if err := json.Unmarshal([]byte(opts.Input), &input); err != nil {
			return fmt.Errorf("parse --input: %w", err)
		}
	}

	rt, err := newRuntime(ctx, opts.rootOptions)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	executionID, err := rt.engine.Submit(ctx, engine.SubmitRequest{
		TenantID:   opts.TenantID,
		SolutionID: opts.SolutionID,
		JourneyID:  opts.JourneyID,
		Input:      input,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "execution:", executionID)

	report, err := waitForTerminal(ctx, rt, executionID)
	if err != nil {
		return err
	}
	if err := printReport(opts.Format, report); err != nil {
		return err
	}

	if opts.ShowTowers {
		if err := printAggregates(opts.Format, rt.tower.Snapshot(rt.cfg.TowerWindow)); err != nil {
			return err
		}
	}
	if report.Status != contracts.StatusSucceeded {
		return fmt.Errorf("execution %s finished %s (%s)", executionID, report.Status, report.Reason)
	}
	return nil
}

// waitForTerminal follows the ledger until a terminal record lands. On
// interrupt it asks the engine to cancel and keeps following; the terminal
// record always arrives because the engine finalizes cancelled runs too.
func waitForTerminal(ctx context.Context, rt *runtime, executionID string) (engine.StatusReport, error) {
	// Subscribe outlives the interrupt signal on purpose.
	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records, unsubscribe, err := rt.surface.Subscribe(subCtx, executionID)
	if err != nil {
		return engine.StatusReport{}, err
	}
	defer unsubscribe()

	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(os.Stderr, "interrupt: cancelling execution")
			if _, err := rt.engine.Cancel(context.Background(), executionID); err != nil {
				return engine.StatusReport{}, err
			}
		case rec, ok := <-records:
			if !ok {
				return rt.engine.GetStatus(context.Background(), executionID)
			}
			if rec.NewState.Terminal() {
				return rt.engine.GetStatus(context.Background(), executionID)
			}
		}
	}
}
