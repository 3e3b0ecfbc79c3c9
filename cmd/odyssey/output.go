package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/odysseyhq/odyssey/pkg/engine"
	"github.com/odysseyhq/odyssey/pkg/surface"
	"github.com/odysseyhq/odyssey/pkg/telemetry"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func printReport(format string, r engine.StatusReport) error {
	if format == "json" {
		return printJSON(r)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "execution\t%s\n", r.ExecutionID)
	fmt.Fprintf(w, "status\t%s\n", r.Status)
	if r.Reason != "" {
		fmt.Fprintf(w, "reason\t%s\n", r.Reason)
	}
	fmt.Fprintf(w, "records\t%d\n", r.RecordCount)
	if len(r.Frontier) > 0 {
		fmt.Fprintf(w, "completed\t%v\n", r.Frontier)
	}
	fmt.Fprintf(w, "updated\t%s\n", r.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
	return w.Flush()
}

func printRecords(format string, records []surface.Record) error {
	if format == "json" {
		return printJSON(records)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTRANSITION\tPHASE\tINTENT\tACTOR\tREASON\tAT")
	for _, r := range records {
		prior := string(r.PriorState)
		if prior == "" {
			prior = "-"
		}
		fmt.Fprintf(w, "%d\t%s->%s\t%s\t%s\t%s\t%s\t%s\n",
			r.SequenceNo, prior, r.NewState,
			orDash(string(r.Phase)), orDash(r.IntentID), r.Actor,
			orDash(string(r.Reason)),
			r.Timestamp.Format("15:04:05.000"))
	}
	return w.Flush()
}

func printAggregates(format string, aggs []telemetry.Aggregate) error {
	if format == "json" {
		return printJSON(aggs)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tMETRIC\tCOUNT\tMEAN\tMIN\tMAX\tLAST")
	for _, a := range aggs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.3f\t%.3f\t%.3f\t%.3f\n",
			a.Component, a.Metric, a.Count, a.Mean(), a.Min, a.Max, a.Last)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
