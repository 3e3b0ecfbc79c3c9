// Command odyssey runs journeys against an embedded execution engine and
// inspects the resulting ledgers and telemetry aggregates.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	ConfigFile string
	Format     string // "text" | "json"
	Verbose    bool
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "odyssey",
		Short: "Agentic journey execution engine",
		Long: `Odyssey executes journeys (intent graphs) with pluggable agents and
connectors, recording every step on an append-only state surface.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if opts.Format == f {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(newSubmitCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newLedgerCommand(opts))
	cmd.AddCommand(newTowersCommand(opts))

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
