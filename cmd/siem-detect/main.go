// Package main provides the siem-detect command: it lists, validates and
// tests the built-in detection rules and evaluates events against them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

// errFailed signals a non-zero exit after the command already reported why.
var errFailed = errors.New("failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "siem-detect",
		Short:         "Detection rule engine",
		Long:          "siem-detect stages the built-in detection rules, applies override documents and evaluates events.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default $SIEM_DETECT_CONFIG or configs/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringSliceVar(&opts.rules, "rule", nil, "rule ID glob to select, repeatable")
	flags.StringSliceVar(&opts.logTypes, "log-type", nil, "log type to select, repeatable")
	flags.StringSliceVar(&opts.severities, "severity", nil, "default severity to select, repeatable")
	flags.BoolVar(&opts.noOverride, "no-overrides", false, "skip override documents")

	root.AddCommand(
		newListCmd(opts),
		newValidateCmd(opts),
		newTestCmd(opts),
		newEvalCmd(opts),
		newOverridesCmd(opts),
	)
	return root
}
