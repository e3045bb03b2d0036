package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"siem-detect/internal/harness"
	"siem-detect/internal/registry"
	"siem-detect/internal/rule"
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the selected rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			printRules(cmd.OutOrStdout(), a.manager.Rules())
			return nil
		},
	}
}

func printRules(w io.Writer, rules []*rule.Rule) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-45s  %-9s  %9s  %8s  %s",
		"RULE", "SEVERITY", "THRESHOLD", "DEDUP", "LOG TYPES")))
	for _, r := range rules {
		sev := fmt.Sprintf("%-9s", r.DefaultSeverity)
		id := fmt.Sprintf("%-45s", r.ID)
		if !r.Enabled {
			id = mutedStyle.Render(id)
		}
		fmt.Fprintf(w, "%s  %s  %9d  %8s  %s\n",
			id, severityStyle(r.DefaultSeverity.String()).Render(sev),
			r.Threshold, r.DedupPeriod, strings.Join(r.LogTypes, ", "))
	}
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d rule(s)", len(rules))))
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the selected rules after overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if validateRules(cmd.OutOrStdout(), a.manager.Rules()) > 0 {
				return errFailed
			}
			return nil
		},
	}
}

// validateRules validates and registers every rule, reporting each one. It
// returns the number of invalid rules.
func validateRules(w io.Writer, rules []*rule.Rule) int {
	reg := registry.New()
	invalid := 0
	for _, r := range rules {
		if err := reg.Register(r); err != nil {
			fmt.Fprintf(w, "  %s  %s: %v\n", failStyle.Render("FAIL"), r.ID, err)
			invalid++
			continue
		}
		fmt.Fprintf(w, "  %s  %s\n", passStyle.Render("OK  "), r.ID)
	}
	fmt.Fprintf(w, "\nResults: %d rules checked, %d valid, %d invalid\n", len(rules), len(rules)-invalid, invalid)
	return invalid
}

func newTestCmd(opts *options) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the tests declared on the selected rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Harness.Timeout)
			defer cancel()

			runner := harness.NewRunner(a.logger)
			results, err := runner.RunAll(ctx, a.manager.Rules(), a.cfg.Harness.Workers)
			if err != nil {
				return fmt.Errorf("test run interrupted: %w", err)
			}
			if printResults(cmd.OutOrStdout(), results, verbose).Failed > 0 {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show passing tests")
	return cmd
}

// printResults reports failed tests, and passing ones when verbose, then a
// summary line.
func printResults(w io.Writer, results []harness.Result, verbose bool) harness.Summary {
	for _, res := range results {
		name := res.RuleID + " / " + res.TestName
		if res.Passed {
			if verbose {
				fmt.Fprintf(w, "  %s  %s %s\n", passStyle.Render("PASS"), name,
					mutedStyle.Render(res.Duration.Round(time.Microsecond).String()))
			}
			continue
		}
		fmt.Fprintf(w, "  %s  %s\n", failStyle.Render("FAIL"), name)
		for _, line := range strings.Split(res.Err().Error(), "\n") {
			fmt.Fprintf(w, "        %s\n", line)
		}
	}

	s := harness.Summarize(results)
	status := passStyle.Render("PASSED")
	if s.Failed > 0 {
		status = failStyle.Render("FAILED")
	}
	fmt.Fprintf(w, "\n%s %s\n", titleStyle.Render("Results:"),
		fmt.Sprintf("%s  %d tests, %d passed, %d failed (%d invalid configuration)",
			status, s.Total, s.Passed, s.Failed, s.ConfigErrors))
	return s
}
