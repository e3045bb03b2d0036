package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"siem-detect/internal/dedup"
	"siem-detect/internal/engine"
	"siem-detect/internal/registry"
	"siem-detect/internal/schema"
)

const maxLineSize = 1024 * 1024

func newEvalCmd(opts *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "eval [file]",
		Short: "Evaluate newline-delimited event envelopes and print alerts",
		Long: `Reads one JSON envelope per line, {"log_type": ..., "timestamp": ..., "event": {...}},
from file or standard input and prints a JSON decision for every alert raised.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			reg := registry.New()
			if err := a.manager.RegisterAll(reg); err != nil {
				a.logger.Warn("some rules were not registered", "error", err)
			}

			tracker, err := dedup.New(a.cfg.Dedup.Backend, a.cfg.Dedup.Redis)
			if err != nil {
				return err
			}
			if c, ok := tracker.(io.Closer); ok {
				defer c.Close()
			}

			eng := engine.NewEngine(a.cfg.Engine, reg, tracker,
				engine.WithLogger(a.logger),
				engine.WithMetrics(engine.NewMetrics()))

			v := schema.NewValidatorWithConfig(a.cfg.Validation)
			if err := evaluate(cmd.Context(), eng, v, in, cmd.OutOrStdout(), cmd.ErrOrStderr(), all); err != nil {
				return err
			}
			a.logger.Info("evaluation complete", "stats", eng.Stats())
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "print every matched decision, not only alerts")
	return cmd
}

// evaluate processes events in input order so dedup windows follow event
// time. Malformed or invalid lines and per-rule tracker failures are
// reported on errOut; evaluation continues with the next line.
func evaluate(ctx context.Context, eng *engine.Engine, v *schema.Validator, in io.Reader, out, errOut io.Writer, all bool) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		event, err := schema.ParseEnvelope(data)
		if err == nil {
			err = v.Validate(event)
		}
		if err != nil {
			fmt.Fprintf(errOut, "line %d: %v\n", line, err)
			continue
		}

		decisions, err := eng.Process(ctx, event)
		for _, d := range decisions {
			if d.Alerted || (all && d.Matched) {
				if err := enc.Encode(d); err != nil {
					return err
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			fmt.Fprintf(errOut, "line %d: %v\n", line, err)
		}
		if line%1000 == 0 {
			eng.Sweep()
		}
	}
	return scanner.Err()
}
