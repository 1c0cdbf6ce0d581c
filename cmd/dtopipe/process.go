package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vektah/gqlparser/v2/gqlerror"

	chain "github.com/hanpama/dtopipe/internal/chain"
	errwire "github.com/hanpama/dtopipe/internal/errwire"
	execctx "github.com/hanpama/dtopipe/internal/execctx"
	failure "github.com/hanpama/dtopipe/internal/failure"
	processor "github.com/hanpama/dtopipe/internal/processor"
)

// Output formats of the process command.
const (
	formatText    = "text"
	formatGRPC    = "grpc"
	formatGraphQL = "graphql"
)

type processFlags struct {
	schema  string
	phase   string
	mode    string
	format  string
	metrics bool
}

func newProcessCmd(g *globalFlags) *cobra.Command {
	var f processFlags
	cmd := &cobra.Command{
		Use:   "process [input.json]",
		Short: "Run a schema over a JSON object read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, g, &f, args)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.schema, "schema", "", "Schema name (required)")
	fl.StringVar(&f.phase, "phase", string(chain.Inbound), "Phase: inbound or outbound")
	fl.StringVar(&f.mode, "mode", "", "Error mode: fail-fast, collect-null, collect-original or collect-omit (overrides errorMode)")
	fl.StringVar(&f.format, "format", formatText, "Failure output: text, grpc or graphql")
	fl.BoolVar(&f.metrics, "metrics", false, "Write Prometheus metrics to stderr when done")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func runProcess(cmd *cobra.Command, g *globalFlags, f *processFlags, args []string) error {
	phase := chain.Phase(f.phase)
	if phase != chain.Inbound && phase != chain.Outbound {
		return fmt.Errorf("unknown phase %q", f.phase)
	}
	switch f.format {
	case formatText, formatGRPC, formatGraphQL:
	default:
		return fmt.Errorf("unknown format %q", f.format)
	}

	a, err := setup(cmd, g)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	mode, err := a.cfg.Mode()
	if err != nil {
		return err
	}
	if f.mode != "" {
		if mode, err = execctx.ParseErrorMode(f.mode); err != nil {
			return err
		}
	}

	input, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	p, err := a.processor(cmd.Context())
	if err != nil {
		return err
	}

	rec := processor.NewRecord(processor.WithMode(mode))
	perr := p.Process(cmd.Context(), rec, f.schema, phase, input)
	if perr != nil && failure.IsFatal(perr) {
		return perr
	}
	failures := rec.Failures()
	if fe, ok := failure.As(perr); ok {
		failures = append(failures, fe)
	}
	if perr == nil {
		if err := writeJSON(cmd.OutOrStdout(), rec.Values()); err != nil {
			return err
		}
	}

	if err := reportFailures(cmd.ErrOrStderr(), a, f.format, failures); err != nil {
		return err
	}
	if f.metrics {
		if err := a.metrics.Write(cmd.ErrOrStderr()); err != nil {
			return err
		}
	}
	if perr != nil && len(failures) == 0 {
		return perr
	}
	if len(failures) > 0 {
		return errInvalid
	}
	return nil
}

func readInput(cmd *cobra.Command, args []string) (map[string]any, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		file, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer file.Close()
		r = file
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var input map[string]any
	if err := dec.Decode(&input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return input, nil
}

func reportFailures(w io.Writer, a *app, format string, failures []*failure.Error) error {
	if len(failures) == 0 {
		return nil
	}
	locale := a.renderer.Locale()
	switch format {
	case formatGRPC:
		st, err := errwire.Status(a.renderer, locale, failures)
		if err != nil {
			return err
		}
		data, err := errwire.JSON(st)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatGraphQL:
		return writeJSON(w, struct {
			Errors gqlerror.List `json:"errors"`
		}{errwire.GraphQL(a.renderer, locale, failures)})
	}
	for _, msg := range a.renderer.RenderAll(locale, failures) {
		if _, err := fmt.Fprintln(w, msg); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
