package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	failure "github.com/hanpama/dtopipe/internal/failure"
)

func newRenderCmd(g *globalFlags) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "render <template> [name=value ...]",
		Short: "Render a message template with parameters",
		Long: `Render a message template in the active locale. A value containing
commas is passed as a list, so "values=a,b,c" renders as "a, b, or c".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			a, err := setup(cmd, g)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			fe := failure.Processing(args[0], params)
			if path != "" {
				fe.Stamp(path, nil, "")
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.renderer.Render(fe))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Property path to prefix")
	return cmd
}

func parseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want name=value", arg)
		}
		if strings.Contains(v, ",") {
			params[k] = strings.Split(v, ",")
			continue
		}
		params[k] = v
	}
	return params, nil
}
