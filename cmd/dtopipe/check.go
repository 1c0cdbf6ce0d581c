package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compile every schema field in both phases and report errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, g)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			p, err := a.processor(cmd.Context())
			if err != nil {
				return err
			}
			if err := p.Check(nil); err != nil {
				for _, e := range multierr.Errors(err) {
					fmt.Fprintln(cmd.ErrOrStderr(), e)
				}
				return errInvalid
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d schemas\n", len(p.Schemas()))
			return nil
		},
	}
}
