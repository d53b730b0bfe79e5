package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAgentsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the configured agent roster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := build(cmd.Context(), cfg, logger, buildOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			infos := a.router.Infos()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			primary := ""
			if p := a.router.Primary(); p != nil {
				primary = p.Role()
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROLE\tAUTHORITY\tMAX STEPS\tTEMP\tTOOLS")
			for _, info := range infos {
				role := info.Role
				if role == primary {
					role += " *"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%s\n",
					role, info.Authority, info.MaxSteps, info.Temperature, strings.Join(info.Tools, ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nrouting policy: %s\n", a.router.Policy())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
