package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/mohammad-safakhou/urska/config"
	"github.com/spf13/cobra"
)

func toolsCMD(cfgPath *string) *cobra.Command {
	var describe bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered by the configured MCP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			cat, err := dialCatalogue(cmd.Context(), cfg.Tools)
			if err != nil {
				return err
			}
			defer cat.Close()

			out := cmd.OutOrStdout()
			if describe {
				fmt.Fprintln(out, cat.Describe())
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVER\tTOOL\tDESCRIPTION")
			for _, t := range cat.Tools() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Server, t.Name, t.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&describe, "describe", false, "print the catalogue as the models see it")
	return cmd
}
