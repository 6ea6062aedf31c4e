package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBackendsCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List configured backends and their models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BACKEND\tTYPE\tMODEL\tNAME")
			for _, b := range a.orch.Backends() {
				for _, m := range b.Models {
					marker := ""
					if b.Default && m.ID == b.Model {
						marker = " (default)"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s%s\t%s\n", b.ID, b.Type, m.ID, marker, m.DisplayName)
				}
			}
			return tw.Flush()
		},
	}
}

func newToolsCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOOL\tRETRY\tDESCRIPTION")
			for _, d := range a.orch.Tools() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, retryClass(d.Idempotent), d.Description)
			}
			return tw.Flush()
		},
	}
}

func retryClass(idempotent bool) string {
	if idempotent {
		return "idempotent"
	}
	return "once"
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "parley %s\n", version)
		},
	}
}
