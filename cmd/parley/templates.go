package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rhuss/parley/pkg/api"
)

func newTemplatesCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List, render and run prompt templates",
	}
	cmd.AddCommand(newTemplatesListCmd(load), newTemplatesRenderCmd(load), newTemplatesRunCmd(load))
	return cmd
}

func newTemplatesListCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available templates",
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

			infos, err := a.orch.ListAvailableTemplates()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSOURCE\tVARIABLES")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, info.Source, strings.Join(info.Variables, ","))
			}
			return tw.Flush()
		},
	}
}

func newTemplatesRenderCmd(load loadFunc) *cobra.Command {
	var vars []string

	cmd := &cobra.Command{
		Use:   "render NAME",
		Short: "Render a template without calling a backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseVars(vars)
			if err != nil {
				return err
			}
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := a.templates.Render(args[0], values)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "template variable as key=value (repeatable)")
	return cmd
}

func newTemplatesRunCmd(load loadFunc) *cobra.Command {
	var (
		vars        []string
		backendName string
		model       string
	)

	cmd := &cobra.Command{
		Use:   "run NAME",
		Short: "Render a template and send it to a backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseVars(vars)
			if err != nil {
				return err
			}
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.orch.ExecuteTemplate(ctx, args[0], api.TemplateRequest{
				Provider:  backendName,
				Model:     model,
				Variables: values,
			})
			if err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "template variable as key=value (repeatable)")
	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "backend name (default from config)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model ID")
	return cmd
}

// parseVars turns key=value pairs into template variables.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}
