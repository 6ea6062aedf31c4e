package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rhuss/parley/pkg/observability"
	transporthttp "github.com/rhuss/parley/pkg/transport/http"
)

func newServeCmd(load loadFunc) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tc := cfg.Observability.Tracing
			shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
				Endpoint:    tc.Endpoint,
				URLPath:     tc.URLPath,
				Insecure:    tc.Insecure,
				ServiceName: tc.ServiceName,
			})
			if err != nil {
				return err
			}
			defer shutdownTracing(context.Background())

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			chain, limiter, err := buildAuth(cfg.Auth)
			if err != nil {
				return err
			}

			opts := []transporthttp.ServerOption{
				transporthttp.WithLogger(logger),
				transporthttp.WithReadiness(a.ready),
			}
			if cfg.Observability.Metrics.Enabled {
				opts = append(opts, transporthttp.WithMetricsPath(cfg.Observability.Metrics.Path))
			} else {
				opts = append(opts, transporthttp.WithMetricsPath(""))
			}
			if chain != nil {
				opts = append(opts, transporthttp.WithAuth(chain, limiter))
			}

			srv := transporthttp.NewServer(a.orch, cfg.Server, opts...)
			logger.Info("parley starting",
				"version", version,
				"addr", srv.Addr(),
				"backends", len(cfg.Backends),
				"default_backend", cfg.Defaults.Backend,
				"tools", a.tools.Len(),
				"auth", cfg.Auth.Type,
			)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}
