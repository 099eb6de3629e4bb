package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/smkhb/Stock-Agent/pkg/api"
	"github.com/smkhb/Stock-Agent/pkg/config"
	"github.com/smkhb/Stock-Agent/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr      string
		graphPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve crew runs over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, c.cfg, graphPath, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := api.New(api.Config{Runner: a.coordinator, Traces: a.traces, Logger: c.logger})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = c.cfg.Server.Addr
			}

			if c.flags.ConfigPath != "" {
				w, err := config.NewWatcher(c.flags.ConfigPath, c.flags.Profile,
					config.WithWatchLogger(c.logger),
					config.WithWatchOverrides(c.flags.Sets...),
				)
				if err != nil {
					return err
				}
				format := c.cfg.Log.Format
				w.OnChange(func(next *config.Config) {
					lvl := telemetry.SetLevel(next.Log.Level)
					c.logger.Info("server.log.reconfigured", slog.String("level", lvl.String()))
					if next.Log.Format != format {
						c.logger.Warn("server.log.format_ignored",
							slog.String("format", next.Log.Format),
							slog.String("reason", "log format changes need a restart"))
					}
				})
				w.Start(ctx)
				defer w.Stop()
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				c.logger.Info("server.start", slog.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			c.logger.Info("server.shutdown")
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&graphPath, "graph", "", "task graph file replacing the bundled crew graph")
	return cmd
}
