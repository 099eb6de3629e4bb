package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/smkhb/Stock-Agent/pkg/crew"
	"github.com/smkhb/Stock-Agent/pkg/mcp"
)

// newMCPServeCmd publishes the crew's own capabilities over MCP stdio so that
// other agents can query prices and news.
func newMCPServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-serve",
		Short: "Serve the price and news capabilities over MCP stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			prices, news, err := loadSources(c.cfg.Tools)
			if err != nil {
				return err
			}
			agents, err := crew.Agents(crew.Options{
				Provider: newOfflineProvider(),
				Prices:   prices,
				News:     news,
			})
			if err != nil {
				return err
			}

			srv := mcp.NewServer(serviceName, version, mcp.WithServerLogger(c.logger))
			for _, a := range agents {
				if err := srv.Register(a.Capabilities().List()...); err != nil {
					return err
				}
			}
			c.logger.Info("mcp.serve.start", slog.Any("tools", srv.Tools()))
			return srv.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
