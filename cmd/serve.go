package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand, which exposes lookups over HTTP
// until SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve annotation lookups over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				if port <= 0 {
					return fmt.Errorf("--port must be > 0")
				}
				e.cfg.Server.Port = port
			}

			appInstance, err := newApp(cmd.Context(), e, nil)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer closeApp(cmd.Context(), appInstance, e.logger)

			return appInstance.Serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}
