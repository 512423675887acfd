package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the notification worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cfg, err := rt.LoadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddress = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, rt.Logger(), rt.debug)
			if err != nil {
				return err
			}
			return a.run(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", getEnvString("LISTEN_ADDRESS", ""), "Address to listen on (host:port), overrides server.listenAddress")
	return cmd
}
