package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aamit98/netblast/internal"
	"github.com/aamit98/netblast/pkg/server"
)

type serverOpts struct {
	configPath string
	tcpPort    int
	udpPort    int
}

func ServerCommand() *cobra.Command {
	var opts serverOpts

	cmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"s"},
		Short:   "Run the speed-test server",
		Long:    "Binds the TCP and UDP service ports, broadcasts offers once a second, and serves transfer requests until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := internal.LoadServerConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("tcp-port") {
				cfg.TCPPort = opts.tcpPort
			}
			if cmd.Flags().Changed("udp-port") {
				cfg.UDPPort = opts.udpPort
			}
			if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
				internal.Warn("invalid log level in config, defaulting to info", internal.Fields{
					internal.FieldError: err.Error(),
				})
			}

			return server.New(cfg).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to server config file (TOML)")
	cmd.Flags().IntVar(&opts.tcpPort, "tcp-port", 0, "TCP service port (0 = ephemeral)")
	cmd.Flags().IntVar(&opts.udpPort, "udp-port", 0, "UDP service port (0 = ephemeral)")

	return cmd
}
