package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/aamit98/netblast/cli/output"
	"github.com/aamit98/netblast/internal"
	"github.com/aamit98/netblast/pkg/client"
	"github.com/aamit98/netblast/pkg/discovery"
	"github.com/aamit98/netblast/pkg/metrics"
)

type clientOpts struct {
	configPath string
	fileSize   uint64
	tcpCount   int
	udpCount   int
}

func ClientCommand() *cobra.Command {
	var opts clientOpts

	cmd := &cobra.Command{
		Use:     "client",
		Aliases: []string{"c"},
		Short:   "Discover a server and run a speed test",
		Long:    "Waits for a server offer on the discovery port, then runs the requested number of concurrent TCP and UDP transfers against it and reports per-transfer statistics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := internal.LoadClientConfig(opts.configPath)
			if err != nil {
				return err
			}
			if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
				internal.Warn("invalid log level in config, defaulting to info", internal.Fields{
					internal.FieldError: err.Error(),
				})
			}

			params, err := resolveParams(cmd, opts)
			if err != nil {
				return err
			}

			endpoint, err := discovery.ListenForOffer(
				ctx,
				cfg.DiscoveryPort,
				time.Duration(cfg.ListenTimeoutMs)*time.Millisecond,
			)
			if err != nil {
				return fmt.Errorf("no server offer received: %w", err)
			}

			collector := metrics.NewRunCollector("")
			display := output.NewTransferDisplay(collector)
			if err := display.Start(); err != nil {
				return err
			}

			orch := client.NewOrchestrator(
				client.TCPConfig{
					ConnectTimeout: time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond,
					ReadTimeout:    time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond,
					MaxAttempts:    cfg.MaxAttempts,
					Backoff:        time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
				},
				client.UDPConfig{
					ReceiveTimeout:  time.Duration(cfg.ReceiveTimeoutMs) * time.Millisecond,
					MaxQuietPeriods: cfg.MaxQuietPeriods,
					MaxAttempts:     cfg.MaxAttempts,
					Backoff:         time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
					ReadBufferSize:  cfg.UDPReadBufferSize,
				},
				time.Duration(cfg.StaggerMs)*time.Millisecond,
				display,
			)

			records, err := orch.Run(ctx, endpoint, params)
			display.Stop()
			if err != nil {
				return err
			}

			output.PrintResults(records, collector.Snapshot())
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to client config file (TOML)")
	cmd.Flags().Uint64Var(&opts.fileSize, "size", 0, "File size in bytes to request per transfer")
	cmd.Flags().IntVar(&opts.tcpCount, "tcp", 0, "Number of concurrent TCP transfers")
	cmd.Flags().IntVar(&opts.udpCount, "udp", 0, "Number of concurrent UDP transfers")

	return cmd
}

// resolveParams uses flag values when given and falls back to interactive
// prompts, validating the same way in both paths.
func resolveParams(cmd *cobra.Command, opts clientOpts) (client.Params, error) {
	params := client.Params{
		FileSizeBytes: opts.fileSize,
		TCPCount:      opts.tcpCount,
		UDPCount:      opts.udpCount,
	}

	if !cmd.Flags().Changed("size") {
		v, err := promptUint("File size in bytes (e.g. 10240)", false)
		if err != nil {
			return client.Params{}, err
		}
		params.FileSizeBytes = v
	}
	if !cmd.Flags().Changed("tcp") {
		v, err := promptUint("Number of TCP connections (e.g. 1)", true)
		if err != nil {
			return client.Params{}, err
		}
		params.TCPCount = int(v)
	}
	if !cmd.Flags().Changed("udp") {
		v, err := promptUint("Number of UDP connections (e.g. 1)", true)
		if err != nil {
			return client.Params{}, err
		}
		params.UDPCount = int(v)
	}

	if err := params.Validate(); err != nil {
		return client.Params{}, err
	}
	return params, nil
}

func promptUint(label string, zeroOK bool) (uint64, error) {
	prompt := promptui.Prompt{
		Label: label,
		Validate: func(in string) error {
			v, err := strconv.ParseUint(in, 10, 64)
			if err != nil {
				return fmt.Errorf("enter a non-negative integer")
			}
			if v == 0 && !zeroOK {
				return fmt.Errorf("value must be positive")
			}
			return nil
		},
	}
	in, err := prompt.Run()
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(in, 10, 64)
}
