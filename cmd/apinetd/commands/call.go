package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/go-apinet/apiclient"
	"github.com/cyberinferno/go-apinet/logger"
)

type callOptions struct {
	addr     string
	timeout  time.Duration
	oneWay   bool
	logLevel string
}

// call <action> [payload]: invoke an action and print its result.
func callCmd() *cobra.Command {
	var opts callOptions

	cmd := &cobra.Command{
		Use:   "call <action> [payload]",
		Short: "Invoke an action on a running server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if len(args) == 2 {
				payload = []byte(args[1])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			level, err := logger.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}

			cfg := apiclient.DefaultConfig(opts.addr)
			cfg.ConnectionTimeout = opts.timeout
			cfg.Logger = logger.NewConsoleLogger("apinetd", level)
			client := apiclient.NewClient(cfg)
			defer func() { _ = client.Close() }()

			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connect %s: %w", opts.addr, err)
			}

			if opts.oneWay {
				return client.Notify(args[0], payload)
			}

			result, err := client.Invoke(ctx, args[0], payload)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(result))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:5500", "server address")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "connect and call timeout")
	cmd.Flags().BoolVar(&opts.oneWay, "oneway", false, "send without waiting for a reply")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "client log level, written to stderr")
	return cmd
}
