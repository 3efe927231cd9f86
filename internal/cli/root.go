package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/volantir/volantir/internal/poller"
	"github.com/volantir/volantir/internal/provision"
	"github.com/volantir/volantir/internal/proxy"
	"github.com/volantir/volantir/internal/runtime"
	"github.com/volantir/volantir/internal/util"
	"github.com/volantir/volantir/internal/version"
)

func Execute() error {
	opts := &runtime.Options{
		LogLevel: "info",
	}
	ctx, cancel := util.WithSignalContext(context.Background())
	defer cancel()
	cmd := newRootCommand(opts)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(opts *runtime.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "volantir",
		Short:        "Intercepting relay and location tracker for Splashin-style games",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.SetupLogger()
		},
	}

	cmd.PersistentFlags().BoolVar(&opts.JSONLogs, "json-logs", false, "emit logs in JSON format")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level (debug, info, warn, error)")

	cmd.AddCommand(proxy.NewCommand(opts))
	cmd.AddCommand(poller.NewCommand(opts))
	cmd.AddCommand(provision.NewCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	})

	return cmd
}
