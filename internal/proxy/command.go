package proxy

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/volantir/volantir/internal/config"
	"github.com/volantir/volantir/internal/feed"
	"github.com/volantir/volantir/internal/observability"
	"github.com/volantir/volantir/internal/poller"
	"github.com/volantir/volantir/internal/runtime"
	"github.com/volantir/volantir/internal/store"
)

// NewCommand builds the `proxy` subcommand running the intercepting relay.
func NewCommand(globals *runtime.Options) *cobra.Command {
	opts := &serverOptions{
		proxyListen:    ":8080",
		adminListen:    ":9090",
		identityConfig: config.GetStringEnv("VOLANTIR_IDENTITY_CONFIG", ""),
		dbPath:         config.GetStringEnv("VOLANTIR_DB", "volantir.db"),
		originTimeout:  config.GetDurationEnv("VOLANTIR_ORIGIN_TIMEOUT", 30*time.Second),
		maxConns:       config.GetIntEnv("VOLANTIR_MAX_CONNS", 0),
		idMode:         "uuid",
		publicHost:     config.GetStringEnv("VOLANTIR_PUBLIC_HOST", ""),
	}
	var (
		upstreamURL   = config.GetStringEnv("VOLANTIR_UPSTREAM_URL", "")
		gameID        = config.GetStringEnv("VOLANTIR_GAME_ID", "")
		pollInterval  = config.GetDurationEnv("VOLANTIR_POLL_INTERVAL", 10*time.Second)
		traceEnabled  = config.GetBoolEnv("VOLANTIR_TRACE", false)
		traceExporter string
		traceEndpoint string
		traceInsecure = config.GetBoolEnv("VOLANTIR_TRACE_INSECURE", false)
	)

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Intercepting relay between the mobile app and its backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globals.Logger() == nil {
				if err := globals.SetupLogger(); err != nil {
					return err
				}
			}
			log := globals.Logger()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
				Enabled:     traceEnabled,
				Exporter:    traceExporter,
				ServiceName: "volantir",
				Endpoint:    traceEndpoint,
				Insecure:    traceInsecure,
			})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracing(shutdownCtx)
			}()

			st, err := store.Open(opts.dbPath, globals.Component("store"))
			if err != nil {
				return err
			}
			defer st.Close()

			hub := feed.NewHub(globals.Component("feed"))

			var poll *poller.Poller
			if upstreamURL != "" && gameID != "" {
				client, err := poller.NewClient(poller.ClientOptions{
					BaseURL: upstreamURL,
					GameID:  gameID,
					Timeout: opts.originTimeout,
				}, globals.Component("poller"))
				if err != nil {
					return err
				}
				poll = poller.New(client, st, hub, globals.Component("poller"), pollInterval)
			} else {
				log.Warn("location poller disabled: upstream URL or game id not configured")
			}

			server, err := newServer(log, opts, st, hub, poll)
			if err != nil {
				return err
			}
			return server.run(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.proxyListen, "proxy-listen", opts.proxyListen, "listen address for the intercepting proxy")
	cmd.Flags().StringVar(&opts.adminListen, "admin-listen", opts.adminListen, "listen address for metrics, status, provisioning and the live feed (empty disables)")
	cmd.Flags().StringVar(&opts.identityConfig, "identity-config", opts.identityConfig, "path to YAML file containing the identity directory")
	cmd.Flags().StringVar(&opts.dbPath, "db", opts.dbPath, "path to the sqlite database")
	cmd.Flags().StringSliceVar(&opts.allowHosts, "allow-host", nil, "approved origin host fragments (repeatable; empty approves all)")
	cmd.Flags().DurationVar(&opts.originTimeout, "origin-timeout", opts.originTimeout, "timeout for outbound origin requests")
	cmd.Flags().IntVar(&opts.maxConns, "max-conns", opts.maxConns, "maximum concurrent proxy connections (0 disables the cap)")
	cmd.Flags().StringVar(&opts.idMode, "id-mode", opts.idMode, "exchange identifier generator (uuid or cuid)")
	cmd.Flags().StringVar(&opts.joinCode, "join-code", opts.joinCode, "join code written over rewritten dashboards")
	cmd.Flags().StringVar(&opts.publicHost, "public-host", opts.publicHost, "hostname devices use to reach the relay (for provisioning)")
	cmd.Flags().StringVar(&upstreamURL, "upstream-url", upstreamURL, "backend origin for the location poller")
	cmd.Flags().StringVar(&gameID, "game-id", gameID, "game id for the location poller RPCs")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", pollInterval, "interval of the continuous watch loop")
	cmd.Flags().BoolVar(&traceEnabled, "trace", traceEnabled, "enable OpenTelemetry tracing")
	cmd.Flags().StringVar(&traceExporter, "trace-exporter", "stdout", "tracing exporter (stdout, otlp-grpc, otlp-http)")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP endpoint override")
	cmd.Flags().BoolVar(&traceInsecure, "trace-insecure", traceInsecure, "disable TLS towards the OTLP endpoint")

	return cmd
}
