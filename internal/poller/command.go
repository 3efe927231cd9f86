package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/volantir/volantir/internal/config"
	"github.com/volantir/volantir/internal/runtime"
	"github.com/volantir/volantir/internal/store"
)

// NewCommand builds the `refresh` subcommand: a one-shot location refresh
// against the shared database, bulk by default or single-user when an id is
// given.
func NewCommand(globals *runtime.Options) *cobra.Command {
	var (
		dbPath      = config.GetStringEnv("VOLANTIR_DB", "volantir.db")
		upstreamURL = config.GetStringEnv("VOLANTIR_UPSTREAM_URL", "")
		gameID      = config.GetStringEnv("VOLANTIR_GAME_ID", "")
		timeout     = config.GetDurationEnv("VOLANTIR_ORIGIN_TIMEOUT", 30*time.Second)
	)

	cmd := &cobra.Command{
		Use:   "refresh [user-id]",
		Short: "Refresh tracked-user locations once and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if globals.Logger() == nil {
				if err := globals.SetupLogger(); err != nil {
					return err
				}
			}
			log := globals.Component("poller")
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			client, err := NewClient(ClientOptions{
				BaseURL: upstreamURL,
				GameID:  gameID,
				Timeout: timeout,
			}, log)
			if err != nil {
				return err
			}
			st, err := store.Open(dbPath, globals.Component("store"))
			if err != nil {
				return err
			}
			defer st.Close()

			p := New(client, st, nil, log, 0)
			if len(args) == 1 {
				rec := p.RefreshUser(ctx, args[0])
				if rec == nil {
					return errors.New("refresh did not complete, see log")
				}
				out, err := json.MarshalIndent(rec, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				// The row update runs detached; give it a moment before exit.
				time.Sleep(time.Second)
				return nil
			}

			updated := p.RefreshAll(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "updated %d users\n", updated)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", dbPath, "path to the sqlite database")
	cmd.Flags().StringVar(&upstreamURL, "upstream-url", upstreamURL, "backend origin for the location RPCs")
	cmd.Flags().StringVar(&gameID, "game-id", gameID, "game id for the location RPCs")
	cmd.Flags().DurationVar(&timeout, "timeout", timeout, "timeout for backend requests")

	return cmd
}
