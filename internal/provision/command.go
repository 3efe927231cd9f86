package provision

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewCommand builds the `provision` subcommand printing an enrollment
// payload as JSON, for piping into QR-code tooling.
func NewCommand() *cobra.Command {
	var host, port, identity, secret string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Print a tunnel-configuration payload for one identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := json.MarshalIndent(Build(host, port, identity, secret), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "hostname devices use to reach the relay")
	cmd.Flags().StringVar(&port, "port", "8080", "proxy port")
	cmd.Flags().StringVar(&identity, "identity", "", "identity to enroll")
	cmd.Flags().StringVar(&secret, "secret", "", "identity secret (plaintext, as the device will present it)")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("secret")

	return cmd
}
