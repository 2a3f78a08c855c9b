package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCmd(app *app) *cobra.Command {
	var server string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that a msd server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			health, err := app.pairClient(server, "").Health(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(health)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (sessions: %d, version: %s)\n", health.Status, health.Sessions, health.Version)
			return err
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "msd server URL (default: derived from listen)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}
