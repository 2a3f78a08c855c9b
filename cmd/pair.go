package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bnema/multisession/internal/adapters/pairclient"
	statusadapter "github.com/bnema/multisession/internal/adapters/render/status"
	"github.com/bnema/multisession/internal/domain"
	"github.com/spf13/cobra"
)

type pairOutput struct {
	Number string `json:"number"`
	Code   string `json:"code"`
}

func newPairCmd(app *app) *cobra.Command {
	var server string
	var token string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "pair <number>",
		Short: "Request a pairing code from a running msd server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.NormalizeSessionID(args[0])
			if err != nil {
				return err
			}

			if err := app.resolvePairingToken(cmd.Context()); err != nil {
				return err
			}
			client := app.pairClient(server, token)
			request := func(ctx context.Context) (string, error) {
				return client.RequestCode(ctx, id.String())
			}

			var code string
			if asJSON {
				code, err = request(cmd.Context())
			} else {
				code, err = runPairingSpinner(cmd.Context(), cmd.ErrOrStderr(), id.String(), request)
			}
			if err != nil {
				return pairHint(err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(pairOutput{Number: id.String(), Code: code})
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), statusadapter.RenderPairingCode(id.String(), code))
			return err
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "msd server URL (default: derived from listen)")
	cmd.Flags().StringVar(&token, "token", "", "Pairing token (default: pairing.token, then the stored token)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

func (a *app) pairClient(server, token string) pairclient.Client {
	if server == "" {
		server = a.serverURL()
	}
	if token == "" {
		token = a.cfg.Pairing.Token
	}

	return pairclient.Client{
		BaseURL:    server,
		Token:      token,
		HTTPClient: a.httpClient,
	}
}

func pairHint(err error) error {
	switch {
	case errors.Is(err, domain.ErrAlreadyRegistered):
		return fmt.Errorf("%w; run `msd sessions remove` first to pair it again", err)
	case errors.Is(err, pairclient.ErrUnauthorized):
		return fmt.Errorf("%w; pass --token or set MSD_PAIRING_TOKEN", err)
	default:
		return err
	}
}
