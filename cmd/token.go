package cmd

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/bnema/multisession/internal/domain"
	"github.com/spf13/cobra"
)

var errTokenExists = errors.New("a pairing token is already stored; pass --force to replace it")

func newTokenCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored pairing token",
		Long:  "The stored pairing token is used by msd serve and msd pair when pairing.token is not set.",
	}

	cmd.AddCommand(
		newTokenGenerateCmd(app),
		newTokenShowCmd(app),
		newTokenClearCmd(app),
	)

	return cmd
}

func newTokenGenerateCmd(app *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate and store a random pairing token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := app.cfg.Pairing.TokenKey
			if !force {
				_, err := app.secrets.Get(cmd.Context(), key)
				if err == nil {
					return errTokenExists
				}
				if !errors.Is(err, domain.ErrSecretNotFound) {
					return err
				}
			}

			token := rand.Text()
			if err := app.secrets.Put(cmd.Context(), key, token); err != nil {
				return fmt.Errorf("store pairing token: %w", err)
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing token")

	return cmd
}

func newTokenShowCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored pairing token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := app.secrets.Get(cmd.Context(), app.cfg.Pairing.TokenKey)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
}

func newTokenClearCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored pairing token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.secrets.Delete(cmd.Context(), app.cfg.Pairing.TokenKey)
		},
	}
}
