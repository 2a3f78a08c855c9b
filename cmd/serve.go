package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd(app *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Restore persisted sessions and serve the pairing API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				app.cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, app)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default: :$PORT)")

	return cmd
}

func runServe(ctx context.Context, app *app) error {
	if err := app.resolvePairingToken(ctx); err != nil {
		return err
	}
	if err := app.cfg.CheckPairingAccess(); err != nil {
		return err
	}
	if app.cfg.Pairing.Token == "" {
		app.logger.Warn().Msg("pairing endpoint is open to anyone who can reach it")
	}

	d, err := app.wireDaemon()
	if err != nil {
		return err
	}

	restored, err := d.registry.Restore(ctx)
	if err != nil {
		// Sessions restored so far keep running; the rest can pair again.
		app.logger.Error().Err(err).Int("restored", restored).Msg("session restore incomplete")
	} else {
		app.logger.Info().Int("restored", restored).Str("dir", app.store.Root()).Msg("sessions restored")
	}

	serveErr := d.server.Run(ctx, app.cfg.Listen)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := d.registry.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("stop sessions: %w", err))
	}

	app.logger.Info().Msg("msd stopped")
	return serveErr
}
