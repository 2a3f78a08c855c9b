package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bnema/multisession/internal/adapters/httpapi"
	statusadapter "github.com/bnema/multisession/internal/adapters/render/status"
	"github.com/bnema/multisession/internal/domain"
	"github.com/spf13/cobra"
)

func newSessionsCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect and manage persisted sessions",
	}

	cmd.AddCommand(
		newSessionsListCmd(app),
		newSessionsStatusCmd(app),
		newSessionsRemoveCmd(app),
	)

	return cmd
}

func newSessionsListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions with stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := app.store.List(cmd.Context())
			if err != nil {
				return err
			}

			snapshots, err := app.statusIndex(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, id := range ids {
				state := "unknown"
				if status, ok := snapshots[id]; ok {
					state = string(status.State)
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\n", id, state)
			}
			return w.Flush()
		},
	}
}

func newSessionsStatusCmd(app *app) *cobra.Command {
	var asJSON bool
	var live bool
	var server string
	var token string
	var staleAfter time.Duration

	cmd := &cobra.Command{
		Use:   "status [number]",
		Short: "Show the last known state of each session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []domain.SessionStatus
			var err error
			if live || server != "" {
				statuses, err = app.pairClient(server, token).Sessions(cmd.Context())
			} else {
				statuses, err = app.statuses.List(cmd.Context())
			}
			if err != nil {
				return err
			}

			if len(args) == 1 {
				id, err := domain.NormalizeSessionID(args[0])
				if err != nil {
					return err
				}
				statuses = slices.DeleteFunc(statuses, func(s domain.SessionStatus) bool { return s.ID != id })
				if len(statuses) == 0 {
					return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
				}
			}

			return writeStatusesOutput(cmd, app, statuses, staleAfter, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	cmd.Flags().BoolVar(&live, "live", false, "Ask the running server instead of reading the status file")
	cmd.Flags().StringVar(&server, "server", "", "msd server URL (implies --live)")
	cmd.Flags().StringVar(&token, "token", "", "Pairing token (default: pairing.token)")
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "Flag snapshots older than this (0 disables)")

	return cmd
}

func newSessionsRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <number>",
		Aliases: []string{"rm"},
		Short:   "Delete a session's credentials so it must pair again",
		Long:    "Delete a session's credentials and status snapshot. Stop msd serve first, or the running session keeps its in-memory credentials until it disconnects.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.NormalizeSessionID(args[0])
			if err != nil {
				return err
			}

			if err := app.store.Delete(cmd.Context(), id); err != nil {
				return err
			}
			if err := app.statuses.Delete(cmd.Context(), id); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			return err
		},
	}
}

func writeStatusesOutput(cmd *cobra.Command, app *app, statuses []domain.SessionStatus, staleAfter time.Duration, asJSON bool) error {
	if asJSON {
		views := make([]httpapi.SessionView, 0, len(statuses))
		for _, status := range statuses {
			views = append(views, httpapi.NewSessionView(status))
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	rendered, err := app.statusRenderer(statuses, statusadapter.RenderOptions{
		Now:        app.now(),
		StaleAfter: staleAfter,
	})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(rendered, "\n"))
	return err
}

func (a *app) statusIndex(ctx context.Context) (map[domain.SessionID]domain.SessionStatus, error) {
	statuses, err := a.statuses.List(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[domain.SessionID]domain.SessionStatus, len(statuses))
	for _, status := range statuses {
		index[status.ID] = status
	}
	return index, nil
}
