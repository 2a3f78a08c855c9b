package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	Now time.Time
	// StaleAfter flags snapshots that have not been refreshed for this
	// long, which usually means the daemon is gone. Zero disables it.
	StaleAfter time.Duration
}

func renderView(statuses []domain.SessionStatus, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Sessions"),
		s.header.Render(fmt.Sprintf("sessions: %d  connected: %d", len(statuses), countConnected(statuses))),
	}

	if len(statuses) == 0 {
		lines = append(lines, s.empty.Render("No sessions found."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, status := range statuses {
		lines = append(lines, s.section.Render(renderSession(status, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderSession(status domain.SessionStatus, opts RenderOptions, s styles) string {
	parts := []string{
		s.session.Render(sessionTitle(status)),
		stateLine(status, opts, s),
	}

	if status.RetryCount > 0 || status.LastDisconnectReason != "" {
		parts = append(parts, retryLine(status, s))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func sessionTitle(status domain.SessionStatus) string {
	account := strings.TrimSpace(status.Account)
	if account == "" {
		return string(status.ID)
	}
	return fmt.Sprintf("%s (%s)", status.ID, account)
}

func stateLine(status domain.SessionStatus, opts RenderOptions, s styles) string {
	state := string(status.State)
	if state == "" {
		state = "unknown"
	}
	badge := lipgloss.NewStyle().Bold(true).Foreground(stateColor(state)).Render(state)

	registered := "unregistered"
	if status.Registered {
		registered = "registered"
	}

	segments := []string{
		s.key.Render("state:"),
		" ",
		badge,
		" ",
		s.meta.Render("(" + registered + ")"),
	}
	if status.State == domain.StateConnected && !status.ConnectedAt.IsZero() {
		segments = append(segments, " ", s.detail.Render(formatSince("connected", status.ConnectedAt, opts.Now)))
	}

	line := lipgloss.JoinHorizontal(lipgloss.Top, segments...)
	if isStale(status, opts) {
		line += " " + s.warning.Render("[stale]")
	}

	return line
}

func retryLine(status domain.SessionStatus, s styles) string {
	text := fmt.Sprintf("retries: %d", status.RetryCount)
	if status.LastDisconnectReason != "" {
		text += fmt.Sprintf(" (last disconnect: %s)", status.LastDisconnectReason)
	}
	return s.detail.Render(text)
}

func isStale(status domain.SessionStatus, opts RenderOptions) bool {
	if opts.Now.IsZero() || opts.StaleAfter <= 0 || status.UpdatedAt.IsZero() {
		return false
	}
	return opts.Now.Sub(status.UpdatedAt) > opts.StaleAfter
}

func countConnected(statuses []domain.SessionStatus) int {
	n := 0
	for _, status := range statuses {
		if status.State == domain.StateConnected {
			n++
		}
	}
	return n
}

func formatSince(verb string, at, now time.Time) string {
	if now.IsZero() {
		return fmt.Sprintf("%s at %s", verb, at.Format(time.RFC3339))
	}

	elapsed := now.Sub(at)
	if elapsed < time.Minute {
		return verb + " just now"
	}
	if elapsed < time.Hour {
		return fmt.Sprintf("%s for %s", verb, plural(int(elapsed.Minutes()), "minute"))
	}
	if elapsed < 24*time.Hour {
		return fmt.Sprintf("%s for %s", verb, plural(int(math.Floor(elapsed.Hours())), "hour"))
	}
	return fmt.Sprintf("%s for %s", verb, plural(int(math.Floor(elapsed.Hours()/24)), "day"))
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// RenderPairingCode frames a pairing code for the terminal.
func RenderPairingCode(number, code string) string {
	s := newStyles()
	return lipgloss.JoinVertical(
		lipgloss.Left,
		s.codeLabel.Render(fmt.Sprintf("Pairing code for %s:", number)),
		s.codeBox.Render(code),
		s.meta.Render("Enter it on the phone under Linked devices > Link with phone number."),
	)
}
