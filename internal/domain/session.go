package domain

import (
	"fmt"
	"strings"
	"time"
)

type SessionID string

// NormalizeSessionID strips every non-digit from raw. An empty result is an
// invalid identifier.
func NormalizeSessionID(raw string) (SessionID, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}

	return SessionID(b.String()), nil
}

func (id SessionID) Valid() bool {
	if id == "" {
		return false
	}
	for _, r := range string(id) {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

func (id SessionID) String() string {
	return string(id)
}

type SessionState string

const (
	StateUnauthenticated  SessionState = "unauthenticated"
	StatePairingRequested SessionState = "pairing_requested"
	StateConnected        SessionState = "connected"
	StateReconnecting     SessionState = "reconnecting"
	StateLoggedOut        SessionState = "logged_out"
)

func (s SessionState) Valid() bool {
	switch s {
	case StateUnauthenticated, StatePairingRequested, StateConnected, StateReconnecting, StateLoggedOut:
		return true
	default:
		return false
	}
}

func (s SessionState) Terminal() bool {
	return s == StateLoggedOut
}

// SessionStatus is a read-only projection of one supervised session.
type SessionStatus struct {
	ID                   SessionID
	State                SessionState
	Registered           bool
	Account              string
	RetryCount           int
	LastDisconnectReason DisconnectReason
	ConnectedAt          time.Time
	UpdatedAt            time.Time
}
