package ports

import (
	"context"

	"github.com/bnema/multisession/internal/domain"
)

// Engine builds protocol clients. It owns connection establishment,
// encryption and the pairing exchange; callers only see Client.
type Engine interface {
	NewClient(ctx context.Context, creds domain.Credentials) (Client, error)
}

// Client is one live protocol connection for a single session. Events are
// delivered in order on the channel returned by Events, which is closed after
// Close.
type Client interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	RequestPairingCode(ctx context.Context, id domain.SessionID) (string, error)
	SendMessage(ctx context.Context, to string, text string) error
	SelfID() string
	Close() error
}

type Event interface {
	eventKind() string
}

type CredentialsUpdated struct {
	Credentials domain.Credentials
}

type ConnectionOpened struct {
	Account string
}

type ConnectionClosed struct {
	Reason domain.DisconnectReason
	Err    error
}

type MessageReceived struct {
	Message domain.InboundMessage
}

func (CredentialsUpdated) eventKind() string { return "credentials_updated" }
func (ConnectionOpened) eventKind() string   { return "connection_opened" }
func (ConnectionClosed) eventKind() string   { return "connection_closed" }
func (MessageReceived) eventKind() string    { return "message_received" }

// EventKind names an event for logs and metrics.
func EventKind(evt Event) string {
	if evt == nil {
		return "unknown"
	}

	return evt.eventKind()
}
