// Package loopback is an in-process protocol engine. It pairs, connects and
// echoes messages without any network, which makes the daemon runnable and
// testable end to end.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/ports"
	"github.com/rs/zerolog"
)

const (
	JIDSuffix      = "@s.whatsapp.net"
	pairingCodeLen = 8
	codeAlphabet   = "ABCDEFGHJKLMNPQRSTVWXYZ23456789"
	eventBuffer    = 64
)

var (
	ErrClientClosed = errors.New("loopback client closed")
	ErrNotConnected = errors.New("loopback client not connected")
)

type Options struct {
	// ConnectDelay is how long a registered client takes to open.
	ConnectDelay time.Duration
	// AutoConfirm completes pairing this long after a code is issued. Zero
	// leaves pairing pending until Confirm is called.
	AutoConfirm time.Duration
	Clock       ports.Clock
	Logger      zerolog.Logger
}

type Outbound struct {
	To   string
	Text string
}

type Engine struct {
	opts Options

	mu      sync.Mutex
	clients map[domain.SessionID]*Client
	outbox  map[domain.SessionID][]Outbound
}

var _ ports.Engine = (*Engine)(nil)

func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}

	return &Engine{
		opts:    opts,
		clients: map[domain.SessionID]*Client{},
		outbox:  map[domain.SessionID][]Outbound{},
	}
}

func (e *Engine) NewClient(ctx context.Context, creds domain.Credentials) (ports.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !creds.SessionID.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, creds.SessionID)
	}

	c := &Client{
		engine: e,
		creds:  creds.Clone(),
		events: make(chan ports.Event, eventBuffer),
		done:   make(chan struct{}),
		logger: e.opts.Logger.With().Str("session", creds.SessionID.String()).Str("engine", "loopback").Logger(),
	}

	e.mu.Lock()
	previous := e.clients[creds.SessionID]
	e.clients[creds.SessionID] = c
	e.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}

	return c, nil
}

// Disconnect closes the live connection of id with reason, as a remote
// server would.
func (e *Engine) Disconnect(id domain.SessionID, reason domain.DisconnectReason) error {
	c, err := e.client(id)
	if err != nil {
		return err
	}

	c.setConnected(false)
	c.emit(ports.ConnectionClosed{Reason: reason})
	return nil
}

// Deliver injects an inbound message into the live connection of id.
func (e *Engine) Deliver(id domain.SessionID, msg domain.InboundMessage) error {
	c, err := e.client(id)
	if err != nil {
		return err
	}

	c.emit(ports.MessageReceived{Message: msg})
	return nil
}

// Confirm completes a pending pairing for id, as if the code had been
// entered on the phone.
func (e *Engine) Confirm(id domain.SessionID) error {
	c, err := e.client(id)
	if err != nil {
		return err
	}

	return c.confirm()
}

// Sent returns the messages sent by id so far.
func (e *Engine) Sent(id domain.SessionID) []Outbound {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Outbound(nil), e.outbox[id]...)
}

func (e *Engine) client(id domain.SessionID) (*Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clients[id]
	if !ok || c.isClosed() {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return c, nil
}

func (e *Engine) record(id domain.SessionID, msg Outbound) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outbox[id] = append(e.outbox[id], msg)
}

func (e *Engine) forget(c *Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clients[c.creds.SessionID] == c {
		delete(e.clients, c.creds.SessionID)
	}
}

func newPairingCode() string {
	code := make([]byte, pairingCodeLen)
	for i := range code {
		code[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(code)
}

func jidFor(id domain.SessionID) string {
	return string(id) + JIDSuffix
}
