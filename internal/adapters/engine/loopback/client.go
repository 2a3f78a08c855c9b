package loopback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Client struct {
	engine *Engine
	logger zerolog.Logger

	events    chan ports.Event
	done      chan struct{}
	closeOnce sync.Once

	// emitMu lets Close wait for in-flight emits before closing events.
	emitMu sync.RWMutex

	mu        sync.Mutex
	creds     domain.Credentials
	connected bool
	closed    bool
	pending   string
}

var _ ports.Client = (*Client)(nil)

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClientClosed
	}

	c.mu.Lock()
	registered := c.creds.Registered
	c.mu.Unlock()

	if registered {
		go c.after(c.engine.opts.ConnectDelay, c.open)
	}
	return nil
}

func (c *Client) Events() <-chan ports.Event {
	return c.events
}

func (c *Client) RequestPairingCode(ctx context.Context, id domain.SessionID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.isClosed() {
		return "", ErrClientClosed
	}

	c.mu.Lock()
	if c.creds.Registered {
		c.mu.Unlock()
		return "", domain.ErrAlreadyRegistered
	}
	if id != c.creds.SessionID {
		c.mu.Unlock()
		return "", domain.ErrInvalidIdentifier
	}
	code := newPairingCode()
	c.pending = code
	c.mu.Unlock()

	c.logger.Debug().Msg("pairing code issued")
	if delay := c.engine.opts.AutoConfirm; delay > 0 {
		go c.after(delay, func() {
			if err := c.confirm(); err != nil {
				c.logger.Debug().Err(err).Msg("auto confirm skipped")
			}
		})
	}

	return code, nil
}

func (c *Client) SendMessage(ctx context.Context, to string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClientClosed
	}

	c.mu.Lock()
	connected := c.connected
	self := c.selfLocked()
	id := c.creds.SessionID
	c.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}

	c.engine.record(id, Outbound{To: to, Text: text})
	if to == self {
		c.emit(ports.MessageReceived{Message: domain.InboundMessage{
			Chat:     to,
			Sender:   self,
			FromSelf: true,
			Content:  domain.MessageContent{Conversation: text},
		}})
	}

	return nil
}

func (c *Client) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfLocked()
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.connected = false
		c.mu.Unlock()

		close(c.done)

		c.emitMu.Lock()
		close(c.events)
		c.emitMu.Unlock()

		c.engine.forget(c)
	})
	return nil
}

func (c *Client) confirm() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.pending == "" {
		c.mu.Unlock()
		return errors.New("no pairing in progress")
	}

	material, err := uuid.New().MarshalBinary()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.pending = ""
	c.creds.Registered = true
	c.creds.Account = jidFor(c.creds.SessionID)
	c.creds.Material = material
	creds := c.creds.Clone()
	c.mu.Unlock()

	c.logger.Debug().Msg("pairing confirmed")
	c.emit(ports.CredentialsUpdated{Credentials: creds})
	c.open()
	return nil
}

func (c *Client) open() {
	c.mu.Lock()
	if c.closed || c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = true
	account := c.selfLocked()
	c.mu.Unlock()

	c.emit(ports.ConnectionOpened{Account: account})
}

func (c *Client) after(delay time.Duration, fn func()) {
	if delay > 0 {
		select {
		case <-c.engine.opts.Clock.After(delay):
		case <-c.done:
			return
		}
	}
	fn()
}

func (c *Client) emit(evt ports.Event) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.events <- evt:
	case <-c.done:
	}
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) selfLocked() string {
	if !c.creds.Registered {
		return ""
	}
	if c.creds.Account != "" {
		return c.creds.Account
	}
	return jidFor(c.creds.SessionID)
}
