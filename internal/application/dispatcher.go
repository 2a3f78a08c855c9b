package application

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/observability"
	"github.com/rs/zerolog"
)

// Replier sends text back to the chat a command came from, through the
// session that received it.
type Replier interface {
	Reply(ctx context.Context, text string) error
}

type CommandHandler func(ctx context.Context, msg domain.InboundMessage, reply Replier) error

var errEmptyCommandToken = errors.New("command token is empty")

type Dispatcher struct {
	handlers   map[string]CommandHandler
	ignoreSelf bool
	logger     zerolog.Logger
}

type DispatcherOption func(*Dispatcher)

// WithIgnoreSelf drops messages authored by the session itself before
// matching.
func WithIgnoreSelf(ignore bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.ignoreSelf = ignore
	}
}

func NewDispatcher(logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: map[string]CommandHandler{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Dispatcher) Register(token string, handler CommandHandler) error {
	key := strings.ToLower(strings.TrimSpace(token))
	if key == "" {
		return errEmptyCommandToken
	}
	if handler == nil {
		return fmt.Errorf("command %q has no handler", key)
	}
	if _, exists := d.handlers[key]; exists {
		return fmt.Errorf("command %q already registered", key)
	}

	d.handlers[key] = handler
	return nil
}

func (d *Dispatcher) Commands() []string {
	tokens := make([]string, 0, len(d.handlers))
	for token := range d.handlers {
		tokens = append(tokens, token)
	}
	return tokens
}

// Dispatch runs the handler whose token equals the whole message text,
// ignoring case. It reports whether a handler ran. Handler failures are
// logged and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.InboundMessage, reply Replier) bool {
	if msg.FromSelf && d.ignoreSelf {
		return false
	}

	token := strings.ToLower(msg.Content.Text())
	handler, ok := d.handlers[token]
	if !ok {
		return false
	}

	err := d.invoke(ctx, handler, msg, reply)
	observability.RecordCommand(token, err == nil)
	if err != nil {
		d.logger.Error().
			Err(err).
			Str("command", token).
			Str("chat", msg.Chat).
			Msg("command handler failed")
	}

	return true
}

func (d *Dispatcher) invoke(ctx context.Context, handler CommandHandler, msg domain.InboundMessage, reply Replier) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command handler panic: %v\n%s", r, debug.Stack())
		}
	}()

	return handler(ctx, msg, reply)
}
