package application

import (
	"context"
	"fmt"

	"github.com/bnema/multisession/internal/domain"
	"github.com/rs/zerolog"
)

const (
	CommandAlive = ".alive"
	AliveReply   = "I am Alive! 🚀"
)

func AliveCommand(ctx context.Context, _ domain.InboundMessage, reply Replier) error {
	if err := reply.Reply(ctx, AliveReply); err != nil {
		return fmt.Errorf("reply to %s: %w", CommandAlive, err)
	}
	return nil
}

// NewDefaultDispatcher returns a dispatcher with the built-in commands.
func NewDefaultDispatcher(logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := NewDispatcher(logger, opts...)
	_ = d.Register(CommandAlive, AliveCommand)
	return d
}
