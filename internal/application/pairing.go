package application

import (
	"context"
	"errors"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultPairingTimeout = 60 * time.Second

type sessionStarter interface {
	EnsureStarted(ctx context.Context, id domain.SessionID, waiter *PairingWaiter) (*Supervisor, error)
}

// PairingCoordinator turns an external pairing request into a waiter on the
// session supervisor and waits for its single answer.
type PairingCoordinator struct {
	sessions  sessionStarter
	timeout   time.Duration
	logger    zerolog.Logger
	requestID func() string
}

func NewPairingCoordinator(sessions sessionStarter, timeout time.Duration, logger zerolog.Logger) *PairingCoordinator {
	if timeout <= 0 {
		timeout = DefaultPairingTimeout
	}

	return &PairingCoordinator{
		sessions:  sessions,
		timeout:   timeout,
		logger:    logger,
		requestID: uuid.NewString,
	}
}

// RequestCode returns a formatted pairing code for the session identified by
// raw. Errors wrap ErrInvalidIdentifier, ErrAlreadyRegistered,
// ErrPairingInProgress, ErrPairingFailed or ErrTimeout.
func (c *PairingCoordinator) RequestCode(ctx context.Context, raw string) (string, error) {
	id, err := domain.NormalizeSessionID(raw)
	if err != nil {
		observability.RecordPairingRequest("invalid")
		return "", err
	}

	requestID := c.requestID()
	logger := c.logger.With().
		Str("session", id.String()).
		Str("request_id", requestID).
		Logger()

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	waiter := NewPairingWaiter(requestID)
	defer waiter.Abandon()

	logger.Info().Msg("pairing code requested")

	if _, err := c.sessions.EnsureStarted(waitCtx, id, waiter); err != nil {
		err = c.waitError(ctx, err)
		c.record(logger, err)
		return "", err
	}

	select {
	case outcome := <-waiter.Result():
		c.record(logger, outcome.Err)
		if outcome.Err != nil {
			return "", outcome.Err
		}
		return outcome.Code, nil
	case <-waitCtx.Done():
		err := c.waitError(ctx, waitCtx.Err())
		c.record(logger, err)
		return "", err
	}
}

// waitError maps our own deadline to ErrTimeout and leaves caller
// cancellation untouched.
func (c *PairingCoordinator) waitError(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return domain.ErrTimeout
	}
	return err
}

func (c *PairingCoordinator) record(logger zerolog.Logger, err error) {
	result := pairingResultLabel(err)
	observability.RecordPairingRequest(result)

	if err == nil {
		logger.Info().Msg("pairing code issued")
		return
	}
	logger.Warn().Err(err).Str("result", result).Msg("pairing request not fulfilled")
}

func pairingResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return "invalid"
	case errors.Is(err, domain.ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, domain.ErrPairingInProgress):
		return "in_progress"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrPairingFailed):
		return "failed"
	default:
		return "error"
	}
}
