package ports

import (
	"context"

	"github.com/bnema/multisession/internal/domain"
)

type StatusRepository interface {
	Save(ctx context.Context, status domain.SessionStatus) error
	Delete(ctx context.Context, id domain.SessionID) error
	List(ctx context.Context) ([]domain.SessionStatus, error)
}
