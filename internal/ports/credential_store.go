package ports

import (
	"context"

	"github.com/bnema/multisession/internal/domain"
)

// CredentialStore persists per-session authentication material. Load creates
// fresh unregistered credentials when none exist.
type CredentialStore interface {
	Load(ctx context.Context, id domain.SessionID) (domain.Credentials, error)
	Save(ctx context.Context, creds domain.Credentials) error
	Delete(ctx context.Context, id domain.SessionID) error
	List(ctx context.Context) ([]domain.SessionID, error)
}
