// Package chain layers several secret stores. Reads take the first store
// that has the key, writes go to the first store that accepts them and
// deletes reach every store.
package chain

import (
	"context"
	"errors"
	"fmt"

	filestore "github.com/bnema/multisession/internal/adapters/secrets/file"
	passstore "github.com/bnema/multisession/internal/adapters/secrets/pass"
	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/ports"
)

type Store struct {
	stores []ports.SecretStore
}

var _ ports.SecretStore = (*Store)(nil)

var errNoStores = errors.New("secret chain needs at least one store")

func New(stores ...ports.SecretStore) (*Store, error) {
	if len(stores) == 0 {
		return nil, errNoStores
	}
	for i, store := range stores {
		if store == nil {
			return nil, fmt.Errorf("secret store %d is nil", i)
		}
	}

	return &Store{stores: stores}, nil
}

func NewPassFirstWithFileFallback(fileRoot string) (*Store, error) {
	return New(passstore.NewStore(), filestore.NewStore(fileRoot))
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	var errs []error
	for i, store := range s.stores {
		err := store.Put(ctx, key, value)
		if err == nil {
			return nil
		}
		if isContextError(err) {
			return err
		}
		errs = append(errs, fmt.Errorf("backend %d put: %w", i, err))
	}

	return errors.Join(errs...)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var errs []error
	for i, store := range s.stores {
		value, err := store.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if isContextError(err) {
			return "", err
		}
		if errors.Is(err, domain.ErrSecretNotFound) {
			continue
		}
		errs = append(errs, fmt.Errorf("backend %d get: %w", i, err))
	}

	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %q", domain.ErrSecretNotFound, key)
	}
	return "", errors.Join(errs...)
}

// Delete clears key everywhere so a stale copy in a later store cannot come
// back through Get.
func (s *Store) Delete(ctx context.Context, key string) error {
	var errs []error
	deleted := false
	for i, store := range s.stores {
		err := store.Delete(ctx, key)
		if err == nil {
			deleted = true
			continue
		}
		if isContextError(err) {
			return err
		}
		errs = append(errs, fmt.Errorf("backend %d delete: %w", i, err))
	}

	if deleted {
		return nil
	}
	return errors.Join(errs...)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
