package ports

import "context"

// SecretStore holds process secrets such as the pairing token under slash
// separated keys. Get reports a missing key as domain.ErrSecretNotFound.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
