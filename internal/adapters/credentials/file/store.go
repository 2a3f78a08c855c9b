package file

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	storeDirMode        = 0o700
	credentialsFileMode = 0o600
	credentialsFileName = "creds.toml"
	tempFilePattern     = ".creds-*.toml.tmp"
)

// Store keeps one directory per session under root.
type Store struct {
	root string
	mu   sync.RWMutex
}

var _ ports.CredentialStore = (*Store)(nil)

func NewStore(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Load(ctx context.Context, id domain.SessionID) (domain.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return domain.Credentials{}, err
	}

	dir, err := s.dirForSession(id)
	if err != nil {
		return domain.Credentials{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, storeDirMode); err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: create session directory %q: %w", domain.ErrStorage, id, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, credentialsFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.NewCredentials(id), nil
		}
		return domain.Credentials{}, fmt.Errorf("%w: read credentials %q: %w", domain.ErrStorage, id, err)
	}

	var file credentialsSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: decode credentials %q: %w", domain.ErrStorage, id, err)
	}
	if err := file.validate(id); err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}

	return file.toDomain(id)
}

func (s *Store) Save(ctx context.Context, creds domain.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := s.dirForSession(creds.SessionID)
	if err != nil {
		return err
	}

	data, err := toml.Marshal(toSchema(creds))
	if err != nil {
		return fmt.Errorf("encode credentials %q: %w", creds.SessionID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, storeDirMode); err != nil {
		return fmt.Errorf("%w: create session directory %q: %w", domain.ErrStorage, creds.SessionID, err)
	}

	if err := writeFileAtomic(dir, data); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}

	return nil
}

// Delete removes the session directory and everything in it. Deleting a
// session that does not exist is not an error.
func (s *Store) Delete(ctx context.Context, id domain.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := s.dirForSession(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: delete session directory %q: %w", domain.ErrStorage, id, err)
	}

	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.SessionID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list sessions: %w", domain.ErrStorage, err)
	}

	ids := make([]domain.SessionID, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := domain.SessionID(entry.Name())
		if !id.Valid() {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids, nil
}

func (s *Store) dirForSession(id domain.SessionID) (string, error) {
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, id)
	}

	return filepath.Join(s.root, string(id)), nil
}

func writeFileAtomic(dir string, data []byte) error {
	tempFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp credentials file: %w", err)
	}

	if err := tempFile.Chmod(credentialsFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp credentials file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp credentials file: %w", err)
	}

	if err := os.Rename(tempName, filepath.Join(dir, credentialsFileName)); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}

	cleanup = false
	return nil
}

func toSchema(creds domain.Credentials) credentialsSchema {
	return credentialsSchema{
		Version:    currentSchemaVersion,
		Session:    string(creds.SessionID),
		Registered: creds.Registered,
		Account:    creds.Account,
		Material:   base64.StdEncoding.EncodeToString(creds.Material),
	}
}
