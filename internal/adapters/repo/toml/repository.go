package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	statusPathKey   = "status.path"
	sessionsDirKey  = "sessions.dir"
	statusFileName  = "status.toml"
	statusFileMode  = 0o600
	statusDirMode   = 0o700
	tempFilePattern = ".status-*.toml.tmp"
)

// StatusRepository keeps the latest status snapshot of every session in a
// single TOML file so that other processes can read it.
type StatusRepository struct {
	path string
	mu   *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.StatusRepository = (*StatusRepository)(nil)

func NewStatusRepository(cfg *viper.Viper) (*StatusRepository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	path := cfg.GetString(statusPathKey)
	if path == "" {
		sessionsDir := cfg.GetString(sessionsDirKey)
		if sessionsDir == "" {
			return nil, errors.New("status path is empty")
		}
		path = filepath.Join(sessionsDir, statusFileName)
	}

	path, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	return &StatusRepository{path: path, mu: lockForPath(path)}, nil
}

func (r *StatusRepository) Path() string {
	return r.path
}

func (r *StatusRepository) Save(ctx context.Context, status domain.SessionStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.ID.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, status.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	encoded := toSchema(status)
	updated := false
	for i := range file.Sessions {
		if file.Sessions[i].ID == encoded.ID {
			file.Sessions[i] = encoded
			updated = true
			break
		}
	}
	if !updated {
		file.Sessions = append(file.Sessions, encoded)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeSchema(file)
}

func (r *StatusRepository) Delete(ctx context.Context, id domain.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	if !containsSession(file.Sessions, id) {
		return nil
	}
	file.Sessions = slices.DeleteFunc(file.Sessions, func(entry sessionSchema) bool {
		return entry.ID == string(id)
	})

	return r.writeSchema(file)
}

func (r *StatusRepository) List(ctx context.Context) ([]domain.SessionStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	statuses := make([]domain.SessionStatus, 0, len(file.Sessions))
	for _, entry := range file.Sessions {
		statuses = append(statuses, fromSchema(entry))
	}
	slices.SortFunc(statuses, func(a, b domain.SessionStatus) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})

	return statuses, nil
}

func containsSession(sessions []sessionSchema, id domain.SessionID) bool {
	for _, entry := range sessions {
		if entry.ID == string(id) {
			return true
		}
	}
	return false
}

func (r *StatusRepository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			file := fileSchema{}
			file.applyDefaults()
			return file, nil
		}
		return fileSchema{}, fmt.Errorf("read status file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode status file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func normalizePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve status path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func (r *StatusRepository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.path), statusDirMode); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode status file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
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
		return fmt.Errorf("write temp status file: %w", err)
	}

	if err := tempFile.Chmod(statusFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp status file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp status file: %w", err)
	}

	if err := os.Rename(tempName, r.path); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}

	cleanup = false
	return nil
}

func toSchema(status domain.SessionStatus) sessionSchema {
	return sessionSchema{
		ID:                   string(status.ID),
		State:                string(status.State),
		Registered:           status.Registered,
		Account:              status.Account,
		RetryCount:           status.RetryCount,
		LastDisconnectReason: string(status.LastDisconnectReason),
		ConnectedAt:          formatTime(status.ConnectedAt),
		UpdatedAt:            formatTime(status.UpdatedAt),
	}
}

func fromSchema(entry sessionSchema) domain.SessionStatus {
	state := domain.SessionState(entry.State)
	if !state.Valid() {
		state = domain.StateUnauthenticated
	}

	return domain.SessionStatus{
		ID:                   domain.SessionID(entry.ID),
		State:                state,
		Registered:           entry.Registered,
		Account:              entry.Account,
		RetryCount:           entry.RetryCount,
		LastDisconnectReason: domain.DisconnectReason(entry.LastDisconnectReason),
		ConnectedAt:          parseTime(entry.ConnectedAt),
		UpdatedAt:            parseTime(entry.UpdatedAt),
	}
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339)
}
