package toml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T, path string) *StatusRepository {
	t.Helper()

	config := viper.New()
	config.Set("status.path", path)
	repo, err := NewStatusRepository(config)
	require.NoError(t, err)
	return repo
}

func TestStatusRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "status.toml"))
	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

	connected := domain.SessionStatus{
		ID:          "94771234567",
		State:       domain.StateConnected,
		Registered:  true,
		Account:     "94771234567@s.whatsapp.net",
		ConnectedAt: now,
		UpdatedAt:   now,
	}
	reconnecting := domain.SessionStatus{
		ID:                   "94770000000",
		State:                domain.StateReconnecting,
		Registered:           true,
		RetryCount:           3,
		LastDisconnectReason: domain.DisconnectConnectionLost,
		UpdatedAt:            now,
	}

	require.NoError(t, repo.Save(context.Background(), connected))
	require.NoError(t, repo.Save(context.Background(), reconnecting))

	statuses, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionStatus{reconnecting, connected}, statuses)
}

func TestStatusRepositorySaveReplacesExistingEntry(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "status.toml"))

	require.NoError(t, repo.Save(context.Background(), domain.SessionStatus{ID: "1", State: domain.StateUnauthenticated}))
	require.NoError(t, repo.Save(context.Background(), domain.SessionStatus{ID: "1", State: domain.StateConnected, Registered: true}))

	statuses, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.StateConnected, statuses[0].State)
	assert.True(t, statuses[0].Registered)
}

func TestStatusRepositoryDelete(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "status.toml"))
	require.NoError(t, repo.Save(context.Background(), domain.SessionStatus{ID: "1", State: domain.StateConnected}))
	require.NoError(t, repo.Save(context.Background(), domain.SessionStatus{ID: "2", State: domain.StateConnected}))

	require.NoError(t, repo.Delete(context.Background(), "1"))
	require.NoError(t, repo.Delete(context.Background(), "1"))
	require.NoError(t, repo.Delete(context.Background(), "404"))

	statuses, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.SessionID("2"), statuses[0].ID)
}

func TestStatusRepositoryDefaultsToSessionsDirectory(t *testing.T) {
	t.Parallel()

	sessionsDir := t.TempDir()
	config := viper.New()
	config.Set("sessions.dir", sessionsDir)

	repo, err := NewStatusRepository(config)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sessionsDir, "status.toml"), repo.Path())
}

func TestStatusRepositoryRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewStatusRepository(viper.New())
	require.Error(t, err)
	assert.ErrorContains(t, err, "status path is empty")
}

func TestStatusRepositorySaveEnforcesPermissions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "status.toml")
	repo := newTestRepository(t, path)

	require.NoError(t, repo.Save(context.Background(), domain.SessionStatus{ID: "1", State: domain.StateConnected}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(statusFileMode), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 1")
}

func TestStatusRepositoryMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "status.toml"))

	statuses, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestStatusRepositoryRejectsInvalidIdentifier(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "status.toml"))

	err := repo.Save(context.Background(), domain.SessionStatus{ID: "abc"})
	require.ErrorIs(t, err, domain.ErrInvalidIdentifier)
}

func TestStatusRepositoryMalformedAndFutureFiles(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "malformed", content: "version = [", wantErr: "decode status file"},
		{name: "future version", content: "version = 999\n\nsessions = []\n", wantErr: "unsupported status schema version"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "status.toml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))

			_, err := newTestRepository(t, path).List(context.Background())
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestStatusRepositoryUnknownStateFallsBackToUnauthenticated(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "status.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n\n[[sessions]]\nid = \"1\"\nstate = \"dancing\"\nupdated_at = \"\"\n"), 0o600))

	statuses, err := newTestRepository(t, path).List(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.StateUnauthenticated, statuses[0].State)
}

func TestStatusRepositorySaveCanceledContextReturnsContextError(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "status.toml"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.Save(ctx, domain.SessionStatus{ID: "1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStatusRepositoryConcurrentSavesAcrossInstancesPreserveAllSessions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "status.toml")
	repoA := newTestRepository(t, path)
	repoB := newTestRepository(t, path)

	const perRepoWrites = 50
	start := make(chan struct{})
	errCh := make(chan error, perRepoWrites*2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < perRepoWrites; i++ {
			errCh <- repoA.Save(context.Background(), domain.SessionStatus{ID: domain.SessionID("1" + strconv.Itoa(i)), State: domain.StateConnected})
		}
	}()

	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < perRepoWrites; i++ {
			errCh <- repoB.Save(context.Background(), domain.SessionStatus{ID: domain.SessionID("2" + strconv.Itoa(i)), State: domain.StateReconnecting})
		}
	}()

	close(start)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	statuses, err := repoA.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, statuses, perRepoWrites*2)
}
