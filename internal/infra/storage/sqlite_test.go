package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"offramp_go/internal/domain"

	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLite {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) domain.Store { return setupTestDB(t) })
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateOrder(ctx, sampleOrder("offramp-persist", created)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	latest, err := reopened.LatestOrder(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, "offramp-persist", latest.ID)
	require.True(t, latest.LockExpiresAt.Equal(created.Add(15*time.Minute)))
	require.True(t, latest.Fees.ReceiveAmount.Equal(sampleOrder("", created).Fees.ReceiveAmount))
}
