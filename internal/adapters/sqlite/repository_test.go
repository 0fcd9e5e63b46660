package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"derivbot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func settled(direction domain.Direction, stake, profit float64, at time.Time) domain.TradeRecord {
	return domain.TradeRecord{
		Time:        at,
		Direction:   direction,
		Stake:       stake,
		Granularity: 60,
		Profit:      profit,
		Outcome:     domain.OutcomeFromProfit(profit),
		ContractID:  12345,
	}
}

func TestRepository_RecordAndFind(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	id1, err := repo.RecordTrade(ctx, "R_100", settled(domain.Call, 0.35, 0.31, now.Add(-time.Minute)))
	require.NoError(t, err)
	assert.Positive(t, id1)

	id2, err := repo.RecordTrade(ctx, "R_100", settled(domain.Put, 1.05, -1.05, now))
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	_, err = repo.RecordTrade(ctx, "R_50", settled(domain.Call, 0.35, 0.31, now))
	require.NoError(t, err)

	trades, err := repo.FindBySymbol(ctx, "R_100", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	// Newest first.
	assert.Equal(t, domain.Put, trades[0].Direction)
	assert.Equal(t, domain.OutcomeLoss, trades[0].Outcome)
	assert.Equal(t, domain.Call, trades[1].Direction)
	assert.Equal(t, int64(12345), trades[0].ContractID)
	assert.Equal(t, 60, trades[0].Granularity)
}

func TestRepository_FindBySymbolLimit(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 5; i++ {
		_, err := repo.RecordTrade(ctx, "R_100", settled(domain.Call, 0.35, 0.31, now.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	trades, err := repo.FindBySymbol(ctx, "R_100", 3)
	require.NoError(t, err)
	assert.Len(t, trades, 3)

	trades, err = repo.FindBySymbol(ctx, "UNKNOWN", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestRepository_CountTodayBySymbol(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	_, err := repo.RecordTrade(ctx, "R_100", settled(domain.Call, 0.35, 0.31, now))
	require.NoError(t, err)
	_, err = repo.RecordTrade(ctx, "R_100", settled(domain.Put, 0.35, -0.35, now.Add(-48*time.Hour)))
	require.NoError(t, err)

	count, err := repo.CountTodayBySymbol(ctx, "R_100")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepository_TotalProfit(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	total, err := repo.TotalProfit(ctx)
	require.NoError(t, err)
	assert.Zero(t, total, "empty table sums to zero")

	now := time.Now()
	_, err = repo.RecordTrade(ctx, "R_100", settled(domain.Call, 0.35, 0.31, now))
	require.NoError(t, err)
	_, err = repo.RecordTrade(ctx, "R_50", settled(domain.Put, 1.05, -1.05, now))
	require.NoError(t, err)

	total, err = repo.TotalProfit(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -0.74, total, 1e-9)
}
