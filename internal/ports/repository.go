package ports

import (
	"context"

	"derivbot/internal/domain"
)

// StateStore persists the per-instrument position snapshot. Implementations
// must reconcile on load: configured symbols missing from the store get
// defaults, unknown stored entries are retained but stay inert.
type StateStore interface {
	// Load returns positions for the configured symbols, defaulted where
	// the store has no entry.
	Load(ctx context.Context, symbols []string, baseStake float64) (map[string]*domain.Position, error)
	// Save writes a snapshot of all positions. Failures wrap ErrPersistence.
	Save(ctx context.Context, positions map[string]*domain.Position) error
}

// TradeRepository is the durable append-only audit log of settled trades.
type TradeRepository interface {
	// RecordTrade saves one settled trade and returns its assigned ID.
	RecordTrade(ctx context.Context, symbol string, rec domain.TradeRecord) (int64, error)
	// FindBySymbol retrieves the most recent trades for a symbol, up to limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error)
	// CountTodayBySymbol counts trades settled today for a symbol.
	CountTodayBySymbol(ctx context.Context, symbol string) (int, error)
	// TotalProfit sums realized profit across all recorded trades.
	TotalProfit(ctx context.Context) (float64, error)
}
