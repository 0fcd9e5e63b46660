package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"derivbot/internal/domain"
	"derivbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.TradeRepository interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trades.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Trade history database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		stake REAL NOT NULL,
		granularity INTEGER NOT NULL,
		profit REAL NOT NULL,
		outcome TEXT NOT NULL,
		contract_id INTEGER NULL,
		settle_time TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_settle_time ON trade_history (symbol, settle_time);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// RecordTrade saves one settled trade and returns its assigned ID.
func (r *Repository) RecordTrade(ctx context.Context, symbol string, rec domain.TradeRecord) (int64, error) {
	const query = `
	INSERT INTO trade_history (symbol, direction, stake, granularity, profit, outcome, contract_id, settle_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var contractID sql.NullInt64
	if rec.ContractID != 0 {
		contractID = sql.NullInt64{Int64: rec.ContractID, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		symbol, rec.Direction, rec.Stake, rec.Granularity, rec.Profit, rec.Outcome, contractID, rec.Time)
	if err != nil {
		return 0, fmt.Errorf("%w: inserting trade for symbol %s: %w", ports.ErrQueryFailed, symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert ID for trade %s: %w", ports.ErrQueryFailed, symbol, err)
	}
	r.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"tradeID": id, "symbol": symbol, "profit": rec.Profit})
	return id, nil
}

// FindBySymbol retrieves the most recent trades for a symbol, up to limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error) {
	const query = `
	SELECT direction, stake, granularity, profit, outcome, contract_id, settle_time
	FROM trade_history
	WHERE symbol = ? ORDER BY settle_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying trades for symbol %s: %w", ports.ErrQueryFailed, symbol, err)
	}
	defer rows.Close()

	trades := make([]domain.TradeRecord, 0)
	for rows.Next() {
		var rec domain.TradeRecord
		var contractID sql.NullInt64
		var direction, outcome string
		if err := rows.Scan(&direction, &rec.Stake, &rec.Granularity, &rec.Profit, &outcome, &contractID, &rec.Time); err != nil {
			return nil, fmt.Errorf("%w: scanning trade row: %w", ports.ErrQueryFailed, err)
		}
		rec.Direction = domain.Direction(direction)
		rec.Outcome = domain.Outcome(outcome)
		if contractID.Valid {
			rec.ContractID = contractID.Int64
		}
		trades = append(trades, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating trade rows: %w", ports.ErrQueryFailed, err)
	}
	return trades, nil
}

// CountTodayBySymbol counts trades settled today for a symbol.
func (r *Repository) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	const query = `SELECT COUNT(*) FROM trade_history WHERE symbol = ? AND date(settle_time) = date('now', 'localtime')`
	var count int
	err := r.db.QueryRowContext(ctx, query, symbol).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting trades today for symbol %s: %w", ports.ErrQueryFailed, symbol, err)
	}
	return count, nil
}

// TotalProfit sums realized profit across all recorded trades.
func (r *Repository) TotalProfit(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(profit), 0) FROM trade_history`
	var total float64
	err := r.db.QueryRowContext(ctx, query).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: calculating total profit: %w", ports.ErrQueryFailed, err)
	}
	return total, nil
}
