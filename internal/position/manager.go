// Package position owns the per-instrument trade lifecycle: whether a new
// trade may open, the stake it uses, and how settlements move the stake.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"derivbot/internal/domain"
	"derivbot/internal/ports"
)

// Config holds the stake and cooldown policy.
type Config struct {
	BaseStake            float64
	MartingaleMultiplier float64
	StakeMode            domain.StakeMode
	Cooldown             time.Duration
}

// Manager is the per-instrument position state machine. All positions are
// guarded by one mutex; network round trips never run under it.
type Manager struct {
	cfg       Config
	logger    ports.Logger
	store     ports.StateStore
	tradeRepo ports.TradeRepository // optional audit log, may be nil
	now       func() time.Time

	mu        sync.Mutex
	positions map[string]*domain.Position
}

// New loads persisted positions for the configured symbols and returns the
// manager. Positions stuck in a transient state from a previous run degrade
// to idle: a pending trade was never confirmed placed, an open contract
// keeps its id so the settlement poller can recover it.
func New(ctx context.Context, cfg Config, symbols []string, store ports.StateStore, tradeRepo ports.TradeRepository, logger ports.Logger) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for position manager")
	}
	if store == nil {
		return nil, fmt.Errorf("state store is required for position manager")
	}
	if cfg.BaseStake <= 0 {
		return nil, fmt.Errorf("base stake must be positive")
	}
	if cfg.MartingaleMultiplier < 1 {
		return nil, fmt.Errorf("martingale multiplier must be at least 1")
	}
	if cfg.StakeMode != domain.StakeModeReset && cfg.StakeMode != domain.StakeModeAccumulate {
		return nil, fmt.Errorf("unknown stake mode %q", cfg.StakeMode)
	}

	positions, err := store.Load(ctx, symbols, cfg.BaseStake)
	if err != nil {
		return nil, fmt.Errorf("failed to load position state: %w", err)
	}
	for sym, pos := range positions {
		switch pos.State {
		case domain.StatePending:
			logger.Warn(ctx, "Discarding unconfirmed pending trade from previous run", map[string]interface{}{"symbol": sym})
			pos.State = domain.StateIdle
			pos.ContractID = 0
			pos.Direction = domain.DirectionNone
		case domain.StateOpen, domain.StateSettling:
			// Keep the contract id: the settlement poller picks it up.
			logger.Info(ctx, "Recovered open contract from previous run", map[string]interface{}{"symbol": sym, "contractID": pos.ContractID})
			pos.State = domain.StateOpen
		}
	}

	return &Manager{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		tradeRepo: tradeRepo,
		now:       time.Now,
		positions: positions,
	}, nil
}

// OnSignal asks whether a trade may open for the symbol. Acceptance moves
// the position to pending and returns the stake to request. Rejections
// leave the position untouched.
func (m *Manager) OnSignal(symbol string, direction domain.Direction, granularity int) (stake float64, accepted bool) {
	ctx := context.Background()
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		m.logger.Warn(ctx, "Signal for unconfigured symbol", map[string]interface{}{"symbol": symbol})
		return 0, false
	}
	if !pos.IsIdle() {
		m.logger.Debug(ctx, "Signal rejected: position not idle", map[string]interface{}{"symbol": symbol, "state": pos.State})
		return 0, false
	}
	if m.cfg.Cooldown > 0 && !pos.LastTradeTime.IsZero() {
		if elapsed := m.now().Sub(pos.LastTradeTime); elapsed < m.cfg.Cooldown {
			m.logger.Debug(ctx, "Signal rejected: cooldown active", map[string]interface{}{
				"symbol":    symbol,
				"elapsed":   elapsed.String(),
				"cooldown":  m.cfg.Cooldown.String(),
				"direction": direction,
			})
			return 0, false
		}
	}

	pos.State = domain.StatePending
	pos.Direction = direction
	pos.Granularity = granularity
	m.logger.Info(ctx, "Signal accepted", map[string]interface{}{"symbol": symbol, "direction": direction, "stake": pos.Stake, "martingaleStep": pos.MartingaleStep})
	return pos.Stake, true
}

// OnTradeOpened commits a confirmed buy: pending becomes open, the cooldown
// clock starts, and the snapshot is persisted.
func (m *Manager) OnTradeOpened(symbol string, contractID int64) {
	ctx := context.Background()
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok || pos.State != domain.StatePending {
		m.logger.Warn(ctx, "Trade opened for position not in pending state", map[string]interface{}{"symbol": symbol})
		return
	}
	now := m.now()
	pos.State = domain.StateOpen
	pos.ContractID = contractID
	pos.EntryTime = now
	pos.LastTradeTime = now
	m.logger.Info(ctx, "Trade opened", map[string]interface{}{"symbol": symbol, "contractID": contractID, "stake": pos.Stake})
	m.persistLocked(ctx)
}

// OnTradeRejected rolls a pending position back to idle. The stake is not
// mutated and the opportunity is lost; rejected trades are never retried.
func (m *Manager) OnTradeRejected(symbol string) {
	ctx := context.Background()
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok || pos.State != domain.StatePending {
		return
	}
	pos.State = domain.StateIdle
	pos.Direction = domain.DirectionNone
	pos.Granularity = 0
	m.logger.Warn(ctx, "Trade rejected, position back to idle", map[string]interface{}{"symbol": symbol})
}

// OnSettlement applies a realized profit: win resets or accumulates the
// stake per the configured mode, loss escalates it. The trade is appended to
// the history, recorded in the audit log, and the snapshot persisted. The
// position always returns to idle.
func (m *Manager) OnSettlement(symbol string, profit float64) {
	ctx := context.Background()
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok || pos.State != domain.StateOpen {
		m.logger.Warn(ctx, "Settlement for position not in open state", map[string]interface{}{"symbol": symbol})
		return
	}
	pos.State = domain.StateSettling

	rec := domain.TradeRecord{
		Time:        m.now(),
		Direction:   pos.Direction,
		Stake:       pos.Stake,
		Granularity: pos.Granularity,
		Profit:      profit,
		Outcome:     domain.OutcomeFromProfit(profit),
		ContractID:  pos.ContractID,
	}
	pos.History = append(pos.History, rec)

	if profit > 0 {
		switch m.cfg.StakeMode {
		case domain.StakeModeAccumulate:
			pos.Stake += profit
		default:
			pos.Stake = m.cfg.BaseStake
		}
		pos.MartingaleStep = 0
		m.logger.Info(ctx, "Trade won", map[string]interface{}{"symbol": symbol, "profit": profit, "nextStake": pos.Stake})
	} else {
		pos.Stake *= m.cfg.MartingaleMultiplier
		pos.MartingaleStep++
		m.logger.Info(ctx, "Trade lost", map[string]interface{}{"symbol": symbol, "profit": profit, "nextStake": pos.Stake, "martingaleStep": pos.MartingaleStep})
	}

	pos.State = domain.StateIdle
	pos.Direction = domain.DirectionNone
	pos.Granularity = 0
	pos.ContractID = 0

	if m.tradeRepo != nil {
		if _, err := m.tradeRepo.RecordTrade(ctx, symbol, rec); err != nil {
			m.logger.Error(ctx, err, "Failed to record trade in audit log", map[string]interface{}{"symbol": symbol})
		}
	}
	m.persistLocked(ctx)
}

// OpenContracts returns the (symbol, contractID) pairs awaiting settlement.
func (m *Manager) OpenContracts() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int64)
	for sym, pos := range m.positions {
		if pos.State == domain.StateOpen && pos.ContractID != 0 {
			out[sym] = pos.ContractID
		}
	}
	return out
}

// Position returns a copy of the position for a symbol, or nil when the
// symbol is not configured.
func (m *Manager) Position(symbol string) *domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return nil
	}
	clone := *pos
	clone.History = append([]domain.TradeRecord(nil), pos.History...)
	return &clone
}

// Persist writes the current snapshot, used at shutdown.
func (m *Manager) Persist(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistLocked(ctx)
}

// persistLocked writes the snapshot. A failure is logged and the in-memory
// state stays authoritative until the next successful write.
func (m *Manager) persistLocked(ctx context.Context) {
	if err := m.store.Save(ctx, m.positions); err != nil {
		m.logger.Error(ctx, err, "Failed to persist position state")
	}
}
