// Package jsonstore persists the per-instrument position snapshot as a
// single JSON file keyed by symbol, replaced atomically on every save.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"derivbot/internal/domain"
	"derivbot/internal/ports"
)

// Store implements ports.StateStore over a JSON file.
type Store struct {
	path   string
	logger ports.Logger

	mu sync.Mutex
	// extras holds entries for symbols not currently configured; they are
	// written back verbatim so switching instrument sets loses nothing.
	extras map[string]json.RawMessage
}

// Config holds configuration for the JSON state store.
type Config struct {
	Path   string
	Logger ports.Logger
}

// entry is the on-disk shape for one symbol.
type entry struct {
	Active         bool                 `json:"active"`
	State          domain.PositionState `json:"state"`
	Stake          float64              `json:"stake"`
	MartingaleStep int                  `json:"martingale_step"`
	Direction      domain.Direction     `json:"direction,omitempty"`
	Granularity    int                  `json:"granularity,omitempty"`
	ContractID     int64                `json:"contract_id,omitempty"`
	EntryTime      time.Time            `json:"entry_time,omitempty"`
	LastTradeTime  time.Time            `json:"last_trade_time,omitempty"`
	History        []domain.TradeRecord `json:"history,omitempty"`
}

// New creates the store and ensures its directory exists.
func New(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for JSON state store")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required for JSON state store")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory '%s': %w", filepath.Dir(cfg.Path), err)
	}
	return &Store{path: cfg.Path, logger: cfg.Logger, extras: make(map[string]json.RawMessage)}, nil
}

// Load reads the snapshot and reconciles it with the configured symbols:
// missing symbols get a default idle position with the base stake; entries
// for unconfigured symbols are kept aside and rewritten untouched on Save.
func (s *Store) Load(ctx context.Context, symbols []string, baseStake float64) (map[string]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := make(map[string]json.RawMessage)
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info(ctx, "No existing state file, starting with defaults", map[string]interface{}{"path": s.path})
	case err != nil:
		return nil, fmt.Errorf("%w: reading state file '%s': %w", ports.ErrPersistence, s.path, err)
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: decoding state file '%s': %w", ports.ErrPersistence, s.path, err)
		}
	}

	configured := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		configured[sym] = true
	}

	positions := make(map[string]*domain.Position, len(symbols))
	s.extras = make(map[string]json.RawMessage)
	for sym, msg := range raw {
		if !configured[sym] {
			s.extras[sym] = msg
			continue
		}
		var e entry
		if err := json.Unmarshal(msg, &e); err != nil {
			s.logger.Warn(ctx, "Corrupt state entry, using defaults", map[string]interface{}{"symbol": sym, "error": err.Error()})
			continue
		}
		positions[sym] = positionFromEntry(sym, e, baseStake)
	}
	for _, sym := range symbols {
		if positions[sym] == nil {
			positions[sym] = domain.NewPosition(sym, baseStake)
		}
	}

	s.logger.Info(ctx, "Position state loaded", map[string]interface{}{"path": s.path, "configured": len(positions), "inert": len(s.extras)})
	return positions, nil
}

// Save writes the full snapshot atomically (temp file + rename).
func (s *Store) Save(ctx context.Context, positions map[string]*domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]json.RawMessage, len(positions)+len(s.extras))
	for sym, msg := range s.extras {
		out[sym] = msg
	}
	for sym, pos := range positions {
		msg, err := json.Marshal(entryFromPosition(pos))
		if err != nil {
			return fmt.Errorf("%w: encoding position for %s: %w", ports.ErrPersistence, sym, err)
		}
		out[sym] = msg
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding state snapshot: %w", ports.ErrPersistence, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: writing state file '%s': %w", ports.ErrPersistence, tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: replacing state file '%s': %w", ports.ErrPersistence, s.path, err)
	}
	return nil
}

func positionFromEntry(symbol string, e entry, baseStake float64) *domain.Position {
	pos := &domain.Position{
		Symbol:         symbol,
		State:          e.State,
		Stake:          e.Stake,
		MartingaleStep: e.MartingaleStep,
		Direction:      e.Direction,
		Granularity:    e.Granularity,
		ContractID:     e.ContractID,
		EntryTime:      e.EntryTime,
		LastTradeTime:  e.LastTradeTime,
		History:        e.History,
	}
	if pos.Stake <= 0 {
		pos.Stake = baseStake
	}
	switch pos.State {
	case domain.StateIdle, domain.StatePending, domain.StateOpen, domain.StateSettling:
	default:
		// Older files carried only the active flag.
		if e.Active {
			pos.State = domain.StateOpen
		} else {
			pos.State = domain.StateIdle
		}
	}
	return pos
}

func entryFromPosition(pos *domain.Position) entry {
	return entry{
		Active:         !pos.IsIdle(),
		State:          pos.State,
		Stake:          pos.Stake,
		MartingaleStep: pos.MartingaleStep,
		Direction:      pos.Direction,
		Granularity:    pos.Granularity,
		ContractID:     pos.ContractID,
		EntryTime:      pos.EntryTime,
		LastTradeTime:  pos.LastTradeTime,
		History:        pos.History,
	}
}
