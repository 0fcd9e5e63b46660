package domain

import "time"

// PositionState is the per-instrument trade lifecycle state.
type PositionState string

const (
	// StateIdle means no trade is in flight; a signal may open one.
	StateIdle PositionState = "idle"
	// StatePending means a proposal/buy round trip is in flight.
	StatePending PositionState = "pending"
	// StateOpen means a contract is live and awaits settlement.
	StateOpen PositionState = "open"
	// StateSettling means a settlement is being applied.
	StateSettling PositionState = "settling"
)

// TradeRecord is one entry of a position's append-only trade history.
type TradeRecord struct {
	Time        time.Time `json:"time"`
	Direction   Direction `json:"direction"`
	Stake       float64   `json:"stake"`
	Granularity int       `json:"timeframe"`
	Profit      float64   `json:"profit"`
	Outcome     Outcome   `json:"outcome"`
	ContractID  int64     `json:"contract_id,omitempty"`
}

// Position is the per-instrument trade slot. There is exactly one per
// configured symbol regardless of how many timeframes feed it; it is created
// at startup (loaded or defaulted) and lives for the process lifetime.
type Position struct {
	Symbol         string        `json:"-"`
	State          PositionState `json:"state"`
	Stake          float64       `json:"stake"`
	MartingaleStep int           `json:"martingale_step"`
	Direction      Direction     `json:"direction,omitempty"`
	Granularity    int           `json:"granularity,omitempty"` // timeframe of the signal that opened the trade
	ContractID     int64         `json:"contract_id,omitempty"`
	EntryTime      time.Time     `json:"entry_time,omitempty"`
	LastTradeTime  time.Time     `json:"last_trade_time,omitempty"`
	History        []TradeRecord `json:"history,omitempty"`
}

// NewPosition returns an idle position with the base stake.
func NewPosition(symbol string, baseStake float64) *Position {
	return &Position{
		Symbol: symbol,
		State:  StateIdle,
		Stake:  baseStake,
	}
}

// IsIdle reports whether the position can accept a new signal.
func (p *Position) IsIdle() bool {
	return p.State == StateIdle
}
