package ports

import (
	"context"
	"time"

	"derivbot/internal/domain"
)

// ProposalRequest describes a priced trade offer to request from the broker.
type ProposalRequest struct {
	Symbol       string
	ContractType domain.Direction
	Amount       float64
	Currency     string
	Duration     int
	DurationUnit string // "t", "s", "m", "h", "d"
}

// ContractStatus is the broker's view of a live or settled contract.
type ContractStatus struct {
	ContractID int64
	Status     string // "open", "sold", "won", "lost"
	IsSold     bool
	Profit     float64
}

// Broker is the interface to the brokerage streaming API. One connection
// serves every instrument; the supervisor owns dialing and teardown while
// the rest of the bot issues requests through the same client.
type Broker interface {
	// Dial establishes the websocket connection. It must be called before
	// any other method and again after Close when reconnecting.
	Dial(ctx context.Context) error

	// Close tears down the connection. Safe to call multiple times.
	Close() error

	// Authorize authenticates the session and returns the account balance.
	// A credential rejection wraps ErrAuthenticationFailed.
	Authorize(ctx context.Context, token string) (balance float64, err error)

	// CandleHistory fetches the most recent count candles for a symbol at
	// the given granularity (seconds).
	CandleHistory(ctx context.Context, symbol string, granularity, count int) ([]domain.Candle, error)

	// SubscribeTicks starts the tick stream for a symbol. Ticks arrive on
	// the Ticks channel. Must be re-issued after a reconnect.
	SubscribeTicks(ctx context.Context, symbol string) error

	// Proposal requests a priced offer and returns its id.
	Proposal(ctx context.Context, req ProposalRequest) (proposalID string, err error)

	// Buy accepts a proposal at the given price and returns the contract id.
	Buy(ctx context.Context, proposalID string, price float64) (contractID int64, err error)

	// OpenContract polls the status of a contract.
	OpenContract(ctx context.Context, contractID int64) (ContractStatus, error)

	// Ping sends an application-level keep-alive.
	Ping(ctx context.Context) error

	// Ticks is the stream of parsed ticks for all subscribed symbols.
	// The channel is owned by the client and survives reconnects.
	Ticks() <-chan domain.Tick

	// Done reports read-loop termination for the current connection. It is
	// closed when the connection drops; a new Dial arms a new channel.
	Done() <-chan struct{}

	// LastMessageAt returns the receive time of the most recent inbound
	// message on the current connection.
	LastMessageAt() time.Time
}
