// Package deriv implements the ports.Broker interface for the Deriv
// websocket API: JSON messages over one persistent connection, req_id
// correlation for request/response calls, and a tick stream channel.
package deriv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"derivbot/internal/domain"
	"derivbot/internal/ports"
)

const (
	writeTimeout = 10 * time.Second
	tickBuffer   = 256
)

// Client implements ports.Broker using the gorilla websocket library.
type Client struct {
	endpoint string
	logger   ports.Logger

	nextReqID atomic.Int64
	lastMsg   atomic.Int64 // unix nanoseconds of the last inbound message

	mu      sync.Mutex // guards conn, done, pending
	conn    *websocket.Conn
	done    chan struct{}
	pending map[int64]chan *envelope

	writeMu sync.Mutex

	ticks chan domain.Tick
}

// Config holds configuration specific to the Deriv client adapter.
type Config struct {
	Endpoint string // base websocket URL, without app_id
	AppID    string
	Logger   ports.Logger
}

// New creates a new Deriv client adapter. The connection is established
// separately via Dial so the supervisor owns its lifecycle.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Deriv client")
	}
	if cfg.Endpoint == "" || cfg.AppID == "" {
		return nil, fmt.Errorf("endpoint and app id are required for Deriv client")
	}
	return &Client{
		endpoint: fmt.Sprintf("%s?app_id=%s", cfg.Endpoint, cfg.AppID),
		logger:   cfg.Logger,
		pending:  make(map[int64]chan *envelope),
		ticks:    make(chan domain.Tick, tickBuffer),
	}, nil
}

// Dial establishes the websocket connection and starts the read loop.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("%w: already connected", ports.ErrInvalidRequest)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %w", ports.ErrConnectionFailed, c.endpoint, err)
	}

	c.conn = conn
	c.done = make(chan struct{})
	c.lastMsg.Store(time.Now().UnixNano())
	go c.readLoop(conn, c.done)

	c.logger.Info(ctx, "Websocket connection established", map[string]interface{}{"endpoint": c.endpoint})
	return nil
}

// Close tears down the current connection. Safe to call when disconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Ticks is the stream of parsed ticks; it survives reconnects.
func (c *Client) Ticks() <-chan domain.Tick {
	return c.ticks
}

// Done reports read-loop termination for the current connection.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// LastMessageAt returns the receive time of the most recent inbound message.
func (c *Client) LastMessageAt() time.Time {
	return time.Unix(0, c.lastMsg.Load())
}

// readLoop owns the socket receive side for one connection: it decodes each
// frame into the tagged variant, routes ticks to the tick channel, and
// completes pending calls by req_id. It exits on the first read error.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	ctx := context.Background()
	defer func() {
		c.failPending(done)
		close(done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn(ctx, "Websocket read loop terminated", map[string]interface{}{"error": err.Error()})
			return
		}
		c.lastMsg.Store(time.Now().UnixNano())

		env, err := decodeEnvelope(data)
		if err != nil {
			// One malformed frame must not affect the rest of the stream.
			c.logger.Error(ctx, err, "Discarding malformed message")
			continue
		}

		if env.MsgType == msgTypeTick && env.Tick != nil {
			select {
			case c.ticks <- env.Tick.toTick():
			default:
				c.logger.Warn(ctx, "Tick channel full, dropping tick", map[string]interface{}{"symbol": env.Tick.Symbol})
			}
		}

		if env.ReqID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[env.ReqID]
			if ok {
				delete(c.pending, env.ReqID)
			}
			c.mu.Unlock()
			if ok {
				ch <- env
			}
		}
	}
}

// failPending releases every caller waiting on the connection that died.
func (c *Client) failPending(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	if c.done == done {
		c.conn = nil
	}
}

// call sends one request and waits for its correlated response.
func (c *Client) call(ctx context.Context, request map[string]interface{}) (*envelope, error) {
	reqID := c.nextReqID.Add(1)
	request["req_id"] = reqID

	ch := make(chan *envelope, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ports.ErrNotConnected
	}
	c.pending[reqID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteJSON(request)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: writing request: %w", ports.ErrConnectionFailed, err)
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: connection lost awaiting response", ports.ErrConnectionFailed)
		}
		return env, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: awaiting response: %w", ports.ErrTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctx.Err())
	}
}

// Authorize authenticates the session and returns the account balance.
func (c *Client) Authorize(ctx context.Context, token string) (float64, error) {
	env, err := c.call(ctx, map[string]interface{}{"authorize": token})
	if err != nil {
		return 0, err
	}
	if env.Error != nil {
		// Any error on authorize means the session is unusable.
		return 0, mapAPIError(env.Error, ports.ErrAuthenticationFailed)
	}
	if env.Authorize == nil {
		return 0, fmt.Errorf("%w: authorize response missing payload", ports.ErrMalformedMessage)
	}
	c.logger.Info(ctx, "Session authorized", map[string]interface{}{"balance": env.Authorize.Balance, "currency": env.Authorize.Currency})
	return env.Authorize.Balance, nil
}

// CandleHistory fetches the most recent count candles for a symbol.
func (c *Client) CandleHistory(ctx context.Context, symbol string, granularity, count int) ([]domain.Candle, error) {
	env, err := c.call(ctx, map[string]interface{}{
		"ticks_history": symbol,
		"end":           "latest",
		"count":         count,
		"granularity":   granularity,
		"style":         "candles",
	})
	if err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, mapAPIError(env.Error, ports.ErrUnknown)
	}

	candles := make([]domain.Candle, 0, len(env.Candles))
	for _, cp := range env.Candles {
		candles = append(candles, cp.toCandle(symbol, granularity))
	}
	return candles, nil
}

// SubscribeTicks starts the tick stream for a symbol. The subscription
// confirmation is itself the first tick; the read loop forwards it too.
func (c *Client) SubscribeTicks(ctx context.Context, symbol string) error {
	env, err := c.call(ctx, map[string]interface{}{"ticks": symbol, "subscribe": 1})
	if err != nil {
		return err
	}
	if env.Error != nil {
		return mapAPIError(env.Error, ports.ErrUnknown)
	}
	c.logger.Info(ctx, "Tick stream subscribed", map[string]interface{}{"symbol": symbol})
	return nil
}

// Proposal requests a priced offer and returns its id.
func (c *Client) Proposal(ctx context.Context, req ports.ProposalRequest) (string, error) {
	env, err := c.call(ctx, map[string]interface{}{
		"proposal":      1,
		"amount":        req.Amount,
		"basis":         "stake",
		"contract_type": string(req.ContractType),
		"currency":      req.Currency,
		"duration":      req.Duration,
		"duration_unit": req.DurationUnit,
		"symbol":        req.Symbol,
	})
	if err != nil {
		return "", err
	}
	if env.Error != nil {
		return "", mapAPIError(env.Error, ports.ErrTradeRejected)
	}
	if env.Proposal == nil || env.Proposal.ID == "" {
		return "", fmt.Errorf("%w: proposal response missing id", ports.ErrTradeRejected)
	}
	return env.Proposal.ID, nil
}

// Buy accepts a proposal at the given price and returns the contract id.
func (c *Client) Buy(ctx context.Context, proposalID string, price float64) (int64, error) {
	env, err := c.call(ctx, map[string]interface{}{"buy": proposalID, "price": price})
	if err != nil {
		return 0, err
	}
	if env.Error != nil {
		return 0, mapAPIError(env.Error, ports.ErrTradeRejected)
	}
	if env.Buy == nil || env.Buy.ContractID == 0 {
		return 0, fmt.Errorf("%w: buy response missing contract id", ports.ErrTradeRejected)
	}
	return env.Buy.ContractID, nil
}

// OpenContract polls the status of a contract.
func (c *Client) OpenContract(ctx context.Context, contractID int64) (ports.ContractStatus, error) {
	env, err := c.call(ctx, map[string]interface{}{"proposal_open_contract": 1, "contract_id": contractID})
	if err != nil {
		return ports.ContractStatus{}, err
	}
	if env.Error != nil {
		return ports.ContractStatus{}, mapAPIError(env.Error, ports.ErrUnknown)
	}
	if env.ProposalOpenContract == nil {
		return ports.ContractStatus{}, fmt.Errorf("%w: contract response missing payload", ports.ErrMalformedMessage)
	}
	p := env.ProposalOpenContract
	return ports.ContractStatus{
		ContractID: p.ContractID,
		Status:     p.Status,
		IsSold:     p.IsSold != 0,
		Profit:     p.Profit,
	}, nil
}

// Ping sends an application-level keep-alive.
func (c *Client) Ping(ctx context.Context) error {
	env, err := c.call(ctx, map[string]interface{}{"ping": 1})
	if err != nil {
		return err
	}
	if env.Error != nil {
		return mapAPIError(env.Error, ports.ErrUnknown)
	}
	return nil
}
