// Package supervisor owns the broker connection lifecycle: connect,
// authorize, bootstrap, subscribe, watch liveness, and reconnect with
// backoff. Candle and position state live elsewhere and survive reconnects.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"derivbot/internal/domain"
	"derivbot/internal/ports"
)

const (
	livenessInterval = 30 * time.Second
	softIdleLimit    = 45 * time.Second
	hardIdleLimit    = 90 * time.Second
	requestTimeout   = 30 * time.Second
)

// Config holds the supervisor's connection policy.
type Config struct {
	Token              string
	Symbols            []string
	Granularities      []int
	CandleHistoryCount int
	ReconnectBase      time.Duration
	ReconnectCap       time.Duration
}

// Supervisor drives the connection state machine. Every parsed tick is
// handed to OnTick; the rest of the bot never touches the transport.
type Supervisor struct {
	cfg    Config
	broker ports.Broker
	logger ports.Logger

	// OnTick receives every tick from the stream. Must not block.
	OnTick func(domain.Tick)
	// OnHistory receives bootstrap candles per (symbol, granularity).
	OnHistory func(symbol string, granularity int, candles []domain.Candle)
}

// New validates dependencies and returns a supervisor.
func New(cfg Config, broker ports.Broker, logger ports.Logger) (*Supervisor, error) {
	if broker == nil || logger == nil {
		return nil, fmt.Errorf("broker and logger are required for supervisor")
	}
	if len(cfg.Symbols) == 0 || len(cfg.Granularities) == 0 {
		return nil, fmt.Errorf("at least one symbol and granularity are required")
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 5 * time.Second
	}
	if cfg.ReconnectCap < cfg.ReconnectBase {
		cfg.ReconnectCap = 60 * time.Second
	}
	if cfg.CandleHistoryCount <= 0 {
		cfg.CandleHistoryCount = 100
	}
	return &Supervisor{cfg: cfg, broker: broker, logger: logger}, nil
}

// newBackoff builds the reconnect policy: exponential with jitter so
// multiple bot processes never retry in lockstep.
func newBackoff(base, ceiling time.Duration) *backoff.Backoff {
	return &backoff.Backoff{
		Min:    base,
		Max:    ceiling,
		Factor: 2,
		Jitter: true,
	}
}

// Run drives the connect/monitor/reconnect loop until the context is
// canceled or a fatal error occurs. Authorization failure is fatal: retrying
// an unauthenticated session is meaningless.
func (s *Supervisor) Run(ctx context.Context) error {
	boff := newBackoff(s.cfg.ReconnectBase, s.cfg.ReconnectCap)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		err := s.connect(ctx)
		if err != nil {
			if errors.Is(err, ports.ErrAuthenticationFailed) {
				s.logger.Error(ctx, err, "Authorization failed, giving up")
				return err
			}
			delay := boff.Duration()
			s.logger.Warn(ctx, "Connection attempt failed, backing off", map[string]interface{}{
				"error":   err.Error(),
				"attempt": int(boff.Attempt()),
				"delay":   delay.String(),
			})
			s.broker.Close()
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		// The attempt counter resets only once the new connection has
		// actually produced a message.
		if err := s.monitor(ctx, boff); err != nil {
			return err
		}
		if ctx.Err() != nil {
			s.shutdown(ctx)
			return nil
		}
		s.logger.Warn(ctx, "Connection lost, reconnecting")
		s.broker.Close()
	}
}

// connect walks DISCONNECTED → CONNECTING → AUTHORIZING → SUBSCRIBING.
// Any failure returns the connection to the disconnected state.
func (s *Supervisor) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := s.broker.Dial(dialCtx); err != nil {
		return err
	}

	authCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if _, err := s.broker.Authorize(authCtx, s.cfg.Token); err != nil {
		return err
	}

	// Bootstrap history so detection has candles before the first seals.
	for _, symbol := range s.cfg.Symbols {
		for _, granularity := range s.cfg.Granularities {
			histCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			candles, err := s.broker.CandleHistory(histCtx, symbol, granularity, s.cfg.CandleHistoryCount)
			cancel()
			if err != nil {
				// History is a warm start, not a requirement; the series
				// fills from live ticks either way.
				s.logger.Warn(ctx, "Failed to bootstrap candle history", map[string]interface{}{
					"symbol": symbol, "granularity": granularity, "error": err.Error(),
				})
				continue
			}
			if s.OnHistory != nil {
				s.OnHistory(symbol, granularity, candles)
			}
		}
	}

	for _, symbol := range s.cfg.Symbols {
		subCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		err := s.broker.SubscribeTicks(subCtx, symbol)
		cancel()
		if err != nil {
			return fmt.Errorf("subscribing %s: %w", symbol, err)
		}
	}

	s.logger.Info(ctx, "Connection active", map[string]interface{}{"symbols": len(s.cfg.Symbols)})
	return nil
}

// monitor runs the ACTIVE state: route ticks, watch liveness. It returns
// nil when the connection drops (reconnect) or the context ends; a non-nil
// error is fatal.
func (s *Supervisor) monitor(ctx context.Context, boff *backoff.Backoff) error {
	done := s.broker.Done()
	liveness := time.NewTicker(livenessInterval)
	defer liveness.Stop()

	attemptsReset := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-done:
			return nil

		case tick, ok := <-s.broker.Ticks():
			if !ok {
				return nil
			}
			if !attemptsReset {
				boff.Reset()
				attemptsReset = true
				s.logger.Debug(ctx, "First message received, reconnect attempts reset")
			}
			if s.OnTick != nil {
				s.OnTick(tick)
			}

		case <-liveness.C:
			idle := time.Since(s.broker.LastMessageAt())
			switch {
			case idle > hardIdleLimit:
				s.logger.Warn(ctx, "Connection idle past hard limit, forcing reconnect", map[string]interface{}{"idle": idle.String()})
				s.broker.Close()
				return nil
			case idle > softIdleLimit:
				s.logger.Debug(ctx, "Connection idle, sending keep-alive", map[string]interface{}{"idle": idle.String()})
				pingCtx, cancel := context.WithTimeout(ctx, requestTimeout)
				if err := s.broker.Ping(pingCtx); err != nil {
					s.logger.Warn(ctx, "Keep-alive failed", map[string]interface{}{"error": err.Error()})
				}
				cancel()
			}
		}
	}
}

// shutdown closes the transport on context cancellation.
func (s *Supervisor) shutdown(ctx context.Context) {
	s.logger.Info(ctx, "Supervisor shutting down, closing connection")
	s.broker.Close()
}
