package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"derivbot/config"
	"derivbot/internal/aggregator"
	"derivbot/internal/domain"
	"derivbot/internal/ports"
	"derivbot/internal/position"
	"derivbot/internal/supervisor"
)

const (
	detectInterval = 5 * time.Second  // sweep sealed series for new signals
	settleInterval = 15 * time.Second // poll open contracts for settlement
	statsInterval  = 5 * time.Minute
	tradeTimeout   = 30 * time.Second
)

type evalKey struct {
	symbol      string
	granularity int
}

// TradingService orchestrates the bot: it feeds the aggregator from the
// supervisor's stream, sweeps sealed candle series through the strategies,
// and drives the position manager and broker for every accepted signal.
type TradingService struct {
	cfg        *config.Config
	logger     ports.Logger
	broker     ports.Broker
	agg        *aggregator.Aggregator
	strategies []ports.Strategy
	manager    *position.Manager
	sup        *supervisor.Supervisor
	tradeRepo  ports.TradeRepository // optional, stats only

	// lastEval tracks the newest sealed period already swept per series so
	// each candle close is evaluated exactly once.
	mu       sync.Mutex
	lastEval map[evalKey]int64
}

// NewTradingService creates a new application service instance and wires the
// supervisor's callbacks into the aggregator.
func NewTradingService(
	cfg *config.Config,
	logger ports.Logger,
	broker ports.Broker,
	agg *aggregator.Aggregator,
	strategies []ports.Strategy,
	manager *position.Manager,
	sup *supervisor.Supervisor,
	tradeRepo ports.TradeRepository,
) (*TradingService, error) {
	if cfg == nil || logger == nil || broker == nil || agg == nil || manager == nil || sup == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("at least one strategy is required")
	}

	s := &TradingService{
		cfg:        cfg,
		logger:     logger,
		broker:     broker,
		agg:        agg,
		strategies: strategies,
		manager:    manager,
		sup:        sup,
		tradeRepo:  tradeRepo,
		lastEval:   make(map[evalKey]int64),
	}

	sup.OnTick = agg.Ingest
	sup.OnHistory = agg.Seed

	return s, nil
}

// Start runs the bot until the context is canceled, a shutdown signal
// arrives, or the connection supervisor gives up (fatal authorization
// failure). Position state is persisted before returning.
func (s *TradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting trading service", map[string]interface{}{
		"symbols":       s.cfg.Symbols,
		"granularities": s.cfg.Granularities,
		"strategies":    s.strategyNames(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	supErrCh := make(chan error, 1)
	go func() {
		supErrCh <- s.sup.Run(ctx)
	}()

	detectTicker := time.NewTicker(detectInterval)
	defer detectTicker.Stop()
	settleTicker := time.NewTicker(settleInterval)
	defer settleTicker.Stop()
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-supErrCh:
			runErr = err
			break loop
		case <-detectTicker.C:
			s.sweep(ctx)
		case <-settleTicker.C:
			s.pollSettlements(ctx)
		case <-statsTicker.C:
			s.logStats(ctx)
		}
	}

	s.logger.Info(ctx, "Shutting down, persisting position state")
	s.manager.Persist(context.Background())
	return runErr
}

// sweep evaluates every (symbol, granularity) series whose newest sealed
// candle has advanced since the last pass.
func (s *TradingService) sweep(ctx context.Context) {
	for _, symbol := range s.cfg.Symbols {
		for _, granularity := range s.cfg.Granularities {
			period := s.agg.NewestSealedPeriod(symbol, granularity)
			if period == 0 {
				continue
			}
			key := evalKey{symbol: symbol, granularity: granularity}
			s.mu.Lock()
			seen := s.lastEval[key]
			if period != seen {
				s.lastEval[key] = period
			}
			s.mu.Unlock()
			if period == seen {
				continue
			}
			s.evaluate(ctx, symbol, granularity)
		}
	}
}

// evaluate runs every strategy on one series and opens a trade when they
// agree. A single firing strategy is enough; two firing in opposite
// directions cancel each other out.
func (s *TradingService) evaluate(ctx context.Context, symbol string, granularity int) {
	volumes := s.agg.Volumes(symbol, granularity)

	direction := domain.DirectionNone
	var firedBy string
	for _, strat := range s.strategies {
		candles := s.agg.Latest(symbol, granularity, strat.MinCandles())
		if len(candles) < strat.MinCandles() {
			continue
		}
		got := strat.Detect(candles, volumes)
		if got == domain.DirectionNone {
			continue
		}
		s.logger.Debug(ctx, "Strategy fired", map[string]interface{}{
			"strategy":    strat.Name(),
			"symbol":      symbol,
			"granularity": granularity,
			"direction":   got,
		})
		if direction != domain.DirectionNone && direction != got {
			s.logger.Info(ctx, "Conflicting signals, skipping trade", map[string]interface{}{
				"symbol":      symbol,
				"granularity": granularity,
			})
			return
		}
		direction = got
		firedBy = strat.Name()
	}
	if direction == domain.DirectionNone {
		return
	}

	stake, accepted := s.manager.OnSignal(symbol, direction, granularity)
	if !accepted {
		s.logger.Debug(ctx, "Signal not actionable", map[string]interface{}{
			"symbol":    symbol,
			"direction": direction,
		})
		return
	}

	s.logger.Info(ctx, "Signal accepted, placing trade", map[string]interface{}{
		"symbol":      symbol,
		"granularity": granularity,
		"direction":   direction,
		"stake":       stake,
		"strategy":    firedBy,
	})
	go s.executeTrade(ctx, symbol, direction, stake)
}

// executeTrade runs the proposal/buy round trip off the sweep goroutine so a
// slow broker never stalls detection. The position stays PENDING until the
// contract is confirmed or the request fails.
func (s *TradingService) executeTrade(ctx context.Context, symbol string, direction domain.Direction, stake float64) {
	reqCtx, cancel := context.WithTimeout(ctx, tradeTimeout)
	defer cancel()

	proposalID, err := s.broker.Proposal(reqCtx, ports.ProposalRequest{
		Symbol:       symbol,
		ContractType: direction,
		Amount:       stake,
		Currency:     s.cfg.Currency,
		Duration:     s.cfg.ContractDuration,
		DurationUnit: s.cfg.ContractDurationUnit,
	})
	if err != nil {
		s.logger.Error(ctx, err, "Proposal request failed", map[string]interface{}{"symbol": symbol})
		s.manager.OnTradeRejected(symbol)
		return
	}

	contractID, err := s.broker.Buy(reqCtx, proposalID, stake)
	if err != nil {
		s.logger.Error(ctx, err, "Buy request failed", map[string]interface{}{"symbol": symbol})
		s.manager.OnTradeRejected(symbol)
		return
	}

	s.logger.Info(ctx, "Trade opened", map[string]interface{}{
		"symbol":      symbol,
		"contract_id": contractID,
		"stake":       stake,
	})
	s.manager.OnTradeOpened(symbol, contractID)
}

// pollSettlements checks every open contract and settles the ones the broker
// reports as finished.
func (s *TradingService) pollSettlements(ctx context.Context) {
	for symbol, contractID := range s.manager.OpenContracts() {
		reqCtx, cancel := context.WithTimeout(ctx, tradeTimeout)
		status, err := s.broker.OpenContract(reqCtx, contractID)
		cancel()
		if err != nil {
			s.logger.Debug(ctx, "Contract status check failed", map[string]interface{}{
				"symbol":      symbol,
				"contract_id": contractID,
				"error":       err.Error(),
			})
			continue
		}
		if !status.IsSold && status.Status != "won" && status.Status != "lost" {
			continue
		}
		s.logger.Info(ctx, "Contract settled", map[string]interface{}{
			"symbol":      symbol,
			"contract_id": contractID,
			"status":      status.Status,
			"profit":      status.Profit,
		})
		s.manager.OnSettlement(symbol, status.Profit)
	}
}

func (s *TradingService) logStats(ctx context.Context) {
	stats := s.agg.Stats()
	fields := map[string]interface{}{
		"dropped_late_ticks":    stats.DroppedLate,
		"dropped_unknown_ticks": stats.DroppedUnknown,
	}
	if s.tradeRepo != nil {
		if total, err := s.tradeRepo.TotalProfit(ctx); err == nil {
			fields["total_profit"] = total
		}
	}
	s.logger.Info(ctx, "Periodic stats", fields)
}

func (s *TradingService) strategyNames() []string {
	names := make([]string, 0, len(s.strategies))
	for _, strat := range s.strategies {
		names = append(names, strat.Name())
	}
	return names
}
