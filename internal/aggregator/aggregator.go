// Package aggregator folds the raw tick stream into OHLCV candle series,
// one series per (symbol, granularity). It is the sole owner of candle data;
// readers only ever receive copies.
package aggregator

import (
	"context"
	"sync"

	"derivbot/internal/domain"
	"derivbot/internal/ports"
)

const (
	// maxSealedCandles bounds each series' trailing window.
	maxSealedCandles = 100
	// volumeWindowSize bounds the trailing volume window per series.
	volumeWindowSize = 20
)

type seriesKey struct {
	symbol      string
	granularity int
}

// series holds one (symbol, granularity) candle sequence. sealed is
// append-only; open is the only mutable candle.
type series struct {
	sealed  []domain.Candle
	open    *domain.Candle
	volumes []int
}

// Stats are the aggregator's drop counters, for periodic logging.
type Stats struct {
	DroppedLate    uint64
	DroppedUnknown uint64
}

// Aggregator converts ticks into candles for every configured
// (symbol, granularity) pair.
type Aggregator struct {
	logger        ports.Logger
	granularities []int

	mu      sync.Mutex
	series  map[seriesKey]*series
	symbols map[string]bool
	stats   Stats
}

// New creates an aggregator for the given symbols and granularities.
func New(symbols []string, granularities []int, logger ports.Logger) *Aggregator {
	known := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		known[s] = true
	}
	return &Aggregator{
		logger:        logger,
		granularities: granularities,
		series:        make(map[seriesKey]*series),
		symbols:       known,
	}
}

// Ingest folds one tick into every series of its symbol. It never blocks and
// never fails: unknown symbols and out-of-order ticks are dropped and counted.
func (a *Aggregator) Ingest(tick domain.Tick) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.symbols[tick.Symbol] {
		a.stats.DroppedUnknown++
		a.logger.Debug(context.Background(), "Dropped tick for unknown symbol", map[string]interface{}{"symbol": tick.Symbol})
		return
	}

	for _, g := range a.granularities {
		a.fold(tick, g)
	}
}

// fold applies a tick to a single series. Caller holds the lock.
func (a *Aggregator) fold(tick domain.Tick, granularity int) {
	key := seriesKey{symbol: tick.Symbol, granularity: granularity}
	s := a.series[key]
	if s == nil {
		s = &series{}
		a.series[key] = s
	}

	periodStart := domain.PeriodStart(tick.Epoch, granularity)

	switch {
	case s.open == nil:
		// A tick landing behind already-sealed periods would retroactively
		// mutate history; drop it instead.
		if n := len(s.sealed); n > 0 && periodStart <= s.sealed[n-1].PeriodStart {
			a.stats.DroppedLate++
			return
		}
		s.open = domain.NewCandle(tick.Symbol, granularity, periodStart, tick.Quote)

	case periodStart == s.open.PeriodStart:
		s.open.Fold(tick.Quote)

	case periodStart > s.open.PeriodStart:
		a.seal(s)
		s.open = domain.NewCandle(tick.Symbol, granularity, periodStart, tick.Quote)

	default:
		// Older than the open period: sealed candles are immutable.
		a.stats.DroppedLate++
	}
}

// seal closes the open candle: appends it to the sealed window, pushes its
// volume into the volume window, and trims both. Caller holds the lock.
func (a *Aggregator) seal(s *series) {
	s.sealed = append(s.sealed, *s.open)
	if len(s.sealed) > maxSealedCandles {
		s.sealed = s.sealed[len(s.sealed)-maxSealedCandles:]
	}
	s.volumes = append(s.volumes, s.open.Volume)
	if len(s.volumes) > volumeWindowSize {
		s.volumes = s.volumes[len(s.volumes)-volumeWindowSize:]
	}
	s.open = nil
}

// Seed preloads a series with historical sealed candles. Only empty series
// are seeded: live state accumulated before a reconnect is never discarded.
func (a *Aggregator) Seed(symbol string, granularity int, candles []domain.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := seriesKey{symbol: symbol, granularity: granularity}
	s := a.series[key]
	if s != nil && (len(s.sealed) > 0 || s.open != nil) {
		return
	}
	if s == nil {
		s = &series{}
		a.series[key] = s
	}
	for _, c := range candles {
		if n := len(s.sealed); n > 0 && c.PeriodStart <= s.sealed[n-1].PeriodStart {
			continue
		}
		c.Symbol = symbol
		c.Granularity = granularity
		s.sealed = append(s.sealed, c)
		// History candles carry no tick counts; an empty volume window keeps
		// volume-based gates permissive until live ticks fill it.
		if c.Volume > 0 {
			s.volumes = append(s.volumes, c.Volume)
		}
	}
	if len(s.sealed) > maxSealedCandles {
		s.sealed = s.sealed[len(s.sealed)-maxSealedCandles:]
	}
	if len(s.volumes) > volumeWindowSize {
		s.volumes = s.volumes[len(s.volumes)-volumeWindowSize:]
	}
}

// Latest returns a snapshot copy of the last n sealed candles, oldest first.
func (a *Aggregator) Latest(symbol string, granularity, n int) []domain.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.series[seriesKey{symbol: symbol, granularity: granularity}]
	if s == nil {
		return nil
	}
	start := len(s.sealed) - n
	if start < 0 {
		start = 0
	}
	out := make([]domain.Candle, len(s.sealed)-start)
	copy(out, s.sealed[start:])
	return out
}

// LatestWithOpen returns the last n candles including the in-progress one.
func (a *Aggregator) LatestWithOpen(symbol string, granularity, n int) []domain.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.series[seriesKey{symbol: symbol, granularity: granularity}]
	if s == nil {
		return nil
	}
	all := s.sealed
	if s.open != nil {
		all = append(append([]domain.Candle{}, s.sealed...), *s.open)
	}
	start := len(all) - n
	if start < 0 {
		start = 0
	}
	out := make([]domain.Candle, len(all)-start)
	copy(out, all[start:])
	return out
}

// Volumes returns a snapshot of the trailing volume window for a series.
func (a *Aggregator) Volumes(symbol string, granularity int) []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.series[seriesKey{symbol: symbol, granularity: granularity}]
	if s == nil {
		return nil
	}
	out := make([]int, len(s.volumes))
	copy(out, s.volumes)
	return out
}

// NewestSealedPeriod returns the period start of the newest sealed candle,
// or 0 when the series has none. Used to detect seal transitions.
func (a *Aggregator) NewestSealedPeriod(symbol string, granularity int) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.series[seriesKey{symbol: symbol, granularity: granularity}]
	if s == nil || len(s.sealed) == 0 {
		return 0
	}
	return s.sealed[len(s.sealed)-1].PeriodStart
}

// Stats returns the current drop counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
