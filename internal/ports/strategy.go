package ports

import "derivbot/internal/domain"

// Strategy evaluates a window of sealed candles and the trailing volume
// window for one (symbol, granularity) series. Implementations are pure
// functions of their inputs; the same inputs always yield the same answer.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string

	// MinCandles returns the minimum number of sealed candles needed.
	MinCandles() int

	// Detect returns the trade direction, or DirectionNone for no signal.
	// candles are ordered oldest first; volumes is the trailing volume
	// window of earlier sealed candles (may be empty).
	Detect(candles []domain.Candle, volumes []int) domain.Direction
}
