package domain

// BodyColor classifies a candle body.
type BodyColor int

const (
	Doji BodyColor = iota
	Green
	Red
)

// Candle is an aggregated OHLCV summary of the ticks inside one fixed period.
// Volume is the count of ticks folded in, a synthetic proxy rather than
// exchange-reported volume. A candle is mutable only while its period is the
// current one; once sealed it never changes.
type Candle struct {
	Symbol      string  // Instrument symbol
	Granularity int     // Period length in seconds
	PeriodStart int64   // Unix seconds, aligned to the granularity
	Open        float64 // First price of the period
	High        float64 // Highest price of the period
	Low         float64 // Lowest price of the period
	Close       float64 // Latest price of the period
	Volume      int     // Number of ticks folded in
}

// PeriodStart aligns an epoch (seconds) down to its period boundary.
func PeriodStart(epoch int64, granularity int) int64 {
	return epoch - epoch%int64(granularity)
}

// NewCandle opens a candle from the first tick of a period.
func NewCandle(symbol string, granularity int, periodStart int64, price float64) *Candle {
	return &Candle{
		Symbol:      symbol,
		Granularity: granularity,
		PeriodStart: periodStart,
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
		Volume:      1,
	}
}

// Fold updates the candle with one more tick from its period.
func (c *Candle) Fold(price float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume++
}

// Color returns the body classification of the candle.
func (c *Candle) Color() BodyColor {
	switch {
	case c.Close > c.Open:
		return Green
	case c.Close < c.Open:
		return Red
	default:
		return Doji
	}
}
