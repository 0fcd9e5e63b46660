package domain

// Tick is a single timestamped price observation from the broker stream.
// Ticks are ephemeral: once folded into a candle they are discarded.
type Tick struct {
	Symbol string  // Instrument symbol (e.g., "R_100")
	Epoch  int64   // Unix timestamp in seconds
	Quote  float64 // Observed price
}
