package strategies

import (
	"fmt"

	"derivbot/internal/domain"
)

const reversalRunLength = 5

// ReversalRunConfig holds configuration for the reversal-run strategy.
type ReversalRunConfig struct {
	// UseVolumeGate requires the candle before the reversal candle to show
	// weak volume against the trailing average.
	UseVolumeGate bool
	// VolumeThreshold is the fraction of the trailing average volume below
	// which the gate passes (e.g., 0.5).
	VolumeThreshold float64
}

// ReversalRun detects an exhausted four-candle run closed by an opposite
// candle: four greens then a red yield PUT, four reds then a green yield
// CALL. A doji anywhere in the window invalidates the pattern.
type ReversalRun struct {
	cfg ReversalRunConfig
}

// NewReversalRun validates the configuration and returns the strategy.
func NewReversalRun(cfg ReversalRunConfig) (*ReversalRun, error) {
	if cfg.UseVolumeGate && cfg.VolumeThreshold <= 0 {
		return nil, fmt.Errorf("volume threshold must be positive when the volume gate is enabled")
	}
	return &ReversalRun{cfg: cfg}, nil
}

// Name identifies the strategy in logs.
func (s *ReversalRun) Name() string { return "reversal-run" }

// MinCandles returns the minimum number of sealed candles needed.
func (s *ReversalRun) MinCandles() int { return reversalRunLength }

// Detect evaluates the last five sealed candles.
func (s *ReversalRun) Detect(candles []domain.Candle, volumes []int) domain.Direction {
	if len(candles) < reversalRunLength {
		return domain.DirectionNone
	}
	window := candles[len(candles)-reversalRunLength:]

	trend := window[0].Color()
	if trend == domain.Doji {
		return domain.DirectionNone
	}
	for _, c := range window[:reversalRunLength-1] {
		if c.Color() != trend {
			return domain.DirectionNone
		}
	}

	last := window[reversalRunLength-1].Color()
	if last == domain.Doji || last == trend {
		return domain.DirectionNone
	}

	if s.cfg.UseVolumeGate && !weakVolume(window[reversalRunLength-2].Volume, volumes, s.cfg.VolumeThreshold) {
		return domain.DirectionNone
	}

	if trend == domain.Green {
		return domain.Put
	}
	return domain.Call
}

// weakVolume reports whether v is below the trailing average scaled by the
// threshold. An empty window passes: there is nothing to compare against.
func weakVolume(v int, volumes []int, threshold float64) bool {
	if len(volumes) == 0 {
		return true
	}
	total := 0
	for _, w := range volumes {
		total += w
	}
	avg := float64(total) / float64(len(volumes))
	return float64(v) < avg*threshold
}
