package strategies

import (
	"fmt"

	"derivbot/internal/domain"
)

// SupportResistanceConfig holds configuration for the support/resistance
// volume-divergence strategy.
type SupportResistanceConfig struct {
	// Lookback is the number of sealed candles that define the range.
	Lookback int
	// Proximity is the relative distance to support/resistance that counts
	// as a touch (e.g., 0.002).
	Proximity float64
	// VolumeRatio is the minimum ratio of latest to previous volume that
	// confirms the bounce (e.g., 1.2).
	VolumeRatio float64
}

// SupportResistance detects a reversal off the lookback range boundary:
// price touching support while falling on a volume spike yields CALL, the
// symmetric touch at resistance while rising yields PUT.
type SupportResistance struct {
	cfg SupportResistanceConfig
}

// NewSupportResistance validates the configuration and returns the strategy.
func NewSupportResistance(cfg SupportResistanceConfig) (*SupportResistance, error) {
	if cfg.Lookback < 2 {
		return nil, fmt.Errorf("lookback must be at least 2")
	}
	if cfg.Proximity <= 0 {
		return nil, fmt.Errorf("proximity must be positive")
	}
	if cfg.VolumeRatio <= 0 {
		return nil, fmt.Errorf("volume ratio must be positive")
	}
	return &SupportResistance{cfg: cfg}, nil
}

// Name identifies the strategy in logs.
func (s *SupportResistance) Name() string { return "support-resistance" }

// MinCandles returns the minimum number of sealed candles needed.
func (s *SupportResistance) MinCandles() int { return s.cfg.Lookback }

// Detect evaluates the latest candle against the lookback range.
func (s *SupportResistance) Detect(candles []domain.Candle, volumes []int) domain.Direction {
	if len(candles) < s.cfg.Lookback {
		return domain.DirectionNone
	}
	window := candles[len(candles)-s.cfg.Lookback:]

	support := window[0].Low
	resistance := window[0].High
	for _, c := range window {
		if c.Low < support {
			support = c.Low
		}
		if c.High > resistance {
			resistance = c.High
		}
	}

	latest := window[len(window)-1]
	prev := window[len(window)-2]

	// The bounce needs conviction: volume must step up against the
	// previous candle.
	if float64(latest.Volume) < s.cfg.VolumeRatio*float64(prev.Volume) {
		return domain.DirectionNone
	}

	if support > 0 && latest.Close <= support*(1+s.cfg.Proximity) && latest.Close < prev.Close {
		return domain.Call
	}
	if resistance > 0 && latest.Close >= resistance*(1-s.cfg.Proximity) && latest.Close > prev.Close {
		return domain.Put
	}
	return domain.DirectionNone
}
