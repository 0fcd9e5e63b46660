package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeriodStart(t *testing.T) {
	tests := []struct {
		name        string
		epoch       int64
		granularity int
		want        int64
	}{
		{name: "already aligned", epoch: 1700000040, granularity: 60, want: 1700000040},
		{name: "mid period", epoch: 1700000075, granularity: 60, want: 1700000040},
		{name: "last second of period", epoch: 1700000099, granularity: 60, want: 1700000040},
		{name: "two minute granularity", epoch: 1700000130, granularity: 120, want: 1700000040},
		{name: "five minute granularity", epoch: 1700000299, granularity: 300, want: 1700000100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PeriodStart(tt.epoch, tt.granularity))
		})
	}
}

func TestCandleFold(t *testing.T) {
	c := NewCandle("R_100", 60, 1700000040, 100.0)
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 100.0, c.High)
	assert.Equal(t, 100.0, c.Low)
	assert.Equal(t, 100.0, c.Close)
	assert.Equal(t, 1, c.Volume)

	c.Fold(101.5)
	c.Fold(99.2)
	c.Fold(100.7)

	assert.Equal(t, 100.0, c.Open, "open never changes after the first tick")
	assert.Equal(t, 101.5, c.High)
	assert.Equal(t, 99.2, c.Low)
	assert.Equal(t, 100.7, c.Close)
	assert.Equal(t, 4, c.Volume)
}

func TestCandleColor(t *testing.T) {
	tests := []struct {
		name        string
		open, close float64
		want        BodyColor
	}{
		{name: "green", open: 100, close: 101, want: Green},
		{name: "red", open: 101, close: 100, want: Red},
		{name: "doji", open: 100, close: 100, want: Doji},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Candle{Open: tt.open, Close: tt.close}
			assert.Equal(t, tt.want, c.Color())
		})
	}
}

func TestOutcomeFromProfit(t *testing.T) {
	assert.Equal(t, OutcomeWin, OutcomeFromProfit(0.3))
	assert.Equal(t, OutcomeLoss, OutcomeFromProfit(-0.35))
	assert.Equal(t, OutcomeLoss, OutcomeFromProfit(0), "breakeven does not recover the stake")
}
