package domain

// Direction is the contract side requested from the broker.
type Direction string

const (
	// DirectionNone means no signal was produced.
	DirectionNone Direction = ""
	Call          Direction = "CALL"
	Put           Direction = "PUT"
)

// Outcome classifies a settled trade.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
)

// OutcomeFromProfit maps a realized profit onto a win/loss outcome.
// A zero profit counts as a loss (the stake was not recovered in full).
func OutcomeFromProfit(profit float64) Outcome {
	if profit > 0 {
		return OutcomeWin
	}
	return OutcomeLoss
}

// StakeMode selects how a winning trade affects the next stake.
type StakeMode string

const (
	// StakeModeReset restores the base stake after a win.
	StakeModeReset StakeMode = "reset"
	// StakeModeAccumulate adds the realized profit to the next stake.
	StakeModeAccumulate StakeMode = "accumulate"
)
