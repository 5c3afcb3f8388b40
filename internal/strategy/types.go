// Package strategy holds the position lifecycle decision logic: a pure
// function from market state to an action, with no I/O, so every branch of
// the decision matrix is unit-testable without a live connector.
package strategy

import (
	"errors"
	"time"
)

type State string

const (
	StateIdle    State = "IDLE"
	StateHolding State = "HOLDING"
)

type ActionKind string

const (
	ActionNone   ActionKind = "NONE"
	ActionHold   ActionKind = "HOLD"
	ActionOpen   ActionKind = "OPEN"
	ActionClose  ActionKind = "CLOSE"
	ActionSwitch ActionKind = "SWITCH"
)

var (
	// ErrInsufficientCapital is terminal for the cycle: available notional
	// is below the symbol's minimum order value.
	ErrInsufficientCapital = errors.New("insufficient capital")
	// ErrStateDesync marks a position we believe open that the venue no
	// longer reports. Recovered by reverting to idle, never fatal.
	ErrStateDesync = errors.New("position state desync")
)

// Position is the single active hedge: short perp plus matched long spot.
type Position struct {
	Symbol               string    `json:"symbol"`
	PerpSymbol           string    `json:"perpSymbol"`
	SpotSymbol           string    `json:"spotSymbol"`
	PerpSize             float64   `json:"perpSize"`
	SpotSize             float64   `json:"spotSize"`
	PerpEntryPrice       float64   `json:"perpEntryPrice"`
	SpotEntryPrice       float64   `json:"spotEntryPrice"`
	PositionValueUSD     float64   `json:"positionValueUsd"`
	FundingRateHourly    float64   `json:"fundingRateHourly"`
	FundingRateAnnualPct float64   `json:"fundingRateAnnualPct"`
	OpenedAt             time.Time `json:"openedAt"`
	LastCheckedAt        time.Time `json:"lastCheckedAt"`
}

// Hedged reports whether the leg sizes still satisfy the delta-neutral sign
// invariant: perp short, spot long.
func (p Position) Hedged() bool {
	return p.PerpSize < 0 && p.SpotSize > 0
}

// Ranked is one entry of the ranking engine's output consumed by Decide.
type Ranked struct {
	Symbol        string
	AvgFundingAPR float64
}

// Input is everything one decision cycle may consult. RawFunding carries
// current hourly funding for every tracked symbol, including ones the
// ranking filtered out; HasData distinguishes an empty ranking from no
// market data at all.
type Input struct {
	State       State
	Position    *Position
	Ranked      []Ranked
	RawFunding  map[string]float64
	HasData     bool
	Now         time.Time
	MinHold     time.Duration
	Improvement float64
}

// Decision is the structured outcome of one cycle. Decision-level outcomes
// (nothing tradeable, hold interlock) are data, not errors.
type Decision struct {
	Action ActionKind
	Target string
	Reason string
}
