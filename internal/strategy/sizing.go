package strategy

import "fmt"

// Sizing is the capital input for one open: free collateral on each side of
// the account plus the configured utilization fraction.
type Sizing struct {
	PerpBalanceUSD float64
	SpotBalanceUSD float64
	Utilization    float64
	MinNotionalUSD float64
	MidPrice       float64
}

// ComputeSize converts available balances into a target notional and base
// size. Both legs are funded from the smaller side so the hedge can never be
// capped asymmetrically. A notional exactly at the minimum is accepted.
func ComputeSize(s Sizing) (size, notionalUSD float64, err error) {
	if s.MidPrice <= 0 {
		return 0, 0, fmt.Errorf("compute size: mid price %.8f not positive", s.MidPrice)
	}
	available := s.PerpBalanceUSD
	if s.SpotBalanceUSD < available {
		available = s.SpotBalanceUSD
	}
	notionalUSD = available * s.Utilization
	if notionalUSD < s.MinNotionalUSD {
		return 0, 0, fmt.Errorf("%w: notional %.2f below minimum %.2f",
			ErrInsufficientCapital, notionalUSD, s.MinNotionalUSD)
	}
	return notionalUSD / s.MidPrice, notionalUSD, nil
}
