package strategy

// Decide evaluates one check cycle. It is deliberately free of side effects:
// callers verify on-venue position existence and execute the returned action.
//
// Negative funding is guarded at four independent points: the ranking filter
// never admits negative symbols, a held ranked symbol is closed when its raw
// funding flips negative, a filtered-out held symbol is checked against raw
// funding, and an open is never attempted without a ranked target.
func Decide(in Input) Decision {
	switch in.State {
	case StateHolding:
		return decideHolding(in)
	default:
		return decideIdle(in)
	}
}

func decideIdle(in Input) Decision {
	if !in.HasData {
		return Decision{Action: ActionNone, Reason: "no market data yet"}
	}
	if len(in.Ranked) == 0 {
		return Decision{Action: ActionNone, Reason: "all opportunities filtered"}
	}
	best := in.Ranked[0]
	return Decision{Action: ActionOpen, Target: best.Symbol, Reason: "top ranked opportunity"}
}

func decideHolding(in Input) Decision {
	pos := in.Position
	if pos == nil {
		return Decision{Action: ActionNone, Reason: "holding without position"}
	}
	if in.MinHold > 0 && in.Now.Sub(pos.OpenedAt) < in.MinHold {
		return Decision{Action: ActionHold, Reason: "minimum hold time not reached"}
	}

	held, ranked := findRanked(in.Ranked, pos.Symbol)
	alt, hasAlt := bestAlternative(in.Ranked, pos.Symbol)
	rawFunding, hasRaw := rawFundingFor(in, pos.Symbol)

	if !ranked {
		// Filtered out this cycle. Raw funding decides whether the filter
		// hit was cosmetic (volume, spread) or the carry itself died.
		if hasRaw && rawFunding < 0 {
			if hasAlt {
				return Decision{Action: ActionSwitch, Target: alt.Symbol, Reason: "held funding negative, positive alternative available"}
			}
			return Decision{Action: ActionClose, Reason: "held funding negative, no positive alternative"}
		}
		if hasAlt {
			return Decision{Action: ActionSwitch, Target: alt.Symbol, Reason: "held symbol no longer ranked"}
		}
		return Decision{Action: ActionHold, Reason: "held symbol unranked but funding non-negative, no alternative"}
	}

	if hasRaw && rawFunding < 0 {
		if hasAlt {
			return Decision{Action: ActionSwitch, Target: alt.Symbol, Reason: "current funding turned negative"}
		}
		return Decision{Action: ActionClose, Reason: "current funding turned negative, no alternative"}
	}

	best := in.Ranked[0]
	if best.Symbol == pos.Symbol {
		// Never self-switch, even when funding moved.
		return Decision{Action: ActionHold, Reason: "held symbol is still the best ranked"}
	}
	if in.Improvement > 0 && best.AvgFundingAPR >= held.AvgFundingAPR*in.Improvement {
		return Decision{Action: ActionSwitch, Target: best.Symbol, Reason: "alternative exceeds improvement multiple"}
	}
	return Decision{Action: ActionHold, Reason: "no alternative clears improvement multiple"}
}

func findRanked(ranked []Ranked, symbol string) (Ranked, bool) {
	for _, r := range ranked {
		if r.Symbol == symbol {
			return r, true
		}
	}
	return Ranked{}, false
}

// bestAlternative returns the highest-ranked entry that is not the held
// symbol. Ranked entries all passed the positive-funding filter, so any
// alternative is a positive-funding target.
func bestAlternative(ranked []Ranked, held string) (Ranked, bool) {
	for _, r := range ranked {
		if r.Symbol != held {
			return r, true
		}
	}
	return Ranked{}, false
}

func rawFundingFor(in Input, symbol string) (float64, bool) {
	if in.RawFunding == nil {
		return 0, false
	}
	v, ok := in.RawFunding[symbol]
	return v, ok
}
