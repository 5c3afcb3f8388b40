// Package ranking filters and orders funding opportunities. It is pure: the
// caller gathers market observations, Rank returns the survivors sorted by
// average funding, and every rejection carries the filter that fired so the
// scan report can explain itself.
package ranking

import (
	"sort"

	"hl-funding-bot/internal/strategy"
)

// Observation is one symbol's market snapshot for a ranking pass.
type Observation struct {
	Symbol            string
	AvgFundingAPR     float64
	CurrentFundingHr  float64
	PerpBidAskPct     float64
	SpotBidAskPct     float64
	PerpSpotCrossPct  float64
	DayVolumeUSD      float64
	HasFundingHistory bool
}

// RejectReason identifies the first filter an observation failed.
type RejectReason string

const (
	RejectNone           RejectReason = ""
	RejectNoData         RejectReason = "no funding history"
	RejectFundingTooLow  RejectReason = "avg funding below threshold"
	RejectSpreadTooWide  RejectReason = "bid ask spread too wide"
	RejectCrossTooWide   RejectReason = "perp spot cross spread too wide"
	RejectVolumeTooSmall RejectReason = "24h volume too small"
)

// Thresholds are the four admission filters, applied in order.
type Thresholds struct {
	MinAvgFundingAPR   float64
	MaxBidAskSpreadPct float64
	MaxCrossSpreadPct  float64
	MinVolumeUSD       float64
}

// Result is one ranking pass: ordered survivors plus per-symbol rejections.
type Result struct {
	Ranked   []strategy.Ranked
	Rejected map[string]RejectReason
}

// Rank applies the filters to every observation and sorts the survivors by
// average funding, highest first, symbol name breaking ties. The threshold
// filter also enforces positivity: a non-positive MinAvgFundingAPR still
// never admits a symbol whose average funding is not strictly positive.
func Rank(obs []Observation, th Thresholds) Result {
	res := Result{Rejected: make(map[string]RejectReason, len(obs))}
	for _, o := range obs {
		if reason := classify(o, th); reason != RejectNone {
			res.Rejected[o.Symbol] = reason
			continue
		}
		res.Ranked = append(res.Ranked, strategy.Ranked{
			Symbol:        o.Symbol,
			AvgFundingAPR: o.AvgFundingAPR,
		})
	}
	sort.Slice(res.Ranked, func(i, j int) bool {
		if res.Ranked[i].AvgFundingAPR != res.Ranked[j].AvgFundingAPR {
			return res.Ranked[i].AvgFundingAPR > res.Ranked[j].AvgFundingAPR
		}
		return res.Ranked[i].Symbol < res.Ranked[j].Symbol
	})
	return res
}

func classify(o Observation, th Thresholds) RejectReason {
	if !o.HasFundingHistory {
		return RejectNoData
	}
	if o.PerpBidAskPct > th.MaxBidAskSpreadPct || o.SpotBidAskPct > th.MaxBidAskSpreadPct {
		return RejectSpreadTooWide
	}
	if o.PerpSpotCrossPct > th.MaxCrossSpreadPct {
		return RejectCrossTooWide
	}
	if o.DayVolumeUSD < th.MinVolumeUSD {
		return RejectVolumeTooSmall
	}
	if o.AvgFundingAPR <= 0 || o.AvgFundingAPR < th.MinAvgFundingAPR {
		return RejectFundingTooLow
	}
	return RejectNone
}
