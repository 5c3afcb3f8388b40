// Package hedge audits the delta neutrality of the open position and trades
// the book back into balance when the legs have drifted apart.
package hedge

import "math"

// Band grades how closely the legs match.
type Band string

const (
	BandPerfect Band = "PERFECT"
	BandGood    Band = "GOOD"
	BandPartial Band = "PARTIAL"
	BandWeak    Band = "WEAK"
)

// Band thresholds in percent mismatch.
const (
	perfectBelow = 5.0
	goodBelow    = 15.0
	partialBelow = 30.0
)

// Kind classifies the defect, if any.
type Kind string

const (
	KindFlat         Kind = "FLAT"
	KindHealthy      Kind = "HEALTHY"
	KindWeakHedge    Kind = "WEAK_HEDGE"
	KindUnhedgedSpot Kind = "UNHEDGED_SPOT"
	KindUnhedgedPerp Kind = "UNHEDGED_PERP"
	KindInverted     Kind = "INVERTED"
)

// Finding is one audit verdict. RepairSize is the base quantity the perp leg
// must trade to restore neutrality; positive means increase the short,
// negative means reduce it.
type Finding struct {
	Kind        Kind
	Band        Band
	MismatchPct float64
	PerpSize    float64
	SpotSize    float64
	RepairSize  float64
}

// NeedsRepair reports whether the finding calls for trading.
func (f Finding) NeedsRepair() bool {
	switch f.Kind {
	case KindWeakHedge, KindUnhedgedSpot, KindUnhedgedPerp, KindInverted:
		return true
	}
	return false
}

// Classify grades the leg sizes. The healthy shape is a short perp matched
// by a long spot balance; everything else is a defect ordered by severity.
func Classify(perpSize, spotSize float64) Finding {
	f := Finding{PerpSize: perpSize, SpotSize: spotSize}
	short := math.Abs(perpSize)
	switch {
	case perpSize == 0 && spotSize <= 0:
		f.Kind = KindFlat
		f.Band = BandPerfect
		return f
	case perpSize > 0:
		// Long perp means the hedge is inverted, not merely weak.
		f.Kind = KindInverted
		f.Band = BandWeak
		f.MismatchPct = 100
		f.RepairSize = perpSize + spotSize
		return f
	case perpSize == 0 && spotSize > 0:
		f.Kind = KindUnhedgedSpot
		f.Band = BandWeak
		f.MismatchPct = 100
		f.RepairSize = spotSize
		return f
	case spotSize <= 0:
		f.Kind = KindUnhedgedPerp
		f.Band = BandWeak
		f.MismatchPct = 100
		f.RepairSize = -short
		return f
	}

	f.MismatchPct = math.Abs(short-spotSize) / math.Max(short, spotSize) * 100
	f.Band = bandFor(f.MismatchPct)
	if f.Band == BandPerfect || f.Band == BandGood || f.Band == BandPartial {
		f.Kind = KindHealthy
		return f
	}
	f.Kind = KindWeakHedge
	f.RepairSize = spotSize - short
	return f
}

func bandFor(mismatchPct float64) Band {
	switch {
	case mismatchPct < perfectBelow:
		return BandPerfect
	case mismatchPct < goodBelow:
		return BandGood
	case mismatchPct < partialBelow:
		return BandPartial
	default:
		return BandWeak
	}
}
