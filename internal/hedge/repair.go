package hedge

import (
	"context"
	"fmt"
	"math"

	"hl-funding-bot/internal/exec"
	"hl-funding-bot/internal/hl/exchange"
	"hl-funding-bot/internal/names"

	"go.uber.org/zap"
)

// defaultMinOrderUSD is the venue's smallest accepted notional. Repairs
// below the floor are skipped, not failed: the residue is economically
// irrelevant.
const defaultMinOrderUSD = 10.0

// Trader is the slice of the executor the repairer needs.
type Trader interface {
	PlaceLeg(ctx context.Context, leg exec.Leg) (exchange.OrderStatus, error)
	ClosePair(ctx context.Context, perp, spot exec.Leg) (exec.PairResult, error)
}

// Instruments resolves symbols to tradeable asset metadata.
type Instruments interface {
	Mid(ctx context.Context, asset string) (float64, error)
	PerpMeta(coin string) (assetID, szDecimals int, ok bool)
	SpotMeta(pair string) (assetID, szDecimals int, midKey string, ok bool)
}

// Outcome describes what the repairer did with a finding.
type Outcome string

const (
	OutcomeNone     Outcome = "none"
	OutcomeSkipped  Outcome = "skipped_below_minimum"
	OutcomeRepaired Outcome = "repaired"
	OutcomeClosed   Outcome = "closed"
)

type Repairer struct {
	trader      Trader
	instr       Instruments
	minOrderUSD float64
	log         *zap.Logger
}

func NewRepairer(trader Trader, instr Instruments, minOrderUSD float64, log *zap.Logger) *Repairer {
	if minOrderUSD <= 0 {
		minOrderUSD = defaultMinOrderUSD
	}
	return &Repairer{trader: trader, instr: instr, minOrderUSD: minOrderUSD, log: log}
}

// Repair trades the perp leg to restore neutrality. Repairs are exempt from
// the strategy's per-trade sizing cap; the only floor is the venue minimum.
// When the repair order itself fails, both legs are closed outright so the
// bot never sits on a known-bad hedge.
func (r *Repairer) Repair(ctx context.Context, symbol string, f Finding) (Outcome, error) {
	if !f.NeedsRepair() {
		return OutcomeNone, nil
	}
	coin := names.Perp(symbol)
	assetID, szDecimals, ok := r.instr.PerpMeta(coin)
	if !ok {
		return OutcomeNone, fmt.Errorf("no perp asset for %s", symbol)
	}

	size := math.Abs(f.RepairSize)
	mid, err := r.instr.Mid(ctx, coin)
	if err != nil {
		return OutcomeNone, fmt.Errorf("repair mid: %w", err)
	}
	if size*mid < r.minOrderUSD {
		r.log.Info("hedge drift below venue minimum, leaving as is",
			zap.String("symbol", symbol),
			zap.Float64("sizeUsd", size*mid),
			zap.String("kind", string(f.Kind)))
		return OutcomeSkipped, nil
	}

	leg := exec.Leg{
		MidKey:     coin,
		AssetID:    assetID,
		Size:       size,
		SzDecimals: szDecimals,
		// Positive RepairSize grows the short; negative shrinks it with a
		// reduce-only buy.
		IsBuy:      f.RepairSize < 0,
		ReduceOnly: f.RepairSize < 0,
	}
	if _, err := r.trader.PlaceLeg(ctx, leg); err != nil {
		r.log.Error("hedge repair order failed, closing position",
			zap.String("symbol", symbol), zap.Error(err))
		if cerr := r.closeAll(ctx, symbol, f); cerr != nil {
			return OutcomeNone, fmt.Errorf("repair failed (%v) and close failed: %w", err, cerr)
		}
		return OutcomeClosed, nil
	}
	r.log.Info("hedge repaired",
		zap.String("symbol", symbol),
		zap.String("kind", string(f.Kind)),
		zap.Float64("size", size))
	return OutcomeRepaired, nil
}

// Close flattens the legs a finding shows without attempting a repair.
// Used for strays on the venue that no tracked position explains.
func (r *Repairer) Close(ctx context.Context, symbol string, f Finding) error {
	return r.closeAll(ctx, symbol, f)
}

// closeAll flattens whatever legs exist. Sides with nothing on them are
// skipped so a one legged book closes with a single order.
func (r *Repairer) closeAll(ctx context.Context, symbol string, f Finding) error {
	var perpLeg, spotLeg *exec.Leg
	if f.PerpSize != 0 {
		coin := names.Perp(symbol)
		assetID, szDecimals, ok := r.instr.PerpMeta(coin)
		if !ok {
			return fmt.Errorf("no perp asset for %s", symbol)
		}
		perpLeg = &exec.Leg{
			MidKey:     coin,
			AssetID:    assetID,
			IsBuy:      f.PerpSize < 0,
			Size:       math.Abs(f.PerpSize),
			SzDecimals: szDecimals,
			ReduceOnly: true,
		}
	}
	if f.SpotSize > 0 {
		pair := names.SpotPair(symbol)
		assetID, szDecimals, midKey, ok := r.instr.SpotMeta(pair)
		if !ok {
			return fmt.Errorf("no spot asset for %s", symbol)
		}
		spotLeg = &exec.Leg{
			MidKey:     midKey,
			AssetID:    assetID,
			IsBuy:      false,
			Size:       f.SpotSize,
			SzDecimals: szDecimals,
			IsSpot:     true,
		}
	}
	switch {
	case perpLeg != nil && spotLeg != nil:
		_, err := r.trader.ClosePair(ctx, *perpLeg, *spotLeg)
		return err
	case perpLeg != nil:
		_, err := r.trader.PlaceLeg(ctx, *perpLeg)
		return err
	case spotLeg != nil:
		_, err := r.trader.PlaceLeg(ctx, *spotLeg)
		return err
	}
	return nil
}
