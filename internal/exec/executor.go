// Package exec turns decisions into venue orders. Pair entries and exits run
// both legs concurrently; when one leg of an entry fills and the other dies,
// the filled leg is unwound immediately so the book never carries naked
// exposure past a cycle.
package exec

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"hl-funding-bot/internal/hl/exchange"
	"hl-funding-bot/internal/state"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Venue is the signed write surface of the connector.
type Venue interface {
	PlaceOrder(ctx context.Context, order exchange.OrderWire) (exchange.OrderStatus, error)
	CancelOrder(ctx context.Context, asset int, orderID int64) error
	UpdateLeverage(ctx context.Context, asset, leverage int, isCross bool) error
}

// Markets provides prices and asset metadata for order construction.
type Markets interface {
	Mid(ctx context.Context, asset string) (float64, error)
}

var (
	ErrBothLegsFailed = errors.New("both legs failed")
	ErrLegFailed      = errors.New("leg failed")
	ErrOrderRejected  = errors.New("order rejected")
	// ErrRollbackFailed means a one sided fill could not be unwound. The
	// position is naked and needs the hedge auditor or an operator.
	ErrRollbackFailed = errors.New("rollback failed")
)

// Leg describes one order of a pair.
type Leg struct {
	// MidKey is the allMids key for pricing: the coin for perps, the
	// "@index" name for spot pairs.
	MidKey     string
	AssetID    int
	IsBuy      bool
	Size       float64
	SzDecimals int
	IsSpot     bool
	ReduceOnly bool
}

// LegResult is the outcome of one leg attempt.
type LegResult struct {
	Status exchange.OrderStatus
	Err    error
}

func (r LegResult) filledSize() float64 {
	if r.Err != nil || !r.Status.Filled {
		return 0
	}
	return r.Status.FilledSize
}

// PairResult reports both legs of an entry or exit.
type PairResult struct {
	Perp LegResult
	Spot LegResult
	// RolledBack is set when a one sided entry was unwound.
	RolledBack bool
}

type Executor struct {
	venue       Venue
	markets     Markets
	store       state.Store
	log         *zap.Logger
	slippagePct float64
	mismatchPct float64

	mu       sync.Mutex
	leverSet map[int]bool
}

// New builds an executor. slippagePct bounds how far past mid an IOC order
// may cross; mismatchPct is the tolerated fill size divergence between legs.
func New(venue Venue, markets Markets, store state.Store, log *zap.Logger, slippagePct, mismatchPct float64) *Executor {
	if slippagePct <= 0 {
		slippagePct = 0.5
	}
	if mismatchPct <= 0 {
		mismatchPct = 2.0
	}
	return &Executor{
		venue:       venue,
		markets:     markets,
		store:       store,
		log:         log,
		slippagePct: slippagePct,
		mismatchPct: mismatchPct,
		leverSet:    make(map[int]bool),
	}
}

// EnsureLeverage pins the perp asset to isolated margin at the given
// multiplier. Repeat calls per asset are free.
func (e *Executor) EnsureLeverage(ctx context.Context, assetID, leverage int) error {
	e.mu.Lock()
	done := e.leverSet[assetID]
	e.mu.Unlock()
	if done {
		return nil
	}
	if err := e.venue.UpdateLeverage(ctx, assetID, leverage, false); err != nil {
		return fmt.Errorf("update leverage asset %d: %w", assetID, err)
	}
	e.mu.Lock()
	e.leverSet[assetID] = true
	e.mu.Unlock()
	return nil
}

// OpenPair fires the short perp and long spot legs concurrently. On a one
// sided fill the surviving leg is unwound: reduce-only for the perp, a plain
// sell for spot, which has no reduce-only concept.
func (e *Executor) OpenPair(ctx context.Context, perp, spot Leg) (PairResult, error) {
	res := e.placePair(ctx, perp, spot)

	perpFilled := res.Perp.filledSize() > 0
	spotFilled := res.Spot.filledSize() > 0
	switch {
	case perpFilled && spotFilled:
		e.checkMismatch(res)
		return res, nil
	case !perpFilled && !spotFilled:
		return res, fmt.Errorf("%w: perp %v, spot %v", ErrBothLegsFailed, legError(res.Perp), legError(res.Spot))
	case perpFilled:
		unwind := Leg{
			MidKey:     perp.MidKey,
			AssetID:    perp.AssetID,
			IsBuy:      !perp.IsBuy,
			Size:       res.Perp.filledSize(),
			SzDecimals: perp.SzDecimals,
			ReduceOnly: true,
		}
		if err := e.unwindLeg(ctx, unwind); err != nil {
			return res, fmt.Errorf("%w: spot leg: %v", ErrRollbackFailed, legError(res.Spot))
		}
		res.RolledBack = true
		return res, fmt.Errorf("%w: spot leg: %v", ErrLegFailed, legError(res.Spot))
	default:
		unwind := Leg{
			MidKey:     spot.MidKey,
			AssetID:    spot.AssetID,
			IsBuy:      !spot.IsBuy,
			Size:       res.Spot.filledSize(),
			SzDecimals: spot.SzDecimals,
			IsSpot:     true,
		}
		if err := e.unwindLeg(ctx, unwind); err != nil {
			return res, fmt.Errorf("%w: perp leg: %v", ErrRollbackFailed, legError(res.Perp))
		}
		res.RolledBack = true
		return res, fmt.Errorf("%w: perp leg: %v", ErrLegFailed, legError(res.Perp))
	}
}

// ClosePair exits both legs concurrently. There is nothing to roll back on
// exit; a failed leg is reported so the caller can retry or audit.
func (e *Executor) ClosePair(ctx context.Context, perp, spot Leg) (PairResult, error) {
	res := e.placePair(ctx, perp, spot)
	var errs []string
	if err := legError(res.Perp); err != nil {
		errs = append(errs, fmt.Sprintf("perp: %v", err))
	}
	if err := legError(res.Spot); err != nil {
		errs = append(errs, fmt.Sprintf("spot: %v", err))
	}
	if len(errs) > 0 {
		return res, fmt.Errorf("%w: %s", ErrLegFailed, strings.Join(errs, "; "))
	}
	return res, nil
}

// PlaceLeg executes a single leg. Used by the hedge repairer.
func (e *Executor) PlaceLeg(ctx context.Context, leg Leg) (exchange.OrderStatus, error) {
	return e.execute(ctx, leg)
}

func (e *Executor) placePair(ctx context.Context, perp, spot Leg) PairResult {
	var res PairResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res.Perp.Status, res.Perp.Err = e.execute(gctx, perp)
		return nil
	})
	g.Go(func() error {
		res.Spot.Status, res.Spot.Err = e.execute(gctx, spot)
		return nil
	})
	_ = g.Wait()
	return res
}

func (e *Executor) execute(ctx context.Context, leg Leg) (exchange.OrderStatus, error) {
	mid, err := e.markets.Mid(ctx, leg.MidKey)
	if err != nil {
		return exchange.OrderStatus{}, fmt.Errorf("mid for %s: %w", leg.MidKey, err)
	}
	price := mid * (1 - e.slippagePct/100)
	if leg.IsBuy {
		price = mid * (1 + e.slippagePct/100)
	}
	size := exchange.RoundSize(leg.Size, leg.SzDecimals)
	if size <= 0 {
		return exchange.OrderStatus{}, fmt.Errorf("size %.10f rounds to zero for %s", leg.Size, leg.MidKey)
	}
	cloid, err := e.newCloid(ctx)
	if err != nil {
		return exchange.OrderStatus{}, err
	}
	limit := exchange.RoundPrice(price, leg.SzDecimals, leg.IsSpot)
	order, err := exchange.LimitOrderWire(leg.AssetID, leg.IsBuy, size, limit, leg.ReduceOnly, exchange.TifIoc, cloid)
	if err != nil {
		return exchange.OrderStatus{}, fmt.Errorf("build order for %s: %w", leg.MidKey, err)
	}
	status, err := e.venue.PlaceOrder(ctx, order)
	if err != nil {
		return status, err
	}
	if status.Resting && status.OrderID != 0 {
		// An IOC should never rest; cancel defensively if the venue says
		// otherwise.
		if cerr := e.venue.CancelOrder(ctx, leg.AssetID, status.OrderID); cerr != nil {
			e.log.Warn("cancel of resting ioc failed",
				zap.Int64("oid", status.OrderID), zap.Error(cerr))
		}
	}
	if status.Err != "" {
		return status, fmt.Errorf("%w: %s", ErrOrderRejected, status.Err)
	}
	if !status.Filled {
		return status, errors.New("order not filled")
	}
	return status, nil
}

func (e *Executor) unwindLeg(ctx context.Context, leg Leg) error {
	status, err := e.execute(ctx, leg)
	if err != nil {
		e.log.Error("unwind order failed",
			zap.String("asset", leg.MidKey),
			zap.Float64("size", leg.Size),
			zap.Error(err))
		return err
	}
	e.log.Info("one sided fill unwound",
		zap.String("asset", leg.MidKey),
		zap.Float64("size", status.FilledSize))
	return nil
}

func (e *Executor) checkMismatch(res PairResult) {
	perpSize := res.Perp.filledSize()
	spotSize := res.Spot.filledSize()
	if perpSize == 0 || spotSize == 0 {
		return
	}
	diff := math.Abs(perpSize-spotSize) / math.Max(perpSize, spotSize) * 100
	if diff > e.mismatchPct {
		e.log.Warn("leg fill sizes diverge",
			zap.Float64("perpSize", perpSize),
			zap.Float64("spotSize", spotSize),
			zap.Float64("diffPct", diff))
	}
}

// newCloid mints a random 128-bit client order id and records it so a
// replayed submission is detectable across restarts.
func (e *Executor) newCloid(ctx context.Context) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cloid entropy: %w", err)
	}
	cloid := "0x" + hex.EncodeToString(buf)
	if e.store != nil {
		fresh, err := e.store.SetIfAbsent(ctx, "cloid:"+cloid, "sent")
		if err != nil {
			e.log.Warn("cloid persist failed", zap.Error(err))
		} else if !fresh {
			return "", fmt.Errorf("client order id collision: %s", cloid)
		}
	}
	return cloid, nil
}

func legError(r LegResult) error {
	if r.Err != nil {
		return r.Err
	}
	if r.Status.Err != "" {
		return errors.New(r.Status.Err)
	}
	if !r.Status.Filled {
		return errors.New("not filled")
	}
	return nil
}
