// Package app wires the connector, strategy, and persistence into the
// running bot. Engine owns the lifecycle loop; App (wiring.go) builds the
// concrete dependencies around it.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"hl-funding-bot/internal/account"
	"hl-funding-bot/internal/alerts"
	"hl-funding-bot/internal/config"
	"hl-funding-bot/internal/exec"
	"hl-funding-bot/internal/hedge"
	"hl-funding-bot/internal/metrics"
	"hl-funding-bot/internal/names"
	"hl-funding-bot/internal/ranking"
	"hl-funding-bot/internal/state"
	"hl-funding-bot/internal/strategy"
	"hl-funding-bot/internal/timescale"

	"go.uber.org/zap"
)

// Markets is the read side of the venue the engine consumes.
type Markets interface {
	Observe(ctx context.Context, symbols []string) ([]ranking.Observation, bool, error)
	CurrentFunding() map[string]float64
	Mid(ctx context.Context, asset string) (float64, error)
	PerpMeta(coin string) (assetID, szDecimals int, ok bool)
	SpotMeta(pair string) (assetID, szDecimals int, midKey string, ok bool)
}

// Accounts is the account state the engine consults.
type Accounts interface {
	Reconcile(ctx context.Context) (account.State, error)
	PerpPosition(coin string) (account.PerpPosition, bool)
	SpotBalance(token string) float64
	FundingEarned(ctx context.Context, coin string, since time.Time) (float64, error)
}

// Trader executes pair entries and exits.
type Trader interface {
	EnsureLeverage(ctx context.Context, assetID, leverage int) error
	OpenPair(ctx context.Context, perp, spot exec.Leg) (exec.PairResult, error)
	ClosePair(ctx context.Context, perp, spot exec.Leg) (exec.PairResult, error)
}

// Repairer fixes hedge drift findings; Close flattens legs outright.
type Repairer interface {
	Repair(ctx context.Context, symbol string, f hedge.Finding) (hedge.Outcome, error)
	Close(ctx context.Context, symbol string, f hedge.Finding) error
}

// Collateral moves USDC between the perp and spot wallets.
type Collateral interface {
	USDClassTransfer(ctx context.Context, amount float64, toPerp bool) error
}

// Engine drives the position lifecycle: scan, decide, execute, persist. It
// holds exactly one position at a time.
type Engine struct {
	cfg        *config.Config
	markets    Markets
	accounts   Accounts
	trader     Trader
	collateral Collateral
	repairer   Repairer
	snapFile   *state.SnapshotFile
	notifier   *alerts.Notifier
	metrics    *metrics.Metrics
	ts         *timescale.Writer
	log        *zap.Logger
	nowFunc    func() time.Time

	snapshot state.Snapshot
}

func NewEngine(
	cfg *config.Config,
	markets Markets,
	accounts Accounts,
	trader Trader,
	collateral Collateral,
	repairer Repairer,
	snapFile *state.SnapshotFile,
	notifier *alerts.Notifier,
	m *metrics.Metrics,
	ts *timescale.Writer,
	log *zap.Logger,
) *Engine {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Engine{
		cfg:        cfg,
		markets:    markets,
		accounts:   accounts,
		trader:     trader,
		collateral: collateral,
		repairer:   repairer,
		snapFile:   snapFile,
		notifier:   notifier,
		metrics:    m,
		ts:         ts,
		log:        log,
		nowFunc:    time.Now,
	}
}

// Recover loads the persisted snapshot and settles it against the venue. A
// position the venue no longer shows is dropped, not resurrected.
func (e *Engine) Recover(ctx context.Context) error {
	snap, err := e.snapFile.Load()
	if err != nil {
		e.log.Warn("state snapshot unreadable, starting idle", zap.Error(err))
		snap = state.Snapshot{}
	}
	e.snapshot = snap

	if _, err := e.accounts.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	if pos := e.snapshot.Position; pos != nil {
		coin := names.Perp(pos.Symbol)
		if _, ok := e.accounts.PerpPosition(coin); !ok {
			e.log.Warn("persisted position not found on venue, reverting to idle",
				zap.String("symbol", pos.Symbol))
			e.metrics.StateDesyncs.Inc()
			e.notifier.Desync(ctx, pos.Symbol)
			e.snapshot.Position = nil
			if err := e.persist(); err != nil {
				return err
			}
		}
	}
	return e.Audit(ctx)
}

// RunCycle performs one decision cycle.
func (e *Engine) RunCycle(ctx context.Context) error {
	defer e.metrics.CyclesCompleted.Inc()
	now := e.nowFunc().UTC()

	obs, hasData, err := e.markets.Observe(ctx, e.cfg.Strategy.Symbols)
	if err != nil {
		if hasData {
			e.log.Warn("partial market data", zap.Error(err))
		} else {
			e.log.Error("market scan failed, skipping cycle decisions", zap.Error(err))
		}
	}
	result := ranking.Rank(obs, ranking.Thresholds{
		MinAvgFundingAPR:   e.cfg.Filters.MinAvgFundingAPR,
		MaxBidAskSpreadPct: e.cfg.Filters.MaxBidAskSpreadPct,
		MaxCrossSpreadPct:  e.cfg.Filters.MaxCrossSpreadPct,
		MinVolumeUSD:       e.cfg.Filters.MinVolumeUSD,
	})
	e.recordOpportunities(now, obs, result)

	if e.snapshot.Position != nil {
		coin := names.Perp(e.snapshot.Position.Symbol)
		if _, ok := e.accounts.PerpPosition(coin); !ok {
			// The venue disagrees with our state. Trust the venue.
			e.log.Warn("position vanished from venue",
				zap.String("symbol", e.snapshot.Position.Symbol))
			e.metrics.StateDesyncs.Inc()
			e.notifier.Desync(ctx, e.snapshot.Position.Symbol)
			e.snapshot.Position = nil
			if err := e.persist(); err != nil {
				return err
			}
		}
	}

	input := strategy.Input{
		State:       e.snapshot.State(),
		Position:    e.snapshot.Position,
		Ranked:      result.Ranked,
		RawFunding:  e.markets.CurrentFunding(),
		HasData:     hasData,
		Now:         now,
		MinHold:     e.cfg.Strategy.MinHoldDuration,
		Improvement: e.cfg.Strategy.ImprovementMultiple,
	}
	decision := strategy.Decide(input)
	e.log.Info("cycle decision",
		zap.String("action", string(decision.Action)),
		zap.String("target", decision.Target),
		zap.String("reason", decision.Reason))

	var cycleErr error
	switch decision.Action {
	case strategy.ActionOpen:
		cycleErr = e.open(ctx, decision.Target, result)
	case strategy.ActionClose:
		cycleErr = e.close(ctx, decision.Reason)
	case strategy.ActionSwitch:
		cycleErr = e.switchTo(ctx, decision.Target, result)
	}

	e.snapshot.LastCheckedAt = now
	e.snapshot.LastOpportunityCheckAt = now
	if pos := e.snapshot.Position; pos != nil {
		pos.LastCheckedAt = now
	}
	if err := e.persist(); err != nil {
		if cycleErr != nil {
			return errors.Join(cycleErr, err)
		}
		return err
	}
	return cycleErr
}

func (e *Engine) open(ctx context.Context, symbol string, result ranking.Result) error {
	acctState, err := e.accounts.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile before open: %w", err)
	}
	acctState = e.balanceCollateral(ctx, acctState)
	coin := names.Perp(symbol)
	pair := names.SpotPair(symbol)
	perpID, perpDec, ok := e.markets.PerpMeta(coin)
	if !ok {
		return fmt.Errorf("no perp market for %s", symbol)
	}
	spotID, spotDec, spotMidKey, ok := e.markets.SpotMeta(pair)
	if !ok {
		return fmt.Errorf("no spot market for %s", symbol)
	}
	mid, err := e.markets.Mid(ctx, coin)
	if err != nil {
		return fmt.Errorf("mid before open: %w", err)
	}

	size, notional, err := strategy.ComputeSize(strategy.Sizing{
		PerpBalanceUSD: acctState.PerpWithdrawableUSD,
		SpotBalanceUSD: acctState.SpotBalances["USDC"],
		Utilization:    e.cfg.Strategy.UtilizationFraction,
		MinNotionalUSD: e.cfg.Strategy.MinNotional(symbol),
		MidPrice:       mid,
	})
	if errors.Is(err, strategy.ErrInsufficientCapital) {
		e.log.Info("skipping open", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.trader.EnsureLeverage(ctx, perpID, 1); err != nil {
		return err
	}
	perpLeg := exec.Leg{MidKey: coin, AssetID: perpID, IsBuy: false, Size: size, SzDecimals: perpDec}
	spotLeg := exec.Leg{MidKey: spotMidKey, AssetID: spotID, IsBuy: true, Size: size, SzDecimals: spotDec, IsSpot: true}
	res, err := e.trader.OpenPair(ctx, perpLeg, spotLeg)
	e.countOrders(res)
	if err != nil {
		if res.RolledBack {
			e.metrics.Rollbacks.Inc()
			e.notifier.Rollback(ctx, symbol, failedLegName(res))
		}
		e.metrics.OrdersFailed.Inc()
		return fmt.Errorf("open %s: %w", symbol, err)
	}

	now := e.nowFunc().UTC()
	apr := aprFor(result, symbol)
	rawFunding := e.markets.CurrentFunding()[coin]
	pos := &strategy.Position{
		Symbol:               symbol,
		PerpSymbol:           coin,
		SpotSymbol:           pair,
		PerpSize:             -res.Perp.Status.FilledSize,
		SpotSize:             res.Spot.Status.FilledSize,
		PerpEntryPrice:       res.Perp.Status.AvgPrice,
		SpotEntryPrice:       res.Spot.Status.AvgPrice,
		PositionValueUSD:     notional,
		FundingRateHourly:    rawFunding,
		FundingRateAnnualPct: apr,
		OpenedAt:             now,
		LastCheckedAt:        now,
	}
	e.snapshot.Position = pos
	e.metrics.PairsOpened.Inc()
	e.notifier.PositionOpened(ctx, symbol, notional, apr)
	e.recordEvent(timescale.PositionEvent{
		Time: now, Event: "open", Symbol: symbol,
		PerpSize: pos.PerpSize, SpotSize: pos.SpotSize,
		PerpPrice: pos.PerpEntryPrice, SpotPrice: pos.SpotEntryPrice,
		NotionalUSD: notional,
	})
	e.log.Info("position opened",
		zap.String("symbol", symbol),
		zap.Float64("notionalUsd", notional),
		zap.Float64("avgFundingApr", apr))
	return e.persist()
}

func (e *Engine) close(ctx context.Context, reason string) error {
	pos := e.snapshot.Position
	if pos == nil {
		return nil
	}
	coin := names.Perp(pos.Symbol)
	pair := names.SpotPair(pos.Symbol)
	perpID, perpDec, ok := e.markets.PerpMeta(coin)
	if !ok {
		return fmt.Errorf("no perp market for %s", pos.Symbol)
	}
	spotID, spotDec, spotMidKey, ok := e.markets.SpotMeta(pair)
	if !ok {
		return fmt.Errorf("no spot market for %s", pos.Symbol)
	}

	// Close what the venue reports, not what we remember.
	perpSize := math.Abs(pos.PerpSize)
	if live, ok := e.accounts.PerpPosition(coin); ok {
		perpSize = math.Abs(live.Size)
	}
	spotSize := pos.SpotSize
	if bal := e.accounts.SpotBalance(names.SpotBase(pos.Symbol)); bal > 0 && bal < spotSize {
		spotSize = bal
	}

	perpLeg := exec.Leg{MidKey: coin, AssetID: perpID, IsBuy: true, Size: perpSize, SzDecimals: perpDec, ReduceOnly: true}
	spotLeg := exec.Leg{MidKey: spotMidKey, AssetID: spotID, IsBuy: false, Size: spotSize, SzDecimals: spotDec, IsSpot: true}
	res, err := e.trader.ClosePair(ctx, perpLeg, spotLeg)
	e.countOrders(res)
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return fmt.Errorf("close %s: %w", pos.Symbol, err)
	}

	now := e.nowFunc().UTC()
	earned, ferr := e.accounts.FundingEarned(ctx, coin, pos.OpenedAt)
	if ferr != nil {
		e.log.Warn("funding earned lookup failed", zap.Error(ferr))
	}
	e.snapshot.History = append(e.snapshot.History, state.ClosedPosition{
		Position:    *pos,
		ClosedAt:    now,
		CloseReason: reason,
	})
	e.snapshot.Position = nil
	e.metrics.PairsClosed.Inc()
	e.notifier.PositionClosed(ctx, pos.Symbol, reason, earned)
	e.recordEvent(timescale.PositionEvent{
		Time: now, Event: "close", Symbol: pos.Symbol,
		PerpSize: -perpSize, SpotSize: spotSize,
		PerpPrice: res.Perp.Status.AvgPrice, SpotPrice: res.Spot.Status.AvgPrice,
		NotionalUSD: pos.PositionValueUSD, FundingEarnedUSD: earned,
		Reason: reason,
	})
	e.log.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", reason),
		zap.Float64("fundingEarnedUsd", earned))
	return e.persist()
}

// switchTo closes the held pair and opens the target. The open only runs
// once the close has fully succeeded; a failed close leaves the position in
// place for the next cycle.
func (e *Engine) switchTo(ctx context.Context, target string, result ranking.Result) error {
	held := ""
	heldAPR := 0.0
	if pos := e.snapshot.Position; pos != nil {
		held = pos.Symbol
		heldAPR = pos.FundingRateAnnualPct
	}
	if err := e.close(ctx, "switching to "+target); err != nil {
		return err
	}
	if err := e.open(ctx, target, result); err != nil {
		return fmt.Errorf("switch open leg: %w", err)
	}
	e.metrics.Switches.Inc()
	e.notifier.PositionSwitched(ctx, held, target, heldAPR, aprFor(result, target))
	return nil
}

// balanceCollateral evens out the perp and spot USDC wallets before sizing.
// Sizing keys off the smaller wallet, so a lopsided split strands capital.
// Transfer failures are not fatal: sizing proceeds on the wallets as found.
func (e *Engine) balanceCollateral(ctx context.Context, acct account.State) account.State {
	if e.collateral == nil {
		return acct
	}
	move := (acct.PerpWithdrawableUSD - acct.SpotBalances["USDC"]) / 2
	if math.Abs(move) < collateralMinTransferUSD {
		return acct
	}
	toPerp := move < 0
	if err := e.collateral.USDClassTransfer(ctx, math.Abs(move), toPerp); err != nil {
		e.log.Warn("collateral transfer failed", zap.Error(err))
		return acct
	}
	e.log.Info("balanced collateral",
		zap.Float64("amountUsd", math.Abs(move)), zap.Bool("toPerp", toPerp))
	balanced, err := e.accounts.Reconcile(ctx)
	if err != nil {
		e.log.Warn("reconcile after transfer failed", zap.Error(err))
		return acct
	}
	return balanced
}

// collateralMinTransferUSD is the smallest wallet imbalance worth a
// perp/spot transfer.
const collateralMinTransferUSD = 25.0

// Audit reconciles the account and grades the legs of every configured
// symbol against the venue, not just the remembered pair, so strays left by
// a desync or a partial unwind are found too. Cached balances are never
// trusted here: spot balances only move on reconcile.
func (e *Engine) Audit(ctx context.Context) error {
	acct, err := e.accounts.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("audit reconcile: %w", err)
	}
	symbols := e.cfg.Strategy.Symbols
	if pos := e.snapshot.Position; pos != nil && !containsSymbol(symbols, pos.Symbol) {
		symbols = append(append([]string(nil), symbols...), pos.Symbol)
	}
	var errs []error
	for _, symbol := range symbols {
		perpSize := acct.PerpPositions[names.Perp(symbol)].Size
		spotSize := acct.SpotBalances[names.SpotBase(symbol)]
		finding := hedge.Classify(perpSize, spotSize)
		if !finding.NeedsRepair() {
			continue
		}
		if err := e.handleFinding(ctx, symbol, finding); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) handleFinding(ctx context.Context, symbol string, finding hedge.Finding) error {
	held := e.snapshot.Position != nil && e.snapshot.Position.Symbol == symbol
	e.log.Warn("hedge drift detected",
		zap.String("symbol", symbol),
		zap.String("kind", string(finding.Kind)),
		zap.Float64("mismatchPct", finding.MismatchPct),
		zap.Bool("tracked", held))
	if !held {
		// Legs nobody remembers opening. Rebuilding the hedge would leave a
		// position the next cycle doubles up on, so flatten instead.
		if err := e.repairer.Close(ctx, symbol, finding); err != nil {
			return fmt.Errorf("stray close %s: %w", symbol, err)
		}
		e.metrics.HedgeRepairs.Inc()
		e.notifier.HedgeRepaired(ctx, symbol, string(finding.Kind)+" (stray, closed)", math.Abs(finding.RepairSize))
		return nil
	}

	pos := e.snapshot.Position
	outcome, err := e.repairer.Repair(ctx, symbol, finding)
	if err != nil {
		return fmt.Errorf("hedge repair %s: %w", symbol, err)
	}
	switch outcome {
	case hedge.OutcomeRepaired:
		e.metrics.HedgeRepairs.Inc()
		e.notifier.HedgeRepaired(ctx, symbol, string(finding.Kind), math.Abs(finding.RepairSize))
	case hedge.OutcomeClosed:
		now := e.nowFunc().UTC()
		e.snapshot.History = append(e.snapshot.History, state.ClosedPosition{
			Position:    *pos,
			ClosedAt:    now,
			CloseReason: "hedge repair failed",
		})
		e.snapshot.Position = nil
		e.metrics.PairsClosed.Inc()
		e.notifier.PositionClosed(ctx, symbol, "hedge repair failed", 0)
		return e.persist()
	}
	return nil
}

func containsSymbol(symbols []string, symbol string) bool {
	for _, s := range symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the engine's persisted view.
func (e *Engine) Snapshot() state.Snapshot {
	return e.snapshot
}

func (e *Engine) persist() error {
	if err := e.snapFile.Save(e.snapshot); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

func (e *Engine) countOrders(res exec.PairResult) {
	for _, leg := range []exec.LegResult{res.Perp, res.Spot} {
		if leg.Err == nil && leg.Status.Filled {
			e.metrics.OrdersPlaced.Inc()
		}
	}
}

func (e *Engine) recordOpportunities(now time.Time, obs []ranking.Observation, result ranking.Result) {
	if e.ts == nil {
		return
	}
	rankIndex := make(map[string]int, len(result.Ranked))
	for i, r := range result.Ranked {
		rankIndex[r.Symbol] = i + 1
	}
	for _, o := range obs {
		e.ts.EnqueueOpportunity(timescale.OpportunityRow{
			Time:             now,
			Symbol:           o.Symbol,
			AvgFundingAPR:    o.AvgFundingAPR,
			CurrentFundingHr: o.CurrentFundingHr,
			PerpSpreadPct:    o.PerpBidAskPct,
			SpotSpreadPct:    o.SpotBidAskPct,
			CrossSpreadPct:   o.PerpSpotCrossPct,
			DayVolumeUSD:     o.DayVolumeUSD,
			Rank:             rankIndex[o.Symbol],
			RejectReason:     string(result.Rejected[o.Symbol]),
		})
	}
}

func (e *Engine) recordEvent(event timescale.PositionEvent) {
	if e.ts == nil {
		return
	}
	e.ts.EnqueueEvent(event)
}

func aprFor(result ranking.Result, symbol string) float64 {
	for _, r := range result.Ranked {
		if r.Symbol == symbol {
			return r.AvgFundingAPR
		}
	}
	return 0
}

func failedLegName(res exec.PairResult) string {
	if res.Perp.Err != nil || !res.Perp.Status.Filled {
		return "perp"
	}
	return "spot"
}
