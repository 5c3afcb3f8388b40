package market

import (
	"context"
	"math"

	"hl-funding-bot/internal/names"
	"hl-funding-bot/internal/ranking"

	"go.uber.org/zap"
)

// Scanner gathers one ranking pass worth of observations for the tracked
// symbols. A symbol with partial data still produces an observation; the
// ranking filters decide its fate.
type Scanner struct {
	md      *MarketData
	funding *FundingHistory
	log     *zap.Logger
}

func NewScanner(md *MarketData, funding *FundingHistory, log *zap.Logger) *Scanner {
	return &Scanner{md: md, funding: funding, log: log}
}

// Observe returns one observation per symbol plus whether any market data
// exists at all. A false second return means the engine should sit out the
// cycle rather than treat "nothing ranked" as "nothing attractive".
func (s *Scanner) Observe(ctx context.Context, symbols []string) ([]ranking.Observation, bool, error) {
	if err := s.md.RefreshContexts(ctx); err != nil {
		s.log.Warn("context refresh failed", zap.Error(err))
	}
	hasAny := false
	obs := make([]ranking.Observation, 0, len(symbols))
	for _, symbol := range symbols {
		o, ok := s.observeSymbol(ctx, symbol)
		if ok {
			hasAny = true
		}
		obs = append(obs, o)
	}
	if !hasAny {
		return obs, false, errNoMarketData
	}
	return obs, true, nil
}

func (s *Scanner) observeSymbol(ctx context.Context, symbol string) (ranking.Observation, bool) {
	o := ranking.Observation{Symbol: symbol}
	perpCoin := names.Perp(symbol)

	pc, ok := s.md.PerpContext(perpCoin)
	if !ok {
		return o, false
	}
	o.CurrentFundingHr = pc.FundingRate
	o.DayVolumeUSD = pc.DayVolumeUSD

	apr, hasHistory, err := s.funding.AvgAPR(ctx, perpCoin)
	if err != nil {
		s.log.Warn("funding history unavailable", zap.String("symbol", symbol), zap.Error(err))
	}
	o.AvgFundingAPR = apr
	o.HasFundingHistory = hasHistory

	if q, ok := s.md.BestBidAsk(perpCoin); ok {
		o.PerpBidAskPct = q.SpreadPct()
	}

	spotMid := 0.0
	if sc, ok := s.md.SpotContext(names.SpotPair(symbol)); ok {
		if q, ok := s.md.BestBidAsk(sc.MidKey); ok {
			o.SpotBidAskPct = q.SpreadPct()
		}
		if mid, err := s.md.Mid(ctx, sc.MidKey); err == nil {
			spotMid = mid
		}
	}
	if perpMid, err := s.md.Mid(ctx, perpCoin); err == nil && spotMid > 0 {
		o.PerpSpotCrossPct = math.Abs(perpMid-spotMid) / spotMid * 100
	}
	return o, true
}
