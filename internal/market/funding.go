package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hl-funding-bot/internal/hl/rest"
)

// fundingLookback is the averaging window for ranking. Hyperliquid perps pay
// hourly, so a week is 168 samples.
const fundingLookback = 7 * 24 * time.Hour

// hoursPerYear annualizes an hourly rate.
const hoursPerYear = 24 * 365

// FundingHistory caches seven day average funding per coin. History barely
// moves within an hour, so entries live for a refresh interval instead of
// being refetched every cycle.
type FundingHistory struct {
	rest    *rest.Client
	ttl     time.Duration
	nowFunc func() time.Time

	mu    sync.Mutex
	cache map[string]fundingAvg
}

type fundingAvg struct {
	aprPct    float64
	samples   int
	fetchedAt time.Time
}

func NewFundingHistory(restClient *rest.Client, ttl time.Duration) *FundingHistory {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &FundingHistory{
		rest:    restClient,
		ttl:     ttl,
		nowFunc: time.Now,
		cache:   make(map[string]fundingAvg),
	}
}

// AvgAPR returns the coin's average funding over the lookback window,
// annualized as a percentage. ok is false when the venue has no history for
// the coin.
func (f *FundingHistory) AvgAPR(ctx context.Context, coin string) (aprPct float64, ok bool, err error) {
	now := f.nowFunc().UTC()
	f.mu.Lock()
	entry, cached := f.cache[coin]
	f.mu.Unlock()
	if cached && now.Sub(entry.fetchedAt) < f.ttl {
		return entry.aprPct, entry.samples > 0, nil
	}

	start := now.Add(-fundingLookback)
	payload, err := f.rest.InfoAny(ctx, rest.InfoRequest{
		Type:      "fundingHistory",
		Coin:      coin,
		StartTime: start.UnixMilli(),
	})
	if err != nil {
		if cached {
			// Serve the stale average rather than dropping the symbol.
			return entry.aprPct, entry.samples > 0, nil
		}
		return 0, false, fmt.Errorf("funding history %s: %w", coin, err)
	}

	rates := parseFundingRates(payload)
	avg := fundingAvg{fetchedAt: now, samples: len(rates)}
	if len(rates) > 0 {
		var sum float64
		for _, r := range rates {
			sum += r
		}
		hourly := sum / float64(len(rates))
		avg.aprPct = hourly * hoursPerYear * 100
	}
	f.mu.Lock()
	f.cache[coin] = avg
	f.mu.Unlock()
	return avg.aprPct, avg.samples > 0, nil
}

// parseFundingRates extracts hourly rates from a fundingHistory response,
// a list of {coin, fundingRate, premium, time} objects.
func parseFundingRates(payload any) []float64 {
	items, ok := toSlice(payload)
	if !ok {
		if m, ok := toMap(payload); ok {
			if nested, ok := toSlice(m["fundingHistory"]); ok {
				items = nested
			} else if nested, ok := toSlice(m["data"]); ok {
				items = nested
			}
		}
	}
	if len(items) == 0 {
		return nil
	}
	rates := make([]float64, 0, len(items))
	for _, item := range items {
		m, ok := toMap(item)
		if !ok {
			continue
		}
		if v, ok := m["fundingRate"]; ok {
			if r, ok := floatFromAny(v); ok {
				rates = append(rates, r)
			}
		}
	}
	return rates
}
