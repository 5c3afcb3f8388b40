package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"hl-funding-bot/internal/hl/rest"
)

// FundingPayment is one settled funding transfer from userFunding history.
// Amount is positive when we received funding.
type FundingPayment struct {
	Coin   string
	Amount float64
	Rate   float64
	Time   time.Time
}

// FundingSince returns the payments settled for one coin since a start
// time. Used to report what an open position has actually earned.
func (a *Account) FundingSince(ctx context.Context, coin string, since time.Time) ([]FundingPayment, error) {
	if a.rest == nil {
		return nil, errors.New("rest client is required")
	}
	if a.user == "" {
		return nil, errors.New("account user is required")
	}
	payload, err := a.rest.InfoAny(ctx, rest.InfoRequest{
		Type:      "userFunding",
		User:      a.user,
		StartTime: since.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	all := parseUserFunding(payload)
	if coin == "" {
		return all, nil
	}
	out := make([]FundingPayment, 0, len(all))
	for _, p := range all {
		if strings.EqualFold(p.Coin, coin) {
			out = append(out, p)
		}
	}
	return out, nil
}

// FundingEarned sums the payments for one coin since a start time.
func (a *Account) FundingEarned(ctx context.Context, coin string, since time.Time) (float64, error) {
	payments, err := a.FundingSince(ctx, coin, since)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range payments {
		total += p.Amount
	}
	return total, nil
}

// parseUserFunding decodes a userFunding response: a list of entries each
// carrying a time and a delta of type "funding".
func parseUserFunding(payload any) []FundingPayment {
	items, ok := payload.([]any)
	if !ok {
		if m, isMap := payload.(map[string]any); isMap {
			items, _ = m["data"].([]any)
		}
	}
	if len(items) == 0 {
		return nil
	}
	out := make([]FundingPayment, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		delta, ok := entry["delta"].(map[string]any)
		if !ok {
			continue
		}
		if typ := strings.ToLower(stringFromAny(delta["type"])); typ != "" && typ != "funding" {
			continue
		}
		p := FundingPayment{Coin: stringFromAny(delta["coin"])}
		if p.Coin == "" {
			continue
		}
		if v, ok := floatFromAny(delta["usdc"]); ok {
			p.Amount = v
		}
		if v, ok := floatFromAny(delta["fundingRate"]); ok {
			p.Rate = v
		}
		if ms := int64FromAny(entry["time"]); ms > 0 {
			p.Time = time.UnixMilli(ms).UTC()
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
