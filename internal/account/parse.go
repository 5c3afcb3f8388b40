package account

import (
	"encoding/json"
	"strconv"
	"strings"
)

func parseBalances(payload map[string]any) map[string]float64 {
	balances := make(map[string]float64)
	if payload == nil {
		return balances
	}
	raw, ok := payload["balances"].([]any)
	if !ok {
		return balances
	}
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		asset := stringFromAny(entry["coin"])
		if asset == "" {
			asset = stringFromAny(entry["token"])
		}
		if asset == "" {
			continue
		}
		if val, ok := floatFromAny(entry["total"]); ok {
			balances[asset] = val
		}
	}
	return balances
}

func parsePositions(payload map[string]any) map[string]PerpPosition {
	positions := make(map[string]PerpPosition)
	if payload == nil {
		return positions
	}
	raw, ok := payload["assetPositions"].([]any)
	if !ok {
		return positions
	}
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		pos := entry
		if nested, ok := entry["position"].(map[string]any); ok {
			pos = nested
		}
		coin := stringFromAny(pos["coin"])
		if coin == "" {
			continue
		}
		p := PerpPosition{}
		if v, ok := floatFromAny(pos["szi"]); ok {
			p.Size = v
		}
		if v, ok := floatFromAny(pos["entryPx"]); ok {
			p.EntryPrice = v
		}
		if v, ok := floatFromAny(pos["positionValue"]); ok {
			p.PositionValue = v
		}
		if lev, ok := pos["leverage"].(map[string]any); ok {
			if v, ok := floatFromAny(lev["value"]); ok {
				p.Leverage = int(v)
			}
		}
		if p.Size != 0 {
			positions[coin] = p
		}
	}
	return positions
}

// parseMarginSummary extracts withdrawable and account value from a
// clearinghouseState payload.
func parseMarginSummary(payload map[string]any) (withdrawable, accountValue float64) {
	if payload == nil {
		return 0, 0
	}
	if v, ok := floatFromAny(payload["withdrawable"]); ok {
		withdrawable = v
	}
	if summary, ok := payload["marginSummary"].(map[string]any); ok {
		if v, ok := floatFromAny(summary["accountValue"]); ok {
			accountValue = v
		}
	}
	return withdrawable, accountValue
}

func parseOpenOrders(payload any) []OrderRef {
	var raw []any
	switch data := payload.(type) {
	case []any:
		raw = data
	case map[string]any:
		if list, ok := data["orders"].([]any); ok {
			raw = list
		} else if list, ok := data["openOrders"].([]any); ok {
			raw = list
		} else if list, ok := data["data"].([]any); ok {
			raw = list
		}
	}
	if len(raw) == 0 {
		return nil
	}
	refs := make([]OrderRef, 0, len(raw))
	for _, item := range raw {
		order, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ref := OrderRef{
			OrderID:     int64FromAny(order["oid"]),
			Cloid:       stringFromAny(order["cloid"]),
			AssetSymbol: stringFromAny(order["coin"]),
		}
		if ref.OrderID == 0 && ref.Cloid == "" {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func int64FromAny(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return i
		}
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err == nil {
			return i
		}
	}
	return 0
}
