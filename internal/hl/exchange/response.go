package exchange

import "strconv"

// OrderStatusesFromResponse extracts the per-order outcomes from an /exchange
// response. The venue acknowledges the whole batch with "ok" even when every
// order inside it errored, so this is the only trustworthy signal.
func OrderStatusesFromResponse(resp map[string]any) []OrderStatus {
	if resp == nil {
		return nil
	}
	if status, _ := resp["status"].(string); status != "" && status != "ok" {
		return []OrderStatus{{Err: status}}
	}
	statuses := statusesFromAny(resp)
	out := make([]OrderStatus, 0, len(statuses))
	for _, raw := range statuses {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, parseOrderStatus(entry))
	}
	return out
}

func parseOrderStatus(entry map[string]any) OrderStatus {
	if msg, ok := entry["error"].(string); ok {
		return OrderStatus{Err: msg}
	}
	if filled, ok := entry["filled"].(map[string]any); ok {
		return OrderStatus{
			Filled:     true,
			OrderID:    int64FromAny(filled["oid"]),
			FilledSize: floatFromAny(filled["totalSz"]),
			AvgPrice:   floatFromAny(filled["avgPx"]),
		}
	}
	if resting, ok := entry["resting"].(map[string]any); ok {
		return OrderStatus{
			Resting: true,
			OrderID: int64FromAny(resting["oid"]),
		}
	}
	return OrderStatus{Err: "unrecognized order status"}
}

func statusesFromAny(v any) []any {
	switch val := v.(type) {
	case map[string]any:
		if statuses, ok := val["statuses"].([]any); ok {
			return statuses
		}
		for _, key := range []string{"response", "data"} {
			if nested, ok := val[key]; ok {
				if statuses := statusesFromAny(nested); statuses != nil {
					return statuses
				}
			}
		}
	}
	return nil
}

func floatFromAny(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return f
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return 0
	}
}

func int64FromAny(v any) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0
		}
		return i
	case int:
		return int64(val)
	case int64:
		return val
	default:
		return 0
	}
}
