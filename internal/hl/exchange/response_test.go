package exchange

import "testing"

func TestOrderStatusesFilled(t *testing.T) {
	resp := map[string]any{
		"status": "ok",
		"response": map[string]any{
			"type": "order",
			"data": map[string]any{
				"statuses": []any{
					map[string]any{"filled": map[string]any{"totalSz": "1.5", "avgPx": "99.5", "oid": float64(7)}},
				},
			},
		},
	}
	statuses := OrderStatusesFromResponse(resp)
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	s := statuses[0]
	if !s.Filled || s.Resting || s.Err != "" {
		t.Fatalf("unexpected status %+v", s)
	}
	if s.FilledSize != 1.5 || s.AvgPrice != 99.5 || s.OrderID != 7 {
		t.Fatalf("unexpected fill fields %+v", s)
	}
	if !s.Ok() {
		t.Fatal("filled status must be ok")
	}
}

func TestOrderStatusesResting(t *testing.T) {
	resp := map[string]any{
		"status": "ok",
		"response": map[string]any{
			"data": map[string]any{
				"statuses": []any{
					map[string]any{"resting": map[string]any{"oid": float64(11)}},
				},
			},
		},
	}
	statuses := OrderStatusesFromResponse(resp)
	if len(statuses) != 1 || !statuses[0].Resting || statuses[0].OrderID != 11 {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
	if statuses[0].Filled {
		t.Fatal("resting order must not report filled")
	}
}

func TestOrderStatusesErrorInsideOkEnvelope(t *testing.T) {
	resp := map[string]any{
		"status": "ok",
		"response": map[string]any{
			"data": map[string]any{
				"statuses": []any{
					map[string]any{"error": "Order must have minimum value of $10."},
				},
			},
		},
	}
	statuses := OrderStatusesFromResponse(resp)
	if len(statuses) != 1 || statuses[0].Err == "" {
		t.Fatalf("expected error status, got %+v", statuses)
	}
	if statuses[0].Ok() {
		t.Fatal("errored order must not be ok")
	}
}

func TestOrderStatusesTopLevelError(t *testing.T) {
	resp := map[string]any{"status": "err: invalid signature"}
	statuses := OrderStatusesFromResponse(resp)
	if len(statuses) != 1 || statuses[0].Err == "" {
		t.Fatalf("expected top-level error, got %+v", statuses)
	}
}
