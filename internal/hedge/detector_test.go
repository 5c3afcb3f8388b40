package hedge

import (
	"math"
	"testing"
)

func TestClassifyHealthyBands(t *testing.T) {
	cases := []struct {
		name     string
		perp     float64
		spot     float64
		wantKind Kind
		wantBand Band
	}{
		{"exact match", -1.0, 1.0, KindHealthy, BandPerfect},
		{"three percent drift", -0.97, 1.0, KindHealthy, BandPerfect},
		{"ten percent drift", -0.90, 1.0, KindHealthy, BandGood},
		{"twenty percent drift", -0.80, 1.0, KindHealthy, BandPartial},
		{"forty percent drift", -0.60, 1.0, KindWeakHedge, BandWeak},
		{"flat book", 0, 0, KindFlat, BandPerfect},
	}
	for _, tc := range cases {
		f := Classify(tc.perp, tc.spot)
		if f.Kind != tc.wantKind || f.Band != tc.wantBand {
			t.Errorf("%s: kind=%s band=%s, want %s/%s", tc.name, f.Kind, f.Band, tc.wantKind, tc.wantBand)
		}
	}
}

func TestClassifyUnhedgedSpot(t *testing.T) {
	f := Classify(0, 2.5)
	if f.Kind != KindUnhedgedSpot {
		t.Fatalf("kind = %s, want UNHEDGED_SPOT", f.Kind)
	}
	if !f.NeedsRepair() {
		t.Fatal("unhedged spot needs repair")
	}
	// Repair grows the short to match the spot balance.
	if f.RepairSize != 2.5 {
		t.Fatalf("repair size = %f, want 2.5", f.RepairSize)
	}
}

func TestClassifyUnhedgedPerp(t *testing.T) {
	f := Classify(-1.5, 0)
	if f.Kind != KindUnhedgedPerp {
		t.Fatalf("kind = %s, want UNHEDGED_PERP", f.Kind)
	}
	// Repair shrinks the short to nothing.
	if f.RepairSize != -1.5 {
		t.Fatalf("repair size = %f, want -1.5", f.RepairSize)
	}
}

func TestClassifyWeakHedgeRepairDirection(t *testing.T) {
	under := Classify(-0.5, 1.0)
	if under.Kind != KindWeakHedge || under.RepairSize != 0.5 {
		t.Fatalf("under-shorted: %+v", under)
	}
	over := Classify(-1.0, 0.5)
	if over.Kind != KindWeakHedge {
		t.Fatalf("over-shorted kind = %s", over.Kind)
	}
	if math.Abs(over.RepairSize+0.5) > 1e-12 {
		t.Fatalf("over-shorted repair = %f, want -0.5", over.RepairSize)
	}
}

func TestClassifyInvertedPerp(t *testing.T) {
	f := Classify(1.0, 1.0)
	if f.Kind != KindInverted || !f.NeedsRepair() {
		t.Fatalf("long perp must be inverted: %+v", f)
	}
}

func TestClassifyIsIdempotentAfterRepair(t *testing.T) {
	drifted := Classify(-0.6, 1.0)
	if !drifted.NeedsRepair() {
		t.Fatal("drifted hedge must need repair")
	}
	// Apply the repair delta and re-audit.
	repaired := Classify(drifted.PerpSize-drifted.RepairSize, drifted.SpotSize)
	if repaired.NeedsRepair() {
		t.Fatalf("post-repair audit must be clean, got %+v", repaired)
	}
	if repaired.Band != BandPerfect {
		t.Fatalf("post-repair band = %s, want PERFECT", repaired.Band)
	}
}
