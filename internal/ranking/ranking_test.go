package ranking

import "testing"

var testThresholds = Thresholds{
	MinAvgFundingAPR:   5,
	MaxBidAskSpreadPct: 0.3,
	MaxCrossSpreadPct:  0.5,
	MinVolumeUSD:       1_000_000,
}

func healthy(symbol string, apr float64) Observation {
	return Observation{
		Symbol:            symbol,
		AvgFundingAPR:     apr,
		PerpBidAskPct:     0.05,
		SpotBidAskPct:     0.08,
		PerpSpotCrossPct:  0.1,
		DayVolumeUSD:      50_000_000,
		HasFundingHistory: true,
	}
}

func TestRankSortsByFundingDescending(t *testing.T) {
	res := Rank([]Observation{
		healthy("BTC", 8),
		healthy("HYPE", 25),
		healthy("ETH", 12),
	}, testThresholds)
	want := []string{"HYPE", "ETH", "BTC"}
	if len(res.Ranked) != len(want) {
		t.Fatalf("ranked %d symbols, want %d", len(res.Ranked), len(want))
	}
	for i, sym := range want {
		if res.Ranked[i].Symbol != sym {
			t.Fatalf("rank[%d] = %s, want %s", i, res.Ranked[i].Symbol, sym)
		}
	}
}

func TestRankTieBreaksBySymbol(t *testing.T) {
	res := Rank([]Observation{
		healthy("SOL", 10),
		healthy("ETH", 10),
	}, testThresholds)
	if res.Ranked[0].Symbol != "ETH" || res.Ranked[1].Symbol != "SOL" {
		t.Fatalf("tie break order wrong: %+v", res.Ranked)
	}
}

func TestNegativeFundingNeverRanks(t *testing.T) {
	o := healthy("BTC", -3)
	res := Rank([]Observation{o}, Thresholds{
		MinAvgFundingAPR:   -100,
		MaxBidAskSpreadPct: 100,
		MaxCrossSpreadPct:  100,
	})
	if len(res.Ranked) != 0 {
		t.Fatal("negative funding must never be admitted")
	}
	if res.Rejected["BTC"] != RejectFundingTooLow {
		t.Fatalf("reason = %q, want funding rejection", res.Rejected["BTC"])
	}
}

func TestEachFilterFiresInOrder(t *testing.T) {
	cases := []struct {
		name string
		obs  Observation
		want RejectReason
	}{
		{"no history", Observation{Symbol: "X"}, RejectNoData},
		{"low funding", func() Observation {
			o := healthy("X", 2)
			return o
		}(), RejectFundingTooLow},
		{"wide perp spread", func() Observation {
			o := healthy("X", 10)
			o.PerpBidAskPct = 0.9
			return o
		}(), RejectSpreadTooWide},
		{"wide spot spread", func() Observation {
			o := healthy("X", 10)
			o.SpotBidAskPct = 0.9
			return o
		}(), RejectSpreadTooWide},
		{"wide cross", func() Observation {
			o := healthy("X", 10)
			o.PerpSpotCrossPct = 1.2
			return o
		}(), RejectCrossTooWide},
		{"thin volume", func() Observation {
			o := healthy("X", 10)
			o.DayVolumeUSD = 5000
			return o
		}(), RejectVolumeTooSmall},
	}
	for _, tc := range cases {
		res := Rank([]Observation{tc.obs}, testThresholds)
		if got := res.Rejected["X"]; got != tc.want {
			t.Errorf("%s: reason = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRejectReasonNamesEarliestFilter(t *testing.T) {
	// Fails spread, volume, and funding at once; the reason must name the
	// first check in the spread, cross, volume, funding order.
	o := healthy("X", 2)
	o.PerpBidAskPct = 0.9
	o.DayVolumeUSD = 5000
	res := Rank([]Observation{o}, testThresholds)
	if got := res.Rejected["X"]; got != RejectSpreadTooWide {
		t.Fatalf("reason = %q, want %q", got, RejectSpreadTooWide)
	}

	// With spread healthy again, volume outranks funding.
	o = healthy("X", 2)
	o.DayVolumeUSD = 5000
	res = Rank([]Observation{o}, testThresholds)
	if got := res.Rejected["X"]; got != RejectVolumeTooSmall {
		t.Fatalf("reason = %q, want %q", got, RejectVolumeTooSmall)
	}
}

func TestEmptyInputRanksNothing(t *testing.T) {
	res := Rank(nil, testThresholds)
	if len(res.Ranked) != 0 || len(res.Rejected) != 0 {
		t.Fatalf("unexpected output for empty input: %+v", res)
	}
}
