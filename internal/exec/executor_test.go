package exec

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"hl-funding-bot/internal/hl/exchange"

	"go.uber.org/zap"
)

type fakeMarkets struct {
	mids map[string]float64
}

func (f *fakeMarkets) Mid(_ context.Context, asset string) (float64, error) {
	mid, ok := f.mids[asset]
	if !ok {
		return 0, errors.New("no mid")
	}
	return mid, nil
}

type fakeVenue struct {
	mu        sync.Mutex
	orders    []exchange.OrderWire
	cancels   []int64
	leverages map[int]int
	// failAsset rejects orders for one asset id.
	failAsset  int
	failUnwind bool
}

func (f *fakeVenue) PlaceOrder(_ context.Context, order exchange.OrderWire) (exchange.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, order)
	if f.failAsset != 0 && order.Asset == f.failAsset {
		if !order.ReduceOnly || f.failUnwind {
			return exchange.OrderStatus{Err: "Insufficient margin"}, nil
		}
	}
	if f.failUnwind && len(f.orders) > 2 {
		return exchange.OrderStatus{Err: "Insufficient margin"}, nil
	}
	size, _ := strconv.ParseFloat(order.Size, 64)
	return exchange.OrderStatus{Filled: true, FilledSize: size, AvgPrice: 100, OrderID: int64(len(f.orders))}, nil
}

func (f *fakeVenue) CancelOrder(_ context.Context, _ int, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, orderID)
	return nil
}

func (f *fakeVenue) UpdateLeverage(_ context.Context, asset, leverage int, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leverages == nil {
		f.leverages = make(map[int]int)
	}
	f.leverages[asset]++
	return nil
}

func testExecutor(venue *fakeVenue) *Executor {
	markets := &fakeMarkets{mids: map[string]float64{"BTC": 30000, "@140": 30010}}
	return New(venue, markets, nil, zap.NewNop(), 0.5, 2.0)
}

func perpLeg() Leg {
	return Leg{MidKey: "BTC", AssetID: 3, IsBuy: false, Size: 0.01, SzDecimals: 5}
}

func spotLeg() Leg {
	return Leg{MidKey: "@140", AssetID: 10140, IsBuy: true, Size: 0.01, SzDecimals: 5, IsSpot: true}
}

func TestOpenPairBothLegsFill(t *testing.T) {
	venue := &fakeVenue{}
	ex := testExecutor(venue)
	res, err := ex.OpenPair(context.Background(), perpLeg(), spotLeg())
	if err != nil {
		t.Fatalf("open pair: %v", err)
	}
	if res.RolledBack {
		t.Fatal("no rollback expected")
	}
	if len(venue.orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(venue.orders))
	}
	for _, order := range venue.orders {
		if order.OrderType.Limit == nil || order.OrderType.Limit.Tif != exchange.TifIoc {
			t.Fatalf("expected ioc order, got %+v", order.OrderType)
		}
		if order.Cloid == "" {
			t.Fatal("order missing client order id")
		}
	}
}

func TestOpenPairSpotFailureUnwindsPerpReduceOnly(t *testing.T) {
	venue := &fakeVenue{failAsset: 10140}
	ex := testExecutor(venue)
	res, err := ex.OpenPair(context.Background(), perpLeg(), spotLeg())
	if !errors.Is(err, ErrLegFailed) {
		t.Fatalf("err = %v, want ErrLegFailed", err)
	}
	if !res.RolledBack {
		t.Fatal("expected rollback")
	}
	if len(venue.orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(venue.orders))
	}
	unwind := venue.orders[2]
	if unwind.Asset != 3 || !unwind.IsBuy || !unwind.ReduceOnly {
		t.Fatalf("unwind must be a reduce-only perp buy, got %+v", unwind)
	}
}

func TestOpenPairPerpFailureUnwindsSpotPlainSell(t *testing.T) {
	venue := &fakeVenue{failAsset: 3}
	ex := testExecutor(venue)
	res, err := ex.OpenPair(context.Background(), perpLeg(), spotLeg())
	if !errors.Is(err, ErrLegFailed) {
		t.Fatalf("err = %v, want ErrLegFailed", err)
	}
	if !res.RolledBack {
		t.Fatal("expected rollback")
	}
	unwind := venue.orders[2]
	if unwind.Asset != 10140 || unwind.IsBuy {
		t.Fatalf("unwind must be a spot sell, got %+v", unwind)
	}
	if unwind.ReduceOnly {
		t.Fatal("spot orders never carry reduce-only")
	}
}

func TestOpenPairBothFail(t *testing.T) {
	venue := &fakeVenue{}
	markets := &fakeMarkets{mids: map[string]float64{}}
	ex := New(venue, markets, nil, zap.NewNop(), 0.5, 2.0)
	_, err := ex.OpenPair(context.Background(), perpLeg(), spotLeg())
	if !errors.Is(err, ErrBothLegsFailed) {
		t.Fatalf("err = %v, want ErrBothLegsFailed", err)
	}
	if len(venue.orders) != 0 {
		t.Fatal("no orders should reach the venue without prices")
	}
}

func TestOpenPairRollbackFailureSurfaces(t *testing.T) {
	venue := &fakeVenue{failAsset: 10140, failUnwind: true}
	ex := testExecutor(venue)
	res, err := ex.OpenPair(context.Background(), perpLeg(), spotLeg())
	if !errors.Is(err, ErrRollbackFailed) {
		t.Fatalf("err = %v, want ErrRollbackFailed", err)
	}
	if res.RolledBack {
		t.Fatal("rollback did not succeed, must not be reported as done")
	}
}

func TestClosePairReportsFailedLeg(t *testing.T) {
	venue := &fakeVenue{failAsset: 3, failUnwind: true}
	ex := testExecutor(venue)
	closePerp := perpLeg()
	closePerp.IsBuy = true
	closePerp.ReduceOnly = true
	closeSpot := spotLeg()
	closeSpot.IsBuy = false
	_, err := ex.ClosePair(context.Background(), closePerp, closeSpot)
	if !errors.Is(err, ErrLegFailed) {
		t.Fatalf("err = %v, want ErrLegFailed", err)
	}
	// Failed close must not trigger an unwind: only the two close orders.
	if len(venue.orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(venue.orders))
	}
}

func TestIOCPricesCrossTheMid(t *testing.T) {
	venue := &fakeVenue{}
	ex := testExecutor(venue)
	if _, err := ex.OpenPair(context.Background(), perpLeg(), spotLeg()); err != nil {
		t.Fatalf("open pair: %v", err)
	}
	for _, order := range venue.orders {
		price, err := strconv.ParseFloat(order.Price, 64)
		if err != nil {
			t.Fatalf("parse price %q: %v", order.Price, err)
		}
		if order.IsBuy && price <= 30010 {
			t.Fatalf("buy limit %f must cross above mid", price)
		}
		if !order.IsBuy && price >= 30000 {
			t.Fatalf("sell limit %f must cross below mid", price)
		}
	}
}

func TestEnsureLeverageIsIdempotent(t *testing.T) {
	venue := &fakeVenue{}
	ex := testExecutor(venue)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := ex.EnsureLeverage(ctx, 3, 1); err != nil {
			t.Fatalf("ensure leverage: %v", err)
		}
	}
	if venue.leverages[3] != 1 {
		t.Fatalf("leverage set %d times, want 1", venue.leverages[3])
	}
}
