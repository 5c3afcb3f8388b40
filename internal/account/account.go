// Package account tracks what the venue believes about us: spot balances,
// perp positions with entry prices, margin, and open orders. Reconcile is
// the source of truth; the websocket stream keeps positions and orders warm
// between reconciles.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"hl-funding-bot/internal/hl/rest"
	"hl-funding-bot/internal/hl/ws"

	"go.uber.org/zap"
)

// PerpPosition is one open perp position. Size keeps the venue sign: short
// positions are negative.
type PerpPosition struct {
	Size          float64
	EntryPrice    float64
	PositionValue float64
	Leverage      int
}

// OrderRef identifies one resting order well enough to cancel it.
type OrderRef struct {
	OrderID     int64
	Cloid       string
	AssetSymbol string
}

type State struct {
	SpotBalances        map[string]float64
	PerpPositions       map[string]PerpPosition
	PerpWithdrawableUSD float64
	PerpAccountValueUSD float64
	OpenOrders          []OrderRef
}

type Account struct {
	rest *rest.Client
	ws   *ws.Client
	log  *zap.Logger
	user string

	mu    sync.RWMutex
	state State
}

func New(restClient *rest.Client, wsClient *ws.Client, log *zap.Logger, user string) *Account {
	return &Account{rest: restClient, ws: wsClient, log: log, user: strings.TrimSpace(user)}
}

// Reconcile pulls the full account picture over REST and replaces the cached
// state. This is the only path that is allowed to settle a desync.
func (a *Account) Reconcile(ctx context.Context) (State, error) {
	if a.rest == nil {
		return State{}, errors.New("rest client is required")
	}
	spot, err := a.rest.Info(ctx, rest.InfoRequest{Type: "spotClearinghouseState", User: a.user})
	if err != nil {
		return State{}, err
	}
	perp, err := a.rest.Info(ctx, rest.InfoRequest{Type: "clearinghouseState", User: a.user})
	if err != nil {
		return State{}, err
	}
	orders, err := a.rest.InfoAny(ctx, rest.InfoRequest{Type: "openOrders", User: a.user})
	if err != nil {
		return State{}, err
	}
	state := State{
		SpotBalances:  parseBalances(spot),
		PerpPositions: parsePositions(perp),
		OpenOrders:    parseOpenOrders(orders),
	}
	state.PerpWithdrawableUSD, state.PerpAccountValueUSD = parseMarginSummary(perp)
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
	return copyState(state), nil
}

// Start subscribes to the user's order and position streams so Snapshot
// stays current between reconciles. Balances stay REST-only; they only move
// when we trade.
func (a *Account) Start(ctx context.Context) error {
	if a.ws == nil {
		return nil
	}
	if a.user == "" {
		return errors.New("account user is required for ws subscriptions")
	}
	if err := a.ws.Connect(ctx); err != nil {
		return err
	}
	for _, typ := range []string{"openOrders", "clearinghouseState"} {
		sub := map[string]any{
			"method":       "subscribe",
			"subscription": map[string]any{"type": typ, "user": a.user},
		}
		if err := a.ws.Subscribe(ctx, sub); err != nil {
			return err
		}
	}
	go func() {
		_ = a.ws.Run(ctx, a.handleMessage)
	}()
	return nil
}

func (a *Account) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyState(a.state)
}

// SpotBalance returns the total balance of one spot token.
func (a *Account) SpotBalance(token string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.SpotBalances[token]
}

// PerpPosition returns the live perp position for a coin, false when flat.
func (a *Account) PerpPosition(coin string) (PerpPosition, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	pos, ok := a.state.PerpPositions[coin]
	if !ok || pos.Size == 0 {
		return PerpPosition{}, false
	}
	return pos, true
}

func (a *Account) handleMessage(msg json.RawMessage) {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		a.log.Debug("account ws decode failed", zap.Error(err))
		return
	}
	data := payload["data"]
	switch stringFromAny(payload["channel"]) {
	case "openOrders":
		orders := parseOpenOrders(data)
		a.mu.Lock()
		a.state.OpenOrders = orders
		a.mu.Unlock()
	case "clearinghouseState":
		m, ok := data.(map[string]any)
		if !ok {
			return
		}
		positions := parsePositions(m)
		withdrawable, accountValue := parseMarginSummary(m)
		a.mu.Lock()
		a.state.PerpPositions = positions
		if accountValue > 0 {
			a.state.PerpWithdrawableUSD = withdrawable
			a.state.PerpAccountValueUSD = accountValue
		}
		a.mu.Unlock()
	}
}

func copyState(state State) State {
	out := State{
		PerpWithdrawableUSD: state.PerpWithdrawableUSD,
		PerpAccountValueUSD: state.PerpAccountValueUSD,
	}
	if state.SpotBalances != nil {
		out.SpotBalances = make(map[string]float64, len(state.SpotBalances))
		for k, v := range state.SpotBalances {
			out.SpotBalances[k] = v
		}
	}
	if state.PerpPositions != nil {
		out.PerpPositions = make(map[string]PerpPosition, len(state.PerpPositions))
		for k, v := range state.PerpPositions {
			out.PerpPositions[k] = v
		}
	}
	if state.OpenOrders != nil {
		out.OpenOrders = append([]OrderRef(nil), state.OpenOrders...)
	}
	return out
}
