// Package market maintains the live view of the venue: mid prices and best
// bid/ask from the websocket stream, perp and spot metadata from /info, and
// seven day funding averages. Reads fall back to REST whenever the stream
// has gone quiet so a dead socket degrades to polling instead of trading on
// stale prices.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hl-funding-bot/internal/hl/rest"
	"hl-funding-bot/internal/hl/ws"

	"go.uber.org/zap"
)

// defaultStaleAfter is how long the mid cache stays trusted without a
// websocket message before reads fall back to REST.
const defaultStaleAfter = 15 * time.Second

type PerpContext struct {
	Index        int
	FundingRate  float64
	OraclePrice  float64
	MarkPrice    float64
	SzDecimals   int
	DayVolumeUSD float64
}

type SpotContext struct {
	Symbol          string
	Base            string
	Quote           string
	Index           int
	BaseSzDecimals  int
	QuoteSzDecimals int
	RawName         string
	MidKey          string
}

// Quote is one side's best bid and ask.
type Quote struct {
	Bid float64
	Ask float64
}

// SpreadPct is the bid/ask spread as a percentage of the mid.
func (q Quote) SpreadPct() float64 {
	mid := (q.Bid + q.Ask) / 2
	if mid <= 0 || q.Ask < q.Bid {
		return 0
	}
	return (q.Ask - q.Bid) / mid * 100
}

func (q Quote) valid() bool { return q.Bid > 0 && q.Ask > 0 && q.Ask >= q.Bid }

type MarketData struct {
	rest       *rest.Client
	ws         *ws.Client
	staleAfter time.Duration
	log        *zap.Logger

	mu               sync.RWMutex
	midPrices        map[string]float64
	quotes           map[string]Quote
	funding          map[string]float64
	perpCtx          map[string]PerpContext
	spotCtx          map[string]SpotContext
	lastCtxRefresh   time.Time
	ctxRefreshWindow time.Duration
}

func New(restClient *rest.Client, wsClient *ws.Client, staleAfter time.Duration, log *zap.Logger) *MarketData {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &MarketData{
		rest:             restClient,
		ws:               wsClient,
		staleAfter:       staleAfter,
		log:              log,
		midPrices:        make(map[string]float64),
		quotes:           make(map[string]Quote),
		funding:          make(map[string]float64),
		perpCtx:          make(map[string]PerpContext),
		spotCtx:          make(map[string]SpotContext),
		ctxRefreshWindow: 30 * time.Second,
	}
}

// Start connects the stream, subscribes to allMids plus a bbo feed for each
// tracked coin, and launches the read loop.
func (m *MarketData) Start(ctx context.Context, bboCoins []string) error {
	if err := m.RefreshContexts(ctx); err != nil {
		m.log.Warn("initial context refresh failed", zap.Error(err))
	}
	if m.ws == nil {
		return nil
	}
	if err := m.ws.Connect(ctx); err != nil {
		return err
	}
	if err := m.ws.Subscribe(ctx, subscription("allMids", nil)); err != nil {
		return err
	}
	for _, coin := range bboCoins {
		if err := m.ws.Subscribe(ctx, subscription("bbo", map[string]any{"coin": coin})); err != nil {
			m.log.Warn("bbo subscribe failed", zap.String("coin", coin), zap.Error(err))
		}
	}
	go func() {
		_ = m.ws.Run(ctx, m.handleMessage)
	}()
	return nil
}

func subscription(typ string, extra map[string]any) map[string]any {
	sub := map[string]any{"type": typ}
	for k, v := range extra {
		sub[k] = v
	}
	return map[string]any{"method": "subscribe", "subscription": sub}
}

// RefreshContexts pulls perp and spot metadata. Rate limited to one refresh
// per window; callers may invoke it every cycle.
func (m *MarketData) RefreshContexts(ctx context.Context) error {
	if m.rest == nil {
		return nil
	}
	if !m.shouldRefresh() {
		return nil
	}
	perpResp, err := m.rest.InfoAny(ctx, rest.InfoRequest{Type: "metaAndAssetCtxs"})
	if err != nil {
		return err
	}
	spotResp, err := m.rest.InfoAny(ctx, rest.InfoRequest{Type: "spotMetaAndAssetCtxs"})
	if err != nil {
		spotResp, err = m.rest.InfoAny(ctx, rest.InfoRequest{Type: "spotMeta"})
		if err != nil {
			return err
		}
	}
	perpCtx, err := parsePerpContexts(perpResp)
	if err != nil {
		return err
	}
	spotCtx, err := parseSpotContexts(spotResp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.perpCtx = perpCtx
	m.spotCtx = spotCtx
	m.lastCtxRefresh = time.Now().UTC()
	for asset, pc := range perpCtx {
		m.funding[asset] = pc.FundingRate
	}
	m.mu.Unlock()
	return nil
}

func (m *MarketData) shouldRefresh() bool {
	m.mu.RLock()
	last := m.lastCtxRefresh
	window := m.ctxRefreshWindow
	m.mu.RUnlock()
	if last.IsZero() {
		return true
	}
	return time.Since(last) >= window
}

func (m *MarketData) streamFresh() bool {
	return m.ws != nil && !m.ws.Stale(m.staleAfter)
}

// Mid returns the mid price for an asset key (perp coin or spot @index /
// pair name). The cache is only trusted while the stream is fresh.
func (m *MarketData) Mid(ctx context.Context, asset string) (float64, error) {
	if m.streamFresh() {
		m.mu.RLock()
		price, ok := m.midPrices[asset]
		m.mu.RUnlock()
		if ok && price > 0 {
			return price, nil
		}
	}
	resp, err := m.rest.Info(ctx, rest.InfoRequest{Type: "allMids"})
	if err != nil {
		return 0, fmt.Errorf("allMids fallback: %w", err)
	}
	m.updateMids(map[string]any{"mids": resp})
	m.mu.RLock()
	price, ok := m.midPrices[asset]
	m.mu.RUnlock()
	if !ok || price <= 0 {
		return 0, fmt.Errorf("mid price for %s not found", asset)
	}
	return price, nil
}

// BestBidAsk returns the latest bbo quote for a coin, false when the feed
// has not produced one yet or the stream is stale.
func (m *MarketData) BestBidAsk(coin string) (Quote, bool) {
	if !m.streamFresh() {
		return Quote{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[coin]
	if !ok || !q.valid() {
		return Quote{}, false
	}
	return q, true
}

// FundingRate returns the current hourly perp funding rate.
func (m *MarketData) FundingRate(asset string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.funding[asset]
	return val, ok
}

// CurrentFunding returns every tracked coin's current hourly rate. The
// decision layer consults it for symbols the ranking filtered out.
func (m *MarketData) CurrentFunding() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.funding))
	for k, v := range m.funding {
		out[k] = v
	}
	return out
}

func (m *MarketData) PerpContext(asset string) (PerpContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pc, ok := m.perpCtx[asset]
	return pc, ok
}

func (m *MarketData) SpotContext(asset string) (SpotContext, bool) {
	m.mu.RLock()
	sc, ok := m.spotCtx[asset]
	m.mu.RUnlock()
	if !ok && !strings.Contains(asset, "/") {
		m.mu.RLock()
		sc, ok = m.spotCtx[asset+"/USDC"]
		m.mu.RUnlock()
	}
	return sc, ok
}

func (m *MarketData) PerpAssetID(asset string) (int, bool) {
	pc, ok := m.PerpContext(asset)
	if !ok {
		return 0, false
	}
	return pc.Index, true
}

// PerpMeta resolves a coin to its order asset id and size decimals.
func (m *MarketData) PerpMeta(coin string) (assetID, szDecimals int, ok bool) {
	pc, found := m.PerpContext(coin)
	if !found {
		return 0, 0, false
	}
	return pc.Index, pc.SzDecimals, true
}

// SpotMeta resolves a spot pair to its order asset id, base size decimals,
// and the allMids key its price streams under.
func (m *MarketData) SpotMeta(pair string) (assetID, szDecimals int, midKey string, ok bool) {
	sc, found := m.SpotContext(pair)
	if !found {
		return 0, 0, "", false
	}
	return 10000 + sc.Index, sc.BaseSzDecimals, sc.MidKey, true
}

// SpotAssetID maps a spot pair to its order asset id, offset by 10000 per
// the venue convention.
func (m *MarketData) SpotAssetID(asset string) (int, bool) {
	sc, ok := m.SpotContext(asset)
	if !ok {
		return 0, false
	}
	return 10000 + sc.Index, true
}

func (m *MarketData) handleMessage(msg json.RawMessage) {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		m.log.Debug("ws decode error", zap.Error(err))
		return
	}
	switch payload["channel"] {
	case "bbo":
		m.updateQuote(payload)
	default:
		m.updateMids(payload)
	}
}

func (m *MarketData) updateMids(payload map[string]any) {
	var mids map[string]any
	if data, ok := payload["data"].(map[string]any); ok {
		if raw, ok := data["mids"].(map[string]any); ok {
			mids = raw
		}
	}
	if mids == nil {
		if raw, ok := payload["mids"].(map[string]any); ok {
			mids = raw
		}
	}
	if mids == nil {
		// /info allMids returns a flat map of symbol -> mid.
		if _, hasData := payload["data"]; !hasData {
			mids = payload
		}
	}
	if mids == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for asset, v := range mids {
		if f, ok := floatFromAny(v); ok {
			m.midPrices[asset] = f
		}
	}
}

func (m *MarketData) updateQuote(payload map[string]any) {
	coin, quote, ok := parseBBO(payload)
	if !ok {
		return
	}
	m.mu.Lock()
	m.quotes[coin] = quote
	m.mu.Unlock()
}

var errNoMarketData = errors.New("no market data")
