package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hl-funding-bot/internal/account"
	"hl-funding-bot/internal/alerts"
	"hl-funding-bot/internal/config"
	"hl-funding-bot/internal/exec"
	"hl-funding-bot/internal/hedge"
	"hl-funding-bot/internal/hl/exchange"
	"hl-funding-bot/internal/hl/rest"
	"hl-funding-bot/internal/hl/ws"
	"hl-funding-bot/internal/market"
	"hl-funding-bot/internal/metrics"
	"hl-funding-bot/internal/names"
	"hl-funding-bot/internal/ratelimit"
	"hl-funding-bot/internal/state"
	"hl-funding-bot/internal/state/sqlite"
	"hl-funding-bot/internal/timescale"

	"go.uber.org/zap"
)

const fundingCacheTTL = 30 * time.Minute

// cycleDeadline bounds one detached decision cycle or audit so a wedged
// venue cannot block shutdown forever.
const cycleDeadline = 5 * time.Minute

// detachedCycleContext severs trading work from the shutdown signal. A
// mid-flight leg and its rollback must run to completion even while the
// process is stopping; the signal only gates the ticker loop.
func detachedCycleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cycleDeadline)
}

// App owns every concrete dependency and runs the engine's loop.
type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *sqlite.Store
	limiter  *ratelimit.Limiter
	rest     *rest.Client
	exchange *exchange.Client
	market   *market.MarketData
	account  *account.Account
	prom     *metrics.Prometheus
	ts       *timescale.Writer
	engine   *Engine

	lastLimiterRejected uint64
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	for _, dir := range []string{filepath.Dir(cfg.State.SQLitePath), filepath.Dir(cfg.State.FilePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(map[ratelimit.Channel]ratelimit.Budget{
		ratelimit.ChannelREST:   {Capacity: cfg.RateLimit.RESTCapacity, Window: cfg.RateLimit.RESTWindow},
		ratelimit.ChannelStream: {Capacity: cfg.RateLimit.StreamCapacity, Window: cfg.RateLimit.StreamWindow},
	})
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, limiter, log)
	marketWS := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, limiter, log)
	accountWS := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, limiter, log)

	marketData := market.New(restClient, marketWS, cfg.WS.StaleAfter, log)
	funding := market.NewFundingHistory(restClient, fundingCacheTTL)
	scanner := market.NewScanner(marketData, funding, log)

	walletAddress := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	if walletAddress == "" {
		return nil, errors.New("HL_WALLET_ADDRESS is required")
	}
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("HL_PRIVATE_KEY is required")
	}
	accountAddress := strings.TrimSpace(os.Getenv("HL_ACCOUNT_ADDRESS"))
	if accountAddress == "" {
		accountAddress = walletAddress
	}
	vaultAddress := strings.TrimSpace(os.Getenv("HL_VAULT_ADDRESS"))

	isMainnet := !strings.Contains(strings.ToLower(cfg.REST.BaseURL), "testnet")
	signer, err := exchange.NewSigner(privateKey, isMainnet)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(walletAddress, signer.Address().Hex()) {
		return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s",
			walletAddress, signer.Address().Hex())
	}
	exClient, err := exchange.NewClient(restClient, signer, vaultAddress)
	if err != nil {
		return nil, err
	}
	exClient.SetLogger(log)

	accountClient := account.New(restClient, accountWS, log, accountAddress)
	executor := exec.New(exClient, marketData, store, log,
		cfg.Strategy.SlippagePct, cfg.Strategy.SizeMismatchPct)
	repairer := hedge.NewRepairer(executor, marketData, cfg.Hedge.VenueMinUSD, log)

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	notifier := alerts.NewNotifier(alerts.NewTelegram(cfg.Telegram, log), log)

	var tsWriter *timescale.Writer
	if cfg.Timescale.Enabled {
		tsWriter, err = timescale.New(cfg.Timescale, log)
		if err != nil {
			log.Warn("timescale unavailable, archival disabled", zap.Error(err))
			tsWriter = nil
		}
	}

	snapFile := state.NewSnapshotFile(cfg.State.FilePath)
	engine := NewEngine(cfg, scannerMarkets{scanner, marketData}, accountClient,
		executor, exClient, repairer, snapFile, notifier, m, tsWriter, log)

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		limiter:  limiter,
		rest:     restClient,
		exchange: exClient,
		market:   marketData,
		account:  accountClient,
		prom:     prom,
		ts:       tsWriter,
		engine:   engine,
	}, nil
}

// scannerMarkets joins the scanner's observation surface with the raw market
// data reads into the engine's Markets interface.
type scannerMarkets struct {
	*market.Scanner
	*market.MarketData
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	} else if st, ok := a.exchange.NonceState(); ok {
		a.log.Info("nonce persistence enabled",
			zap.String("nonce_key", st.Key), zap.Uint64("nonce_seed", st.Last))
	}
	if a.ts != nil {
		a.ts.Start(ctx)
		defer a.ts.Close()
	}
	if a.prom != nil {
		go a.serveMetrics(ctx)
	}

	if err := a.market.RefreshContexts(ctx); err != nil {
		a.log.Warn("context refresh failed", zap.Error(err))
	}
	rctx, rcancel := detachedCycleContext(ctx)
	err := a.engine.Recover(rctx)
	rcancel()
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	a.cancelOpenOrders(ctx)

	if err := a.account.Start(ctx); err != nil {
		return err
	}
	if err := a.market.Start(ctx, a.bboCoins()); err != nil {
		return err
	}

	a.runCycle(ctx)

	check := time.NewTicker(a.cfg.Strategy.CheckInterval)
	defer check.Stop()
	status := time.NewTicker(a.cfg.Strategy.StatusInterval)
	defer status.Stop()
	audit := time.NewTicker(a.cfg.Hedge.AuditInterval)
	defer audit.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-check.C:
			a.runCycle(ctx)
		case <-audit.C:
			a.runAudit(ctx)
		case <-status.C:
			a.logStatus()
		}
	}
}

func (a *App) runCycle(ctx context.Context) {
	cctx, cancel := detachedCycleContext(ctx)
	defer cancel()
	if err := a.engine.RunCycle(cctx); err != nil {
		a.log.Warn("decision cycle failed", zap.Error(err))
	}
}

func (a *App) runAudit(ctx context.Context) {
	cctx, cancel := detachedCycleContext(ctx)
	defer cancel()
	if err := a.engine.Audit(cctx); err != nil {
		a.log.Warn("hedge audit failed", zap.Error(err))
	}
}

// bboCoins lists every stream key worth a best bid/ask subscription: the perp
// coin and the spot mid key of each configured symbol.
func (a *App) bboCoins() []string {
	coins := make([]string, 0, 2*len(a.cfg.Strategy.Symbols))
	for _, sym := range a.cfg.Strategy.Symbols {
		coins = append(coins, names.Perp(sym))
		if _, _, midKey, ok := a.market.SpotMeta(names.SpotPair(sym)); ok {
			coins = append(coins, midKey)
		}
	}
	return coins
}

// cancelOpenOrders clears any resting orders left behind by a previous run.
// All our orders are IOC, so anything resting is stale by definition.
func (a *App) cancelOpenOrders(ctx context.Context) {
	snap := a.account.Snapshot()
	for _, ref := range snap.OpenOrders {
		assetID, ok := a.resolveAssetID(ref.AssetSymbol)
		if !ok {
			a.log.Warn("cannot resolve asset for stale order",
				zap.String("asset", ref.AssetSymbol), zap.Int64("oid", ref.OrderID))
			continue
		}
		if err := a.exchange.CancelOrder(ctx, assetID, ref.OrderID); err != nil {
			a.log.Warn("stale order cancel failed",
				zap.String("asset", ref.AssetSymbol), zap.Int64("oid", ref.OrderID), zap.Error(err))
			continue
		}
		a.log.Info("cancelled stale order",
			zap.String("asset", ref.AssetSymbol), zap.Int64("oid", ref.OrderID))
	}
}

func (a *App) resolveAssetID(symbol string) (int, bool) {
	if strings.Contains(symbol, "/") || strings.HasPrefix(symbol, "@") {
		return a.market.SpotAssetID(symbol)
	}
	return a.market.PerpAssetID(symbol)
}

func (a *App) logStatus() {
	snap := a.engine.Snapshot()
	acct := a.account.Snapshot()
	fields := []zap.Field{
		zap.String("state", string(snap.State())),
		zap.Float64("perp_withdrawable_usd", acct.PerpWithdrawableUSD),
		zap.Float64("spot_usdc", acct.SpotBalances["USDC"]),
	}
	if pos := snap.Position; pos != nil {
		fields = append(fields,
			zap.String("symbol", pos.Symbol),
			zap.Float64("perp_size", pos.PerpSize),
			zap.Float64("spot_size", pos.SpotSize),
			zap.Float64("notional_usd", pos.PositionValueUSD),
			zap.Float64("avg_funding_apr", pos.FundingRateAnnualPct),
			zap.Duration("held_for", time.Since(pos.OpenedAt)))
	}
	_, rejected := a.limiter.Stats(ratelimit.ChannelREST)
	for a.lastLimiterRejected < rejected {
		a.engine.metrics.RateLimitRejected.Inc()
		a.lastLimiterRejected++
	}
	fields = append(fields, zap.Uint64("rest_rejected", rejected))
	a.log.Info("status", fields...)
}

func (a *App) serveMetrics(ctx context.Context) {
	srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: a.prom.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("metrics listening", zap.String("addr", a.cfg.Metrics.Listen))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Warn("metrics server stopped", zap.Error(err))
	}
}
