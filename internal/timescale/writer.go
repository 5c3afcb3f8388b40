// Package timescale archives what the bot saw and did: one row per ranked
// opportunity per scan, one row per lifecycle event. Writes are queued and
// best effort; a full queue drops rows rather than stalling the cycle.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hl-funding-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// OpportunityRow is one symbol's snapshot from a ranking pass.
type OpportunityRow struct {
	Time             time.Time
	Symbol           string
	AvgFundingAPR    float64
	CurrentFundingHr float64
	PerpSpreadPct    float64
	SpotSpreadPct    float64
	CrossSpreadPct   float64
	DayVolumeUSD     float64
	Rank             int
	RejectReason     string
}

// PositionEvent is one lifecycle transition.
type PositionEvent struct {
	Time             time.Time
	Event            string
	Symbol           string
	PerpSize         float64
	SpotSize         float64
	PerpPrice        float64
	SpotPrice        float64
	NotionalUSD      float64
	FundingEarnedUSD float64
	Reason           string
}

type Writer struct {
	db            *sql.DB
	log           *zap.Logger
	schema        string
	opportunities chan OpportunityRow
	events        chan PositionEvent
	started       atomic.Bool
	dropOpp       atomic.Uint64
	dropEvent     atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:            db,
		log:           log,
		schema:        schema,
		opportunities: make(chan OpportunityRow, queueSize),
		events:        make(chan PositionEvent, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueOpportunity(row OpportunityRow) {
	if w == nil {
		return
	}
	select {
	case w.opportunities <- row:
	default:
		if w.dropOpp.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale opportunity queue full")
		}
	}
}

func (w *Writer) EnqueueEvent(event PositionEvent) {
	if w == nil {
		return
	}
	select {
	case w.events <- event:
	default:
		if w.dropEvent.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale event queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.opportunities:
			w.writeOpportunity(ctx, row)
		case event := <-w.events:
			w.writeEvent(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		avg_funding_apr DOUBLE PRECISION NOT NULL,
		current_funding_hr DOUBLE PRECISION NOT NULL,
		perp_spread_pct DOUBLE PRECISION NOT NULL,
		spot_spread_pct DOUBLE PRECISION NOT NULL,
		cross_spread_pct DOUBLE PRECISION NOT NULL,
		day_volume_usd DOUBLE PRECISION NOT NULL,
		rank INTEGER NOT NULL,
		reject_reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (ts, symbol)
	)`, w.table("opportunity_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		event TEXT NOT NULL,
		symbol TEXT NOT NULL,
		perp_size DOUBLE PRECISION NOT NULL,
		spot_size DOUBLE PRECISION NOT NULL,
		perp_price DOUBLE PRECISION NOT NULL,
		spot_price DOUBLE PRECISION NOT NULL,
		notional_usd DOUBLE PRECISION NOT NULL,
		funding_earned_usd DOUBLE PRECISION NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	)`, w.table("position_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{"opportunity_snapshots", "position_events"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(table))); err != nil && w.log != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeOpportunity(ctx context.Context, row OpportunityRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, avg_funding_apr, current_funding_hr, perp_spread_pct,
		spot_spread_pct, cross_spread_pct, day_volume_usd, rank, reject_reason
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (ts, symbol) DO NOTHING`, w.table("opportunity_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time, row.Symbol, row.AvgFundingAPR, row.CurrentFundingHr,
		row.PerpSpreadPct, row.SpotSpreadPct, row.CrossSpreadPct,
		row.DayVolumeUSD, row.Rank, row.RejectReason,
	); err != nil && w.log != nil {
		w.log.Warn("timescale opportunity write failed", zap.Error(err))
	}
}

func (w *Writer) writeEvent(ctx context.Context, event PositionEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, event, symbol, perp_size, spot_size, perp_price, spot_price,
		notional_usd, funding_earned_usd, reason
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, w.table("position_events"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time, event.Event, event.Symbol, event.PerpSize, event.SpotSize,
		event.PerpPrice, event.SpotPrice, event.NotionalUSD,
		event.FundingEarnedUSD, event.Reason,
	); err != nil && w.log != nil {
		w.log.Warn("timescale event write failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string, args ...any) error {
	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}

// Dropped reports how many rows were discarded on full queues.
func (w *Writer) Dropped() (opportunities, events uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropOpp.Load(), w.dropEvent.Load()
}
