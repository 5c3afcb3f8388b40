package alerts

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Notifier formats lifecycle events and pushes them to telegram. Send
// failures are logged, never propagated: alerting must not stall trading.
type Notifier struct {
	tg  *Telegram
	log *zap.Logger
}

func NewNotifier(tg *Telegram, log *zap.Logger) *Notifier {
	return &Notifier{tg: tg, log: log}
}

func (n *Notifier) PositionOpened(ctx context.Context, symbol string, notionalUSD, aprPct float64) {
	n.send(ctx, fmt.Sprintf("opened %s: $%.2f notional, %.1f%% avg funding APR", symbol, notionalUSD, aprPct))
}

func (n *Notifier) PositionClosed(ctx context.Context, symbol, reason string, fundingEarnedUSD float64) {
	n.send(ctx, fmt.Sprintf("closed %s (%s): funding earned $%.4f", symbol, reason, fundingEarnedUSD))
}

func (n *Notifier) PositionSwitched(ctx context.Context, from, to string, fromAPR, toAPR float64) {
	n.send(ctx, fmt.Sprintf("switched %s (%.1f%%) -> %s (%.1f%%)", from, fromAPR, to, toAPR))
}

func (n *Notifier) HedgeRepaired(ctx context.Context, symbol, kind string, size float64) {
	n.send(ctx, fmt.Sprintf("hedge repair on %s: %s, traded %.6f", symbol, kind, size))
}

func (n *Notifier) Rollback(ctx context.Context, symbol, failedLeg string) {
	n.send(ctx, fmt.Sprintf("entry on %s rolled back: %s leg failed", symbol, failedLeg))
}

func (n *Notifier) Desync(ctx context.Context, symbol string) {
	n.send(ctx, fmt.Sprintf("state desync on %s: venue shows no position, reverting to idle", symbol))
}

func (n *Notifier) send(ctx context.Context, message string) {
	if n == nil || n.tg == nil {
		return
	}
	if err := n.tg.Send(ctx, message); err != nil {
		n.log.Warn("telegram notify failed", zap.Error(err))
	}
}
