// Package reconcile implements ReconciliationEngine (component C5): the
// correlator between stream-observed order fills, position changes, and
// the local trade ledger.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"reconcore/internal/event"
	"reconcore/internal/exchange"
	"reconcore/internal/ledger"
)

// Engine correlates close events and order fills with the ledger, driving
// Trade state transitions for changes originating outside this process.
type Engine struct {
	ledger   *ledger.Ledger
	exchange exchange.Client
}

// New builds an Engine over ledger l, invoking client for best-effort
// paired-order cancellation on close.
func New(l *ledger.Ledger, client exchange.Client) *Engine {
	return &Engine{ledger: l, exchange: client}
}

// OnOrderFill handles a fill or partial fill reported on the order channel.
// A cloid unresolvable in the ledger is not an error: it may be a
// conditional stop/tp order whose parent trade the ledger tracks by its own
// cloid, or fill echo for an order this process did not submit.
func (e *Engine) OnOrderFill(ctx context.Context, oid, cloid string, fillSz, fillPx decimal.Decimal) {
	if cloid == "" {
		return
	}
	if _, ok := e.ledger.GetByCloid(cloid); !ok {
		slog.Warn("fill for unknown cloid, dropping", "oid", oid, "cloid", cloid)
		return
	}
	if err := e.ledger.ApplyFill(ctx, cloid, oid, fillSz, fillPx); err != nil {
		slog.Error("applyFill failed", "oid", oid, "cloid", cloid, "err", err)
	}
}

// OnPositionChange handles a detected external position close (full or
// partial), resolving pid to cloid via the ledger's bindPid mapping.
func (e *Engine) OnPositionChange(ctx context.Context, ev *event.CloseEvent) {
	cloid, ok := e.ledger.GetByPid(ev.Pid)
	if !ok {
		slog.Warn("position close with no resolvable cloid, recording orphan", "pid", ev.Pid, "symbol", ev.Symbol)
		if err := e.ledger.RecordOrphanExternalClose(ctx, ev.Symbol, ev.PosSide, ev.CloseAmount); err != nil {
			slog.Error("recordOrphanExternalClose failed", "pid", ev.Pid, "err", err)
		}
		return
	}

	res, err := e.ledger.ApplyExternalClose(ctx, cloid, ev.CloseAmount, ev.IsFullClose, ev.UTimeMs)
	if err != nil {
		slog.Error("applyExternalClose failed", "cloid", cloid, "pid", ev.Pid, "err", err)
		return
	}
	if res.AlreadyApplied {
		return
	}

	if res.BecameClosed {
		e.cancelPairedAlgos(ctx, cloid, res)
	}
}

// cancelPairedAlgos best-effort cancels the stop-loss and take-profit
// conditional orders once a trade transitions to CLOSED. Failures are
// logged and never propagated: the close itself already committed.
func (e *Engine) cancelPairedAlgos(ctx context.Context, cloid string, res *ledger.ExternalCloseResult) {
	if res.StopLossCloid != "" {
		if err := e.exchange.CancelAlgo(ctx, res.StopLossCloid); err != nil {
			slog.Warn("cancelAlgo(stopLoss) failed", "cloid", cloid, "algoCloid", res.StopLossCloid, "err", err)
		}
	}
	if res.TakeProfitCloid != "" {
		if err := e.exchange.CancelAlgo(ctx, res.TakeProfitCloid); err != nil {
			slog.Warn("cancelAlgo(takeProfit) failed", "cloid", cloid, "algoCloid", res.TakeProfitCloid, "err", err)
		}
	}
}

// BindOnFirstFill records the pid -> cloid mapping the first time a fill
// carries position identity, per spec 4.5's resolution rule. OrderStream
// calls this alongside OnOrderFill when the order frame carries a pid.
func (e *Engine) BindOnFirstFill(cloid, pid string) {
	if cloid == "" || pid == "" {
		return
	}
	if err := e.ledger.BindPid(cloid, pid); err != nil {
		slog.Warn("bindPid failed", "cloid", cloid, "pid", pid, "err", err)
	}
}
