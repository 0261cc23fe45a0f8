// Package ledger implements TradeLedger (component C6): the in-memory and
// persistent record of logical trades keyed by client order ID.
package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"reconcore/internal/coreerr"
	"reconcore/internal/domain"
	"reconcore/internal/store"
)

const numShards = 32

// Ledger serializes all mutations of a Trade through a mutex keyed by
// cloid (sharded to a fixed size rather than one mutex per cloid).
type Ledger struct {
	st *store.Store

	shardLocks [numShards]sync.Mutex

	mu          sync.RWMutex
	trades      map[string]*domain.Trade     // cloid -> trade, in-memory first
	byPid       map[string]string            // pid -> cloid, invariant 4: never silently overwritten
	actionByOid map[string]domain.ActionType // oid -> action recorded at RecordSubmit, read back by ApplyFill
}

// New builds a Ledger backed by st. Journal rows are written synchronously;
// Trade upserts are written synchronously too here, since no caller in
// this core needs a deferred/batched writer to justify the complexity.
func New(st *store.Store) *Ledger {
	return &Ledger{
		st:          st,
		trades:      make(map[string]*domain.Trade),
		byPid:       make(map[string]string),
		actionByOid: make(map[string]domain.ActionType),
	}
}

func shardFor(cloid string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(cloid))
	return int(h.Sum32() % numShards)
}

func (l *Ledger) lock(cloid string) func() {
	m := &l.shardLocks[shardFor(cloid)]
	m.Lock()
	return m.Unlock
}

// Open generates a cloid, writes Trade{state=OPEN, currentSize=0}, and
// returns the cloid for submission by the REST layer.
func (l *Ledger) Open(ctx context.Context, symbol, posSide string, leverage decimal.Decimal, signalID, slCloid, tpCloid string) (string, error) {
	cloid := domain.NewClientOrderID(symbol, posSide, time.Now())
	unlock := l.lock(cloid)
	defer unlock()

	t := &domain.Trade{
		Cloid:           cloid,
		Symbol:          symbol,
		PosSide:         posSide,
		SignalID:        signalID,
		CurrentSize:     decimal.Zero,
		EntryPrice:      decimal.Zero,
		Leverage:        leverage,
		StopLossCloid:   slCloid,
		TakeProfitCloid: tpCloid,
		State:           domain.TradeOpen,
		OpenedAt:        time.Now(),
	}

	l.mu.Lock()
	l.trades[cloid] = t
	l.mu.Unlock()

	if err := l.st.UpsertTrade(ctx, t); err != nil {
		return "", err
	}
	return cloid, nil
}

// RecordSubmit associates oid with cloid, remembers the intended actionType
// so ApplyFill can later tell a reduce/close fill from an open/add one, and
// writes a pending journal row.
func (l *Ledger) RecordSubmit(ctx context.Context, cloid, oid string, actionType domain.ActionType) error {
	unlock := l.lock(cloid)
	defer unlock()

	t, ok := l.getLocked(cloid)
	if !ok {
		return fmt.Errorf("%w: recordSubmit for unknown cloid %s", coreerr.ErrLedgerConflict, cloid)
	}

	l.mu.Lock()
	l.actionByOid[oid] = actionType
	l.mu.Unlock()

	return l.st.AppendAction(ctx, domain.TradeAction{
		Cloid: cloid, Symbol: t.Symbol, PosSide: t.PosSide,
		Type: actionType, Oid: oid, Amount: decimal.Zero, Ts: time.Now(),
	})
}

// BindPid stores pid -> cloid. Idempotent; a pid already bound to a
// different cloid is never silently overwritten (invariant 4).
func (l *Ledger) BindPid(cloid, pid string) error {
	unlock := l.lock(cloid)
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byPid[pid]; ok {
		if existing != cloid {
			return fmt.Errorf("%w: pid %s already bound to %s, refusing to rebind to %s",
				coreerr.ErrLedgerConflict, pid, existing, cloid)
		}
		return nil
	}
	l.byPid[pid] = cloid
	if t, ok := l.trades[cloid]; ok {
		t.Pid = pid
	}
	return nil
}

// ApplyFill updates currentSize and the size-weighted entry price for a
// reported fill, then journals it. fillSz is the incremental size filled by
// this report (callers diff OKX's cumulative accFillSz themselves, since
// only they see consecutive reports for the same oid). A fill reported
// against an already-CLOSED trade is a stray echo and is dropped.
func (l *Ledger) ApplyFill(ctx context.Context, cloid, oid string, fillSz, fillPx decimal.Decimal) error {
	unlock := l.lock(cloid)
	defer unlock()

	t, ok := l.getLocked(cloid)
	if !ok {
		return fmt.Errorf("%w: fill for unknown cloid %s", coreerr.ErrLedgerConflict, cloid)
	}
	if t.State == domain.TradeClosed {
		return nil
	}

	l.mu.RLock()
	action, recorded := l.actionByOid[oid]
	l.mu.RUnlock()
	if !recorded {
		action = domain.ActionAdd
		if t.CurrentSize.IsZero() {
			action = domain.ActionOpen
		}
	}
	t.ApplyFill(action, fillSz, fillPx)

	if err := l.st.UpsertTrade(ctx, t); err != nil {
		return err
	}
	return l.st.AppendAction(ctx, domain.TradeAction{
		Cloid: cloid, Symbol: t.Symbol, PosSide: t.PosSide,
		Type: action, Oid: oid, Amount: fillSz, Ts: time.Now(),
	})
}

// ExternalCloseResult reports what ApplyExternalClose did, so the caller
// (ReconciliationEngine) can decide whether to cancel paired algo orders.
type ExternalCloseResult struct {
	ActionType        domain.ActionType // CLOSE if a local intent was active, else EXTERNAL_CLOSE
	BecameClosed      bool
	StopLossCloid     string
	TakeProfitCloid   string
	AlreadyApplied    bool // true if this call was a no-op replay of an already-seen uTime
}

// ApplyExternalClose decrements currentSize by amount (clamped at zero),
// transitions to CLOSED on full close or zero size, and journals the
// action. If a local close/reduce intent is active, the action is
// recorded as CLOSE rather than EXTERNAL_CLOSE (the correlation hazard
// resolution). Idempotent per (cloid, uTimeMs): replays of an already
// applied uTime are no-ops. If amount is zero (an ambiguous close, e.g. a
// snapshot with no prior state) and the trade is still OPEN with a
// positive currentSize, the fallback closes out the full tracked size
// rather than applying a zero-amount close.
func (l *Ledger) ApplyExternalClose(ctx context.Context, cloid string, amount decimal.Decimal, isFullClose bool, uTimeMs int64) (*ExternalCloseResult, error) {
	unlock := l.lock(cloid)
	defer unlock()

	t, ok := l.getLocked(cloid)
	if !ok {
		return nil, fmt.Errorf("%w: external close for unknown cloid %s", coreerr.ErrLedgerConflict, cloid)
	}

	if uTimeMs <= t.LastExternalUTimeMs {
		return &ExternalCloseResult{AlreadyApplied: true}, nil
	}

	if amount.IsZero() && t.State == domain.TradeOpen && t.CurrentSize.IsPositive() {
		amount = t.CurrentSize
	}

	t.DecrementExternal(amount)
	t.LastExternalUTimeMs = uTimeMs

	actionType := domain.ActionExternalClose
	now := time.Now()
	if t.IntentActive(now) {
		actionType = domain.ActionClose
	}

	becameClosed := false
	if isFullClose || t.CurrentSize.IsZero() {
		if t.State != domain.TradeClosed {
			t.State = domain.TradeClosed
			t.ClosedAt = now
			becameClosed = true
		}
	}
	t.ClearIntent()

	if err := l.st.UpsertTrade(ctx, t); err != nil {
		return nil, err
	}
	if err := l.st.AppendAction(ctx, domain.TradeAction{
		Cloid: cloid, Symbol: t.Symbol, PosSide: t.PosSide,
		Type: actionType, Amount: amount, Ts: now,
	}); err != nil {
		return nil, err
	}

	return &ExternalCloseResult{
		ActionType:      actionType,
		BecameClosed:    becameClosed,
		StopLossCloid:   t.StopLossCloid,
		TakeProfitCloid: t.TakeProfitCloid,
	}, nil
}

// RecordOrphanExternalClose journals an EXTERNAL_CLOSE row with cloid=null,
// for the case where a position event's pid resolves to no known trade.
func (l *Ledger) RecordOrphanExternalClose(ctx context.Context, symbol, posSide string, amount decimal.Decimal) error {
	return l.st.AppendAction(ctx, domain.TradeAction{
		Symbol: symbol, PosSide: posSide, Type: domain.ActionExternalClose,
		Amount: amount, Ts: time.Now(),
	})
}

// MarkIntent sets a 60s-expiry local close/reduce intent flag, recorded
// ahead of submitting the exchange-side order.
func (l *Ledger) MarkIntent(cloid string, intent domain.IntentKind) error {
	unlock := l.lock(cloid)
	defer unlock()

	t, ok := l.getLocked(cloid)
	if !ok {
		return fmt.Errorf("%w: markIntent for unknown cloid %s", coreerr.ErrLedgerConflict, cloid)
	}
	t.Intent = intent
	t.IntentSetAt = time.Now()
	return nil
}

// GetByCloid reads the in-memory trade state.
func (l *Ledger) GetByCloid(cloid string) (*domain.Trade, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.trades[cloid]
	return t, ok
}

// GetByPid resolves the cloid bound to pid, if any.
func (l *Ledger) GetByPid(pid string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cloid, ok := l.byPid[pid]
	return cloid, ok
}

// getLocked reads the in-memory trade; caller must hold the cloid's shard
// lock for write-path callers.
func (l *Ledger) getLocked(cloid string) (*domain.Trade, bool) {
	l.mu.RLock()
	t, ok := l.trades[cloid]
	l.mu.RUnlock()
	return t, ok
}
