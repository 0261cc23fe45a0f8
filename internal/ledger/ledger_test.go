package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"reconcore/internal/domain"
	"reconcore/internal/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func TestLedger_Open_ThenGetByCloid(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	cloid, err := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.NewFromInt(5), "", "Xs", "Xt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	tr, ok := l.GetByCloid(cloid)
	if !ok {
		t.Fatal("expected trade to exist after Open")
	}
	if tr.State != domain.TradeOpen {
		t.Errorf("State = %s, want OPEN", tr.State)
	}
	if !tr.CurrentSize.IsZero() {
		t.Errorf("CurrentSize = %s, want 0", tr.CurrentSize)
	}
}

func TestLedger_BindPid_NeverSilentlyOverwritten(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	cloidA, _ := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.Zero, "", "", "")
	cloidB, _ := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.Zero, "", "", "")

	if err := l.BindPid(cloidA, "P1"); err != nil {
		t.Fatalf("first bind error = %v", err)
	}
	if err := l.BindPid(cloidA, "P1"); err != nil {
		t.Fatalf("idempotent rebind should succeed, got %v", err)
	}
	if err := l.BindPid(cloidB, "P1"); err == nil {
		t.Fatal("expected rebind of P1 to a different cloid to fail")
	}

	got, ok := l.GetByPid("P1")
	if !ok || got != cloidA {
		t.Fatalf("GetByPid(P1) = %q, %v, want %q, true", got, ok, cloidA)
	}
}

// S1 — external full close of a long trade.
func TestLedger_ApplyExternalClose_FullClose(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	cloid, _ := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.NewFromInt(5), "", "Xs", "Xt")
	tr, _ := l.GetByCloid(cloid)
	tr.CurrentSize = decimal.NewFromFloat(1.0)

	res, err := l.ApplyExternalClose(ctx, cloid, decimal.NewFromFloat(1.0), true, 1700000000001)
	if err != nil {
		t.Fatalf("ApplyExternalClose() error = %v", err)
	}
	if !res.BecameClosed {
		t.Error("expected trade to transition to CLOSED")
	}
	if res.ActionType != domain.ActionExternalClose {
		t.Errorf("ActionType = %s, want EXTERNAL_CLOSE", res.ActionType)
	}
	if res.StopLossCloid != "Xs" || res.TakeProfitCloid != "Xt" {
		t.Errorf("expected algo cloids to be surfaced for cancellation, got %q %q", res.StopLossCloid, res.TakeProfitCloid)
	}

	tr, _ = l.GetByCloid(cloid)
	if tr.State != domain.TradeClosed || !tr.CurrentSize.IsZero() {
		t.Errorf("trade = %+v, want CLOSED with currentSize 0", tr)
	}
}

// S2 — partial external close.
func TestLedger_ApplyExternalClose_PartialClose(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	cloid, _ := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.NewFromInt(5), "", "Xs", "Xt")
	tr, _ := l.GetByCloid(cloid)
	tr.CurrentSize = decimal.NewFromFloat(2.0)

	res, err := l.ApplyExternalClose(ctx, cloid, decimal.NewFromFloat(1.5), false, 1700000000001)
	if err != nil {
		t.Fatalf("ApplyExternalClose() error = %v", err)
	}
	if res.BecameClosed {
		t.Error("expected trade to remain OPEN on partial close")
	}

	tr, _ = l.GetByCloid(cloid)
	if tr.State != domain.TradeOpen {
		t.Errorf("State = %s, want OPEN", tr.State)
	}
	want := decimal.NewFromFloat(0.5)
	if !tr.CurrentSize.Equal(want) {
		t.Errorf("CurrentSize = %s, want %s", tr.CurrentSize, want)
	}
}

// Invariant 7 — applyExternalClose replayed with the same uTime is a no-op.
func TestLedger_ApplyExternalClose_IdempotentOnSameUTime(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	cloid, _ := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.NewFromInt(5), "", "", "")
	tr, _ := l.GetByCloid(cloid)
	tr.CurrentSize = decimal.NewFromFloat(1.0)

	first, err := l.ApplyExternalClose(ctx, cloid, decimal.NewFromFloat(1.0), false, 1700000000001)
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.ApplyExternalClose(ctx, cloid, decimal.NewFromFloat(1.0), false, 1700000000001)
	if err != nil {
		t.Fatal(err)
	}

	if first.AlreadyApplied {
		t.Error("first call should not be flagged as already applied")
	}
	if !second.AlreadyApplied {
		t.Error("replayed call with identical uTime should be a no-op")
	}

	tr, _ = l.GetByCloid(cloid)
	if !tr.CurrentSize.IsZero() {
		t.Errorf("CurrentSize = %s, want 0 (no double decrement)", tr.CurrentSize)
	}
}

// S4 — a locally issued CLOSE and the subsequent position event combine to
// exactly one terminal TradeAction of type CLOSE, not EXTERNAL_CLOSE.
func TestLedger_ApplyExternalClose_CorrelationHazard_RecordsAsLocalClose(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	cloid, _ := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.NewFromInt(5), "", "", "")
	tr, _ := l.GetByCloid(cloid)
	tr.CurrentSize = decimal.NewFromFloat(1.0)

	if err := l.MarkIntent(cloid, domain.IntentClose); err != nil {
		t.Fatal(err)
	}

	res, err := l.ApplyExternalClose(ctx, cloid, decimal.NewFromFloat(1.0), true, 1700000000001)
	if err != nil {
		t.Fatal(err)
	}
	if res.ActionType != domain.ActionClose {
		t.Errorf("ActionType = %s, want CLOSE (local intent was active)", res.ActionType)
	}

	tr, _ = l.GetByCloid(cloid)
	if tr.Intent != domain.IntentNone {
		t.Error("expected intent to clear on terminal transition")
	}
}

func TestTrade_IntentExpiry_TreatedAsExternalClose(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	cloid, _ := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.NewFromInt(5), "", "", "")
	tr, _ := l.GetByCloid(cloid)
	tr.CurrentSize = decimal.NewFromFloat(1.0)
	tr.Intent = domain.IntentClose
	tr.IntentSetAt = time.Now().Add(-2 * domain.IntentTimeout)

	res, err := l.ApplyExternalClose(ctx, cloid, decimal.NewFromFloat(1.0), true, 1700000000001)
	if err != nil {
		t.Fatal(err)
	}
	if res.ActionType != domain.ActionExternalClose {
		t.Errorf("ActionType = %s, want EXTERNAL_CLOSE once intent has expired", res.ActionType)
	}
}

// ApplyFill must decrement, not add, for an oid submitted with a reduce
// action (RecordSubmit is the only source of that intent).
func TestLedger_ApplyFill_ReduceActionDecrementsCurrentSize(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	cloid, _ := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.NewFromInt(5), "", "", "")
	tr, _ := l.GetByCloid(cloid)
	tr.CurrentSize = decimal.NewFromFloat(2.0)

	if err := l.RecordSubmit(ctx, cloid, "O-reduce", domain.ActionReduce); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyFill(ctx, cloid, "O-reduce", decimal.NewFromFloat(0.5), decimal.NewFromInt(3000)); err != nil {
		t.Fatal(err)
	}

	tr, _ = l.GetByCloid(cloid)
	want := decimal.NewFromFloat(1.5)
	if !tr.CurrentSize.Equal(want) {
		t.Errorf("CurrentSize = %s, want %s (reduce fill must decrement)", tr.CurrentSize, want)
	}
}

// A fill with no RecordSubmit on record (e.g. the opening order) still
// falls back to the open/add inference from CurrentSize.
func TestLedger_ApplyFill_UnrecordedOidFallsBackToAddInference(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	cloid, _ := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.NewFromInt(5), "", "", "")

	if err := l.ApplyFill(ctx, cloid, "O-open", decimal.NewFromFloat(1.0), decimal.NewFromInt(3000)); err != nil {
		t.Fatal(err)
	}
	tr, _ := l.GetByCloid(cloid)
	want := decimal.NewFromFloat(1.0)
	if !tr.CurrentSize.Equal(want) {
		t.Errorf("CurrentSize = %s, want %s", tr.CurrentSize, want)
	}
}

// A stray fill reported after the trade is already CLOSED must not reopen
// or otherwise mutate currentSize.
func TestLedger_ApplyFill_DroppedOnceTradeClosed(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	cloid, _ := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.NewFromInt(5), "", "", "")
	tr, _ := l.GetByCloid(cloid)
	tr.CurrentSize = decimal.NewFromFloat(1.0)

	if _, err := l.ApplyExternalClose(ctx, cloid, decimal.NewFromFloat(1.0), true, 1700000000001); err != nil {
		t.Fatal(err)
	}

	if err := l.ApplyFill(ctx, cloid, "O-stray", decimal.NewFromFloat(0.3), decimal.NewFromInt(3000)); err != nil {
		t.Fatal(err)
	}

	tr, _ = l.GetByCloid(cloid)
	if !tr.CurrentSize.IsZero() {
		t.Errorf("CurrentSize = %s, want 0 (stray fill on a CLOSED trade must be dropped)", tr.CurrentSize)
	}
}

// Fallback close-amount resolution: an ambiguous zero-amount close on a
// still-OPEN trade closes out the full tracked currentSize instead of
// applying a zero-amount decrement.
func TestLedger_ApplyExternalClose_ZeroAmountFallsBackToCurrentSize(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	cloid, _ := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.NewFromInt(5), "", "Xs", "Xt")
	tr, _ := l.GetByCloid(cloid)
	tr.CurrentSize = decimal.NewFromFloat(1.2)

	res, err := l.ApplyExternalClose(ctx, cloid, decimal.Zero, true, 1700000000001)
	if err != nil {
		t.Fatal(err)
	}
	if !res.BecameClosed {
		t.Error("expected trade to transition to CLOSED via the fallback")
	}

	tr, _ = l.GetByCloid(cloid)
	if tr.State != domain.TradeClosed || !tr.CurrentSize.IsZero() {
		t.Errorf("trade = %+v, want CLOSED with currentSize 0", tr)
	}
}

// Invariant 2 — currentSize >= 0 after every mutation.
func TestLedger_ApplyExternalClose_ClampsAtZero(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	cloid, _ := l.Open(ctx, "ETH-USDT-SWAP", "long", decimal.NewFromInt(5), "", "", "")
	tr, _ := l.GetByCloid(cloid)
	tr.CurrentSize = decimal.NewFromFloat(0.5)

	_, err := l.ApplyExternalClose(ctx, cloid, decimal.NewFromFloat(5.0), false, 1700000000001)
	if err != nil {
		t.Fatal(err)
	}
	tr, _ = l.GetByCloid(cloid)
	if tr.CurrentSize.IsNegative() {
		t.Errorf("CurrentSize = %s, must never go negative", tr.CurrentSize)
	}
}
