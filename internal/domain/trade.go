package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeState is the lifecycle state of a logical trade.
type TradeState string

const (
	TradeOpen    TradeState = "OPEN"
	TradeClosing TradeState = "CLOSING"
	TradeClosed  TradeState = "CLOSED"
)

// ActionType classifies a TradeAction journal row.
type ActionType string

const (
	ActionOpen          ActionType = "OPEN"
	ActionAdd           ActionType = "ADD"
	ActionReduce        ActionType = "REDUCE"
	ActionClose         ActionType = "CLOSE"
	ActionExternalClose ActionType = "EXTERNAL_CLOSE"
)

// IntentKind is the local close/reduce intent recorded ahead of submitting
// the exchange-side order, used to resolve the correlation hazard between
// a locally-initiated close and its own position-stream echo.
type IntentKind string

const (
	IntentNone   IntentKind = ""
	IntentReduce IntentKind = "REDUCE"
	IntentClose  IntentKind = "CLOSE"
)

// IntentTimeout bounds how long a markIntent call stays live before it is
// treated as expired and ignored by applyExternalClose.
const IntentTimeout = 60 * time.Second

// Trade is the in-memory logical-trade record, keyed by Cloid.
type Trade struct {
	Cloid           string
	Symbol          string
	PosSide         string
	SignalID        string
	CurrentSize     decimal.Decimal
	EntryPrice      decimal.Decimal
	Leverage        decimal.Decimal
	StopLossCloid   string
	TakeProfitCloid string
	State           TradeState
	Pid             string
	OpenedAt        time.Time
	ClosedAt        time.Time

	Intent       IntentKind
	IntentSetAt  time.Time

	// LastExternalUTimeMs is the uTime of the last applyExternalClose this
	// trade processed, making a repeated call for the same uTime a no-op.
	LastExternalUTimeMs int64
}

// IntentActive reports whether a markIntent call is still within its
// timeout window.
func (t *Trade) IntentActive(now time.Time) bool {
	return t.Intent != IntentNone && now.Sub(t.IntentSetAt) < IntentTimeout
}

// ClearIntent resets the intent flag, called on any terminal transition.
func (t *Trade) ClearIntent() {
	t.Intent = IntentNone
	t.IntentSetAt = time.Time{}
}

// ApplyFill folds a fill into CurrentSize and recomputes a size-weighted
// EntryPrice for OPEN/ADD actions. Reduce/close fills subtract the
// (positive) fillSz from size, clamped at zero, and leave EntryPrice as is.
func (t *Trade) ApplyFill(action ActionType, fillSz, fillPx decimal.Decimal) {
	switch action {
	case ActionOpen, ActionAdd:
		totalCost := t.EntryPrice.Mul(t.CurrentSize).Add(fillPx.Mul(fillSz))
		newSize := t.CurrentSize.Add(fillSz)
		if !newSize.IsZero() {
			t.EntryPrice = totalCost.Div(newSize)
		}
		t.CurrentSize = newSize
	case ActionReduce, ActionClose:
		t.CurrentSize = t.CurrentSize.Sub(fillSz)
		if t.CurrentSize.IsNegative() {
			t.CurrentSize = decimal.Zero
		}
	}
}

// DecrementExternal clamps CurrentSize down by amount, as applyExternalClose
// does for a stream-observed position decrease.
func (t *Trade) DecrementExternal(amount decimal.Decimal) {
	t.CurrentSize = t.CurrentSize.Sub(amount)
	if t.CurrentSize.IsNegative() {
		t.CurrentSize = decimal.Zero
	}
}

// TradeAction is an append-only journal row.
type TradeAction struct {
	ID       int64
	Cloid    string
	SignalID string
	Symbol   string
	PosSide  string
	Type     ActionType
	Oid      string
	Amount   decimal.Decimal
	Ts       time.Time
}
