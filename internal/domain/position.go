package domain

import "github.com/shopspring/decimal"

// PositionSnapshot is one observation of exchange-side position state.
// Snapshots are append-only: (Pid, UTimeMs) is written once.
type PositionSnapshot struct {
	Pid        string
	Symbol     string
	PosSide    string // "long" | "short" | "net"
	Pos        decimal.Decimal // signed size
	AvailPos   decimal.Decimal
	AvgPx      decimal.Decimal
	UTimeMs    int64
	MarkPx     decimal.Decimal
	Lever      decimal.Decimal
	MarginMode string
}

// IsLong reports whether the snapshot describes a long-side position.
func (p PositionSnapshot) IsLong() bool {
	return p.PosSide == "long"
}

// IsShort reports whether the snapshot describes a short-side position.
func (p PositionSnapshot) IsShort() bool {
	return p.PosSide == "short"
}

// IsFlat reports whether the position carries zero size.
func (p PositionSnapshot) IsFlat() bool {
	return p.Pos.IsZero()
}
