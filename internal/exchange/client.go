// Package exchange defines the abstract trading-REST collaborator the
// reconciliation core invokes, and an OKX implementation of it.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Client is the REST surface the core invokes for user-initiated
// transitions. All operations are idempotent on cloid.
type Client interface {
	SubmitOrder(ctx context.Context, symbol, side, posSide, ordType string, px, sz decimal.Decimal, cloid string) (oid string, err error)
	CancelOrder(ctx context.Context, oid string) error
	PlaceAlgo(ctx context.Context, cloid, trigger, side string, sz decimal.Decimal) (string, error)
	CancelAlgo(ctx context.Context, cloid string) error
	SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error
}
