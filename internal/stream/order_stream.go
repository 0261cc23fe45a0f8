// Package stream implements OrderStream and PositionStream (components C3
// and C4): channel consumers that normalize wire frames, dedup them, and
// hand derived events to the reconciliation engine.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"reconcore/internal/dedup"
	"reconcore/internal/domain"
	"reconcore/internal/event"
	"reconcore/internal/reconcile"
	"reconcore/internal/store"
	"reconcore/internal/transport"
)

// OrderQueueDepth is the bounded channel depth for order-channel frames.
const OrderQueueDepth = 500

// OrderStream is component C3.
type OrderStream struct {
	dedup   *dedup.Registry
	st      *store.Store
	engine  *reconcile.Engine
	queue   chan orderQueueItem
	workers int
}

type orderQueueItem struct {
	frame event.OrderFrame
	key   domain.DedupKey
}

// NewOrderStream builds an OrderStream with the given worker pool size
// (spec default 1).
func NewOrderStream(st *store.Store, engine *reconcile.Engine, workers int) *OrderStream {
	if workers < 1 {
		workers = 1
	}
	return &OrderStream{
		dedup:   dedup.NewOrders(),
		st:      st,
		engine:  engine,
		queue:   make(chan orderQueueItem, OrderQueueDepth),
		workers: workers,
	}
}

// Start launches the dedup sweeper and the worker pool.
func (s *OrderStream) Start(ctx context.Context) {
	go s.dedup.Sweep(ctx)
	for i := 0; i < s.workers; i++ {
		go s.worker(ctx)
	}
}

// HandleFrame is the transport.Handler entry point for the "orders" channel.
func (s *OrderStream) HandleFrame(ctx context.Context, df transport.DataFrame) {
	var frames []event.OrderFrame
	if err := json.Unmarshal(df.Data, &frames); err != nil {
		slog.Warn("order frame parse failure, dropping", "err", err)
		return
	}

	for _, f := range frames {
		uTime, err := strconv.ParseInt(f.UTime, 10, 64)
		if err != nil {
			slog.Warn("order frame has non-numeric uTime, dropping", "oid", f.OrdId, "uTime", f.UTime)
			continue
		}
		key := domain.DedupKey{ID: f.OrdId, UTimeMs: uTime}

		if s.dedup.IsProcessed(key) {
			continue
		}
		if !s.dedup.TryClaim(key) {
			continue
		}

		select {
		case s.queue <- orderQueueItem{frame: f, key: key}:
		default:
			slog.Error("order queue full, dropping newest", "oid", f.OrdId, "key", key.String())
		}
	}
}

func (s *OrderStream) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-s.queue:
			if !ok {
				return
			}
			s.process(ctx, item)
		}
	}
}

func (s *OrderStream) process(ctx context.Context, item orderQueueItem) {
	f := item.frame
	o := normalizeOrder(f)

	prevFillSz, err := s.st.LoadOrderFillSz(ctx, o.Oid)
	if err != nil {
		slog.Error("loadOrderFillSz failed", "oid", o.Oid, "err", err)
	}

	if err := s.st.UpsertOrder(ctx, o); err != nil {
		slog.Error("upsertOrder failed", "oid", o.Oid, "err", err)
	}

	if o.State == domain.OrderFilled || o.State == domain.OrderPartiallyFilled {
		if o.Pid != "" {
			s.engine.BindOnFirstFill(o.Cloid, o.Pid)
		}
		// accFillSz is cumulative, not a per-message delta; diff against the
		// previously persisted value to recover the size filled just now.
		if delta := o.FillSz.Sub(prevFillSz); delta.IsPositive() {
			s.engine.OnOrderFill(ctx, o.Oid, o.Cloid, delta, o.FillPx)
		}
	}

	s.dedup.MarkProcessed(item.key)
}

func normalizeOrder(f event.OrderFrame) *domain.Order {
	now := time.Now()
	createdAt := now
	if f.CTime != "" {
		if ms, err := strconv.ParseInt(f.CTime, 10, 64); err == nil {
			createdAt = time.UnixMilli(ms)
		}
	}
	updatedAt := now
	if f.UTime != "" {
		if ms, err := strconv.ParseInt(f.UTime, 10, 64); err == nil {
			updatedAt = time.UnixMilli(ms)
		}
	}

	return &domain.Order{
		Oid:        f.OrdId,
		Cloid:      f.ClOrdId,
		Pid:        f.PosId,
		Symbol:     f.InstId,
		Side:       f.Side,
		PosSide:    f.PosSide,
		OrdType:    f.OrdType,
		Px:         parseDecimal(f.Px),
		Sz:         parseDecimal(f.Sz),
		FillPx:     parseDecimal(f.FillPx),
		FillSz:     parseDecimal(f.AccFillSz),
		State:      domain.OrderState(f.State),
		Leverage:   parseDecimal(f.Lever),
		MarginMode: f.TdMode,
		Tag:        f.Tag,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
