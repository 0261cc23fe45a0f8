package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"reconcore/internal/dedup"
	"reconcore/internal/domain"
	"reconcore/internal/event"
	"reconcore/internal/reconcile"
	"reconcore/internal/store"
	"reconcore/internal/transport"
)

// PositionQueueDepth is the bounded channel depth for close events.
const PositionQueueDepth = 100

type lastPosition struct {
	pos   decimal.Decimal
	uTime int64
	known bool
}

// PositionStream is component C4. The position worker pool is fixed at
// depth 1: the spec's within-pid ordering guarantee relies on a single
// reader goroutine for the session and a single position worker.
type PositionStream struct {
	dedup *dedup.Registry
	st    *store.Store
	engine *reconcile.Engine

	mu       sync.Mutex
	lastByPid map[string]lastPosition

	queue chan *event.CloseEvent
}

// NewPositionStream builds a PositionStream.
func NewPositionStream(st *store.Store, engine *reconcile.Engine) *PositionStream {
	return &PositionStream{
		dedup:     dedup.NewPositions(),
		st:        st,
		engine:    engine,
		lastByPid: make(map[string]lastPosition),
		queue:     make(chan *event.CloseEvent, PositionQueueDepth),
	}
}

// Start launches the dedup sweeper and the single worker.
func (s *PositionStream) Start(ctx context.Context) {
	go s.dedup.Sweep(ctx)
	go s.worker(ctx)
}

// HandleFrame is the transport.Handler entry point for the "positions"
// channel.
func (s *PositionStream) HandleFrame(ctx context.Context, df transport.DataFrame) {
	var frames []event.PositionFrame
	if err := json.Unmarshal(df.Data, &frames); err != nil {
		slog.Warn("position frame parse failure, dropping", "err", err)
		return
	}

	for i := range frames {
		frames[i].EventType = df.EventType
		s.handleOne(ctx, frames[i])
	}
}

func (s *PositionStream) handleOne(ctx context.Context, f event.PositionFrame) {
	uTime, err := strconv.ParseInt(f.UTime, 10, 64)
	if err != nil {
		slog.Warn("position frame has non-numeric uTime, dropping", "pid", f.PosId, "uTime", f.UTime)
		return
	}
	if f.PosSide != "long" && f.PosSide != "short" {
		slog.Warn("position frame has unsupported posSide, dropping", "pid", f.PosId, "posSide", f.PosSide)
		return
	}
	pos := parseDecimal(f.Pos)

	snap := domain.PositionSnapshot{
		Pid: f.PosId, Symbol: f.InstId, PosSide: f.PosSide, Pos: pos,
		AvailPos: parseDecimal(f.AvailPos), AvgPx: parseDecimal(f.AvgPx),
		UTimeMs: uTime, MarkPx: parseDecimal(f.MarkPx), Lever: parseDecimal(f.Lever),
		MarginMode: f.MgnMode,
	}
	if err := s.st.InsertPositionSnapshot(ctx, snap); err != nil {
		slog.Error("insertPositionSnapshot failed", "pid", f.PosId, "err", err)
	}

	s.mu.Lock()
	prev, known := s.lastByPid[f.PosId]
	s.mu.Unlock()

	var prevPos decimal.Decimal
	var prevKnown bool
	if known {
		prevPos = prev.pos
		prevKnown = true
	}

	fullClose := pos.IsZero() && (!prevKnown || prevPos.IsPositive()) &&
		(f.EventType == "event_update" || (f.EventType == "snapshot" && !prevKnown))
	partialClose := prevKnown && pos.IsPositive() && pos.LessThan(prevPos)

	if fullClose || partialClose {
		key := domain.DedupKey{ID: f.PosId, UTimeMs: uTime}
		if !s.dedup.IsProcessed(key) && s.dedup.TryClaim(key) {
			base := pos
			if prevKnown {
				base = prevPos
			}
			closeAmount := base.Sub(pos)

			ev := event.AcquireCloseEvent()
			ev.Pid = f.PosId
			ev.Symbol = f.InstId
			ev.PosSide = f.PosSide
			ev.CloseAmount = closeAmount
			ev.IsFullClose = fullClose
			ev.UTimeMs = uTime
			ev.MarkPx = snap.MarkPx

			select {
			case s.queue <- ev:
			default:
				slog.Error("position close queue full, dropping newest", "pid", f.PosId, "key", key.String())
				event.ReleaseCloseEvent(ev)
				s.dedup.MarkProcessed(key)
			}
		}
	}

	s.mu.Lock()
	s.lastByPid[f.PosId] = lastPosition{pos: pos, uTime: uTime, known: true}
	s.mu.Unlock()
}

func (s *PositionStream) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.queue:
			if !ok {
				return
			}
			s.engine.OnPositionChange(ctx, ev)
			s.dedup.MarkProcessed(domain.DedupKey{ID: ev.Pid, UTimeMs: ev.UTimeMs})
			event.ReleaseCloseEvent(ev)
		}
	}
}
