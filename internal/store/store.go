// Package store is the relational persistence layer: orders, position
// snapshots, trades, the trade-action journal, and signals.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"

	"reconcore/internal/domain"
)

// Store wraps a WAL-mode SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path, enables WAL
// mode, and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the five tables if absent. This is a library
// bootstrapping its own durable state for tests and standalone runs, not
// the production migration/ops tooling spec.md excludes.
func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			oid TEXT PRIMARY KEY,
			cloid TEXT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			pos_side TEXT NOT NULL,
			ord_type TEXT NOT NULL,
			px TEXT NOT NULL,
			sz TEXT NOT NULL,
			fill_px TEXT NOT NULL,
			fill_sz TEXT NOT NULL,
			state TEXT NOT NULL,
			leverage TEXT NOT NULL,
			margin_mode TEXT NOT NULL,
			tag TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS position_snapshots (
			pid TEXT NOT NULL,
			u_time_ms INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			pos_side TEXT NOT NULL,
			pos TEXT NOT NULL,
			avail_pos TEXT NOT NULL,
			avg_px TEXT NOT NULL,
			mark_px TEXT NOT NULL,
			lever TEXT NOT NULL,
			margin_mode TEXT NOT NULL,
			PRIMARY KEY (pid, u_time_ms)
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			cloid TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			pos_side TEXT NOT NULL,
			signal_id TEXT,
			current_size TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			leverage TEXT NOT NULL,
			stop_loss_cloid TEXT,
			take_profit_cloid TEXT,
			state TEXT NOT NULL,
			pid TEXT,
			opened_at INTEGER NOT NULL,
			closed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS trade_actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cloid TEXT,
			signal_id TEXT,
			symbol TEXT NOT NULL,
			pos_side TEXT NOT NULL,
			action_type TEXT NOT NULL,
			oid TEXT,
			amount TEXT NOT NULL,
			ts INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			payload TEXT NOT NULL,
			ts INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// UpsertOrder inserts or replaces an order row, keyed by Oid. A row whose
// existing state is terminal, or otherwise outranks o.State, is left
// untouched: order updates must move monotonically toward a terminal state.
func (s *Store) UpsertOrder(ctx context.Context, o *domain.Order) error {
	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM orders WHERE oid = ?`, o.Oid).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read existing order state: %w", err)
	}
	if err == nil && !domain.OrderState(existing).CanTransitionTo(o.State) {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (oid, cloid, symbol, side, pos_side, ord_type, px, sz, fill_px, fill_sz, state, leverage, margin_mode, tag, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(oid) DO UPDATE SET
			cloid=excluded.cloid, fill_px=excluded.fill_px, fill_sz=excluded.fill_sz,
			state=excluded.state, updated_at=excluded.updated_at`,
		o.Oid, o.Cloid, o.Symbol, o.Side, o.PosSide, o.OrdType,
		o.Px.String(), o.Sz.String(), o.FillPx.String(), o.FillSz.String(),
		string(o.State), o.Leverage.String(), o.MarginMode, o.Tag,
		o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// LoadOrderState reads the current state column for oid, or "" if absent.
func (s *Store) LoadOrderState(ctx context.Context, oid string) (string, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM orders WHERE oid = ?`, oid).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load order state: %w", err)
	}
	return state, nil
}

// LoadOrderFillSz reads the previously persisted cumulative accFillSz for
// oid, or decimal.Zero if the order has no prior row. OKX reports fills as
// a running total rather than a per-message delta, so callers diff against
// this value to recover the incremental size filled by a new report.
func (s *Store) LoadOrderFillSz(ctx context.Context, oid string) (decimal.Decimal, error) {
	var fillSz string
	err := s.db.QueryRowContext(ctx, `SELECT fill_sz FROM orders WHERE oid = ?`, oid).Scan(&fillSz)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load order fill size: %w", err)
	}
	d, err := decimal.NewFromString(fillSz)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse persisted fill size: %w", err)
	}
	return d, nil
}

// InsertPositionSnapshot appends a (pid, uTime) row; never updated.
func (s *Store) InsertPositionSnapshot(ctx context.Context, p domain.PositionSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO position_snapshots (pid, u_time_ms, symbol, pos_side, pos, avail_pos, avg_px, mark_px, lever, margin_mode)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.Pid, p.UTimeMs, p.Symbol, p.PosSide, p.Pos.String(), p.AvailPos.String(),
		p.AvgPx.String(), p.MarkPx.String(), p.Lever.String(), p.MarginMode,
	)
	if err != nil {
		return fmt.Errorf("insert position snapshot: %w", err)
	}
	return nil
}

// UpsertTrade writes the current Trade row.
func (s *Store) UpsertTrade(ctx context.Context, t *domain.Trade) error {
	var closedAt any
	if !t.ClosedAt.IsZero() {
		closedAt = t.ClosedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (cloid, symbol, pos_side, signal_id, current_size, entry_price, leverage, stop_loss_cloid, take_profit_cloid, state, pid, opened_at, closed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(cloid) DO UPDATE SET
			current_size=excluded.current_size, entry_price=excluded.entry_price,
			state=excluded.state, pid=excluded.pid, closed_at=excluded.closed_at`,
		t.Cloid, t.Symbol, t.PosSide, t.SignalID, t.CurrentSize.String(), t.EntryPrice.String(),
		t.Leverage.String(), t.StopLossCloid, t.TakeProfitCloid, string(t.State), t.Pid,
		t.OpenedAt.UnixMilli(), closedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert trade: %w", err)
	}
	return nil
}

// AppendAction writes an append-only journal row synchronously.
func (s *Store) AppendAction(ctx context.Context, a domain.TradeAction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_actions (cloid, signal_id, symbol, pos_side, action_type, oid, amount, ts)
		VALUES (?,?,?,?,?,?,?,?)`,
		a.Cloid, a.SignalID, a.Symbol, a.PosSide, string(a.Type), a.Oid, a.Amount.String(), a.Ts.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

// LoadTrade reads a trade by cloid, or (nil, nil) if absent.
func (s *Store) LoadTrade(ctx context.Context, cloid string) (*domain.Trade, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cloid, symbol, pos_side, signal_id, current_size, entry_price, leverage,
		       stop_loss_cloid, take_profit_cloid, state, pid, opened_at, closed_at
		FROM trades WHERE cloid = ?`, cloid)

	var (
		t                                            domain.Trade
		signalID, slCloid, tpCloid, pid              sql.NullString
		currentSize, entryPrice, leverage             string
		state                                        string
		openedAt                                     int64
		closedAt                                     sql.NullInt64
	)
	err := row.Scan(&t.Cloid, &t.Symbol, &t.PosSide, &signalID, &currentSize, &entryPrice,
		&leverage, &slCloid, &tpCloid, &state, &pid, &openedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load trade: %w", err)
	}

	t.SignalID = signalID.String
	t.StopLossCloid = slCloid.String
	t.TakeProfitCloid = tpCloid.String
	t.Pid = pid.String
	t.State = domain.TradeState(state)
	t.CurrentSize, _ = decimal.NewFromString(currentSize)
	t.EntryPrice, _ = decimal.NewFromString(entryPrice)
	t.Leverage, _ = decimal.NewFromString(leverage)
	t.OpenedAt = time.UnixMilli(openedAt)
	if closedAt.Valid {
		t.ClosedAt = time.UnixMilli(closedAt.Int64)
	}
	return &t, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
