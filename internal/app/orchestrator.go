// Package app wires the reconciliation core's components together and
// owns the process lifecycle: config, logging, storage, the exchange
// client, the streaming session, and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reconcore/internal/config"
	"reconcore/internal/exchange"
	"reconcore/internal/ledger"
	"reconcore/internal/logging"
	"reconcore/internal/reconcile"
	"reconcore/internal/store"
	"reconcore/internal/stream"
	"reconcore/internal/transport"
)

// shutdownGrace bounds how long Run waits for the streaming session to
// stop. Stream workers exit on ctx cancellation and are not waited for.
const shutdownGrace = 3 * time.Second

// Orchestrator owns every long-lived component and its lifecycle.
type Orchestrator struct {
	cfg *config.Config

	st        *store.Store
	ledger    *ledger.Ledger
	exchange  exchange.Client
	engine    *reconcile.Engine
	transport *transport.SessionTransport
	orders    *stream.OrderStream
	positions *stream.PositionStream
}

// New builds an Orchestrator from a loaded config, opening storage and
// wiring every component. Callers still must call Run.
func New(cfg *config.Config) (*Orchestrator, error) {
	logger := logging.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("bootstrapping reconciliation core")

	st, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	l := ledger.New(st)
	client := exchange.NewOKXClient(cfg.Exchange.RESTBaseURL, cfg.Exchange.ApiKey,
		cfg.Exchange.SecretKey, cfg.Exchange.Passphrase)
	engine := reconcile.New(l, client)

	orderWorkers := 1
	orders := stream.NewOrderStream(st, engine, orderWorkers)
	positions := stream.NewPositionStream(st, engine)

	tcfg := transport.Config{
		URL:               cfg.Exchange.PrivateWSURL,
		ApiKey:            cfg.Exchange.ApiKey,
		Secret:            cfg.Exchange.SecretKey,
		Passphrase:        cfg.Exchange.Passphrase,
		Channels:          []string{"orders", "positions"},
		HeartbeatInterval: cfg.HeartbeatInterval(),
		PingTimeout:       cfg.PingTimeout(),
		ReconnectInterval: cfg.ReconnectInterval(),
		ConnectTimeout:    cfg.ConnectTimeout(),
	}
	session := transport.New(tcfg)

	o := &Orchestrator{
		cfg:       cfg,
		st:        st,
		ledger:    l,
		exchange:  client,
		engine:    engine,
		transport: session,
		orders:    orders,
		positions: positions,
	}

	session.OnFrame(o.dispatch)
	return o, nil
}

// dispatch routes a decoded data frame to the stream keyed by its channel.
// A fresh background context is used for each frame since SessionTransport
// owns no per-frame cancellation; stream workers honor the run-scoped ctx
// passed to Start for their own shutdown.
func (o *Orchestrator) dispatch(df transport.DataFrame) {
	ctx := context.Background()
	switch df.Channel {
	case "orders":
		o.orders.HandleFrame(ctx, df)
	case "positions":
		o.positions.HandleFrame(ctx, df)
	default:
		slog.Warn("frame for unrecognized channel, dropping", "channel", df.Channel)
	}
}

// Run starts every component and blocks until ctx is canceled, then tears
// down gracefully within the shutdown budget.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.orders.Start(ctx)
	o.positions.Start(ctx)
	o.transport.Start(ctx)

	slog.Info("reconciliation core running")
	<-ctx.Done()
	slog.Info("shutdown signaled, draining workers")

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.transport.Stop()
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		slog.Warn("shutdown grace period exceeded, aborting")
	}

	if err := o.st.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
