// Package transport implements SessionTransport: a single authenticated
// WebSocket session with login, subscribe, heartbeat, and reconnect.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"reconcore/internal/coreerr"
)

// DataFrame is a decoded orders/positions channel message, the only thing
// forwarded to the registered Handler; login/subscribe/ping/pong control
// traffic is handled internally and never reaches the handler.
type DataFrame struct {
	Channel   string
	EventType string
	Data      json.RawMessage
}

// Handler consumes data frames in receipt order.
type Handler func(DataFrame)

// Config configures one SessionTransport.
type Config struct {
	URL               string
	ApiKey            string
	Secret            string
	Passphrase        string
	Channels          []string // e.g. {"orders", "positions"}
	InstType          string   // "SWAP"
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
	SubscribeTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 5 * time.Second
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.SubscribeTimeout == 0 {
		c.SubscribeTimeout = 30 * time.Second
	}
	if c.InstType == "" {
		c.InstType = "SWAP"
	}
}

// SessionTransport is component C1: connect, login, subscribe, heartbeat,
// reconnect for one private streaming session.
type SessionTransport struct {
	cfg    Config
	signer *Signer

	mu   sync.RWMutex
	conn *websocket.Conn

	writeMu sync.Mutex

	connected    bool
	loggedIn     bool
	authFailed   bool
	subscribed   map[string]bool
	lastMessage  time.Time
	pendingPong  bool
	pingSentAt   time.Time

	handler Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a SessionTransport from cfg, applying spec defaults for any
// zero-valued timeout field.
func New(cfg Config) *SessionTransport {
	cfg.applyDefaults()
	return &SessionTransport{
		cfg:        cfg,
		signer:     NewSigner(cfg.ApiKey, cfg.Secret, cfg.Passphrase),
		subscribed: make(map[string]bool),
	}
}

// OnFrame registers the single data-frame consumer. Must be called before
// Start.
func (t *SessionTransport) OnFrame(h Handler) {
	t.handler = h
}

// IsReady reports connected ∧ logged-in ∧ all channels subscribed.
func (t *SessionTransport) IsReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.connected || !t.loggedIn {
		return false
	}
	for _, c := range t.cfg.Channels {
		if !t.subscribed[c] {
			return false
		}
	}
	return true
}

// Unhealthy reports whether the session halted on a fatal credential error.
func (t *SessionTransport) Unhealthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.authFailed
}

// Start begins the connect loop. Idempotent per transport instance.
func (t *SessionTransport) Start(ctx context.Context) {
	if t.cancel != nil {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.runLoop(ctx)
}

// Stop tears the session down gracefully; no further frames are delivered.
func (t *SessionTransport) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.closeConn()
	t.wg.Wait()
}

func (t *SessionTransport) runLoop(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t.mu.Lock()
		if t.authFailed {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		if err := t.connectAndHandshake(ctx); err != nil {
			slog.Warn("session connect failed", "err", err)

			t.mu.RLock()
			fatal := t.authFailed
			t.mu.RUnlock()
			if fatal {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(t.cfg.ReconnectInterval):
				continue
			}
		}

		go t.heartbeatLoop(ctx)
		t.process(ctx)

		t.mu.RLock()
		fatal := t.authFailed
		t.mu.RUnlock()
		if fatal {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.cfg.ReconnectInterval):
		}
	}
}

func (t *SessionTransport) connectAndHandshake(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, t.cfg.URL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.loggedIn = false
	t.subscribed = make(map[string]bool)
	t.lastMessage = time.Now()
	t.mu.Unlock()

	if err := t.login(ctx, conn); err != nil {
		t.closeConn()
		return err
	}
	if err := t.subscribeAll(ctx, conn); err != nil {
		t.closeConn()
		return err
	}
	slog.Info("session ready")
	return nil
}

func (t *SessionTransport) login(ctx context.Context, conn *websocket.Conn) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := map[string]any{
		"op": "login",
		"args": []map[string]string{{
			"apiKey":     t.cfg.ApiKey,
			"passphrase": t.cfg.Passphrase,
			"timestamp":  ts,
			"sign":       t.signer.LoginSign(ts),
		}},
	}
	body, _ := json.Marshal(req)
	if err := t.writeText(body); err != nil {
		return fmt.Errorf("login write: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(t.cfg.ConnectTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("login read: %w", err)
	}

	var ack struct {
		Event string `json:"event"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(msg, &ack); err != nil {
		return fmt.Errorf("%w: login ack parse: %v", coreerr.ErrParse, err)
	}
	if ack.Event != "login" || ack.Code != "0" {
		t.mu.Lock()
		t.authFailed = true
		t.mu.Unlock()
		slog.Error("login rejected, halting session", "code", ack.Code)
		return fmt.Errorf("%w: code=%s", coreerr.ErrAuth, ack.Code)
	}

	t.mu.Lock()
	t.loggedIn = true
	t.lastMessage = time.Now()
	t.mu.Unlock()
	return nil
}

func (t *SessionTransport) subscribeAll(ctx context.Context, conn *websocket.Conn) error {
	for _, channel := range t.cfg.Channels {
		req := map[string]any{
			"op": "subscribe",
			"args": []map[string]string{{
				"channel":  channel,
				"instType": t.cfg.InstType,
			}},
		}
		body, _ := json.Marshal(req)
		if err := t.writeText(body); err != nil {
			return fmt.Errorf("%w: subscribe write: %v", coreerr.ErrSubscribe, err)
		}

		conn.SetReadDeadline(time.Now().Add(t.cfg.SubscribeTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: subscribe read: %v", coreerr.ErrSubscribe, err)
		}

		var ack struct {
			Event string `json:"event"`
			Code  string `json:"code"`
		}
		if err := json.Unmarshal(msg, &ack); err != nil {
			return fmt.Errorf("%w: subscribe ack parse: %v", coreerr.ErrParse, err)
		}
		if ack.Event != "subscribe" || ack.Code != "0" {
			return fmt.Errorf("%w: channel=%s code=%s", coreerr.ErrSubscribe, channel, ack.Code)
		}

		t.mu.Lock()
		t.subscribed[channel] = true
		t.lastMessage = time.Now()
		t.mu.Unlock()
	}
	return nil
}

func (t *SessionTransport) process(ctx context.Context) {
	for {
		t.mu.RLock()
		c := t.conn
		t.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Time{})
		_, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("session read error", "err", err)
			t.closeConn()
			return
		}

		t.mu.Lock()
		t.lastMessage = time.Now()
		t.mu.Unlock()

		t.handleMessage(msg)
	}
}

func (t *SessionTransport) handleMessage(msg []byte) {
	if string(msg) == "pong" {
		t.mu.Lock()
		t.pendingPong = false
		t.mu.Unlock()
		return
	}

	var envelope struct {
		Event string `json:"event"`
		Arg   struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		slog.Warn("frame parse failure, dropping", "err", err)
		return
	}

	switch envelope.Event {
	case "pong":
		t.mu.Lock()
		t.pendingPong = false
		t.mu.Unlock()
		return
	case "login", "subscribe", "error":
		// control-plane acks are consumed synchronously by login/subscribeAll;
		// anything arriving here out of band is logged and dropped.
		slog.Warn("unexpected control frame during steady state", "event", envelope.Event)
		return
	}

	if envelope.Arg.Channel == "" {
		slog.Warn("unrecognized frame, dropping", "raw", string(msg))
		return
	}

	var eventType struct {
		EventType string `json:"eventType"`
	}
	_ = json.Unmarshal(msg, &eventType)

	if t.handler != nil {
		t.handler(DataFrame{
			Channel:   envelope.Arg.Channel,
			EventType: eventType.EventType,
			Data:      envelope.Data,
		})
	}
}

func (t *SessionTransport) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			silentFor := time.Since(t.lastMessage)
			pending := t.pendingPong

			if pending && time.Since(t.pingSentAt) >= t.cfg.PingTimeout {
				t.mu.Unlock()
				slog.Warn("ping timeout, closing for reconnect")
				t.closeConn()
				return
			}

			if !pending && silentFor >= t.cfg.HeartbeatInterval {
				t.pendingPong = true
				t.pingSentAt = time.Now()
				t.mu.Unlock()
				if err := t.writeText([]byte("ping")); err != nil {
					slog.Warn("ping write failed", "err", err)
					t.closeConn()
					return
				}
				continue
			}
			t.mu.Unlock()
		}
	}
}

func (t *SessionTransport) writeText(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	c := t.conn
	t.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("%w: not connected", coreerr.ErrTimeout)
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

func (t *SessionTransport) closeConn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.connected = false
	t.loggedIn = false
	t.subscribed = make(map[string]bool)
}
