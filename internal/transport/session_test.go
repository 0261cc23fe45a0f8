package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	if cfg.HeartbeatInterval != 20*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 20s", cfg.HeartbeatInterval)
	}
	if cfg.PingTimeout != 5*time.Second {
		t.Errorf("PingTimeout = %v, want 5s", cfg.PingTimeout)
	}
	if cfg.ReconnectInterval != 5*time.Second {
		t.Errorf("ReconnectInterval = %v, want 5s", cfg.ReconnectInterval)
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("ConnectTimeout = %v, want 30s", cfg.ConnectTimeout)
	}
	if cfg.InstType != "SWAP" {
		t.Errorf("InstType = %v, want SWAP", cfg.InstType)
	}
}

func TestSessionTransport_HandleMessage_LiteralPong(t *testing.T) {
	tr := New(Config{Channels: []string{"orders"}})
	tr.pendingPong = true

	tr.handleMessage([]byte("pong"))

	if tr.pendingPong {
		t.Error("expected pendingPong to clear on literal pong")
	}
}

func TestSessionTransport_HandleMessage_JSONPong(t *testing.T) {
	tr := New(Config{Channels: []string{"orders"}})
	tr.pendingPong = true

	tr.handleMessage([]byte(`{"event":"pong"}`))

	if tr.pendingPong {
		t.Error("expected pendingPong to clear on JSON pong")
	}
}

func TestSessionTransport_HandleMessage_DataFrameDispatched(t *testing.T) {
	tr := New(Config{Channels: []string{"positions"}})

	var got DataFrame
	received := false
	tr.OnFrame(func(f DataFrame) {
		got = f
		received = true
	})

	tr.handleMessage([]byte(`{"arg":{"channel":"positions"},"data":[{"posId":"P1"}]}`))

	if !received {
		t.Fatal("expected handler to be invoked")
	}
	if got.Channel != "positions" {
		t.Errorf("Channel = %q, want positions", got.Channel)
	}
}

func TestSessionTransport_HandleMessage_MalformedJSONDropped(t *testing.T) {
	tr := New(Config{Channels: []string{"orders"}})
	received := false
	tr.OnFrame(func(DataFrame) { received = true })

	tr.handleMessage([]byte(`{not json`))

	if received {
		t.Error("expected malformed frame to be dropped, not dispatched")
	}
}

func TestSessionTransport_IsReady_RequiresLoginAndAllChannels(t *testing.T) {
	tr := New(Config{Channels: []string{"orders", "positions"}})

	if tr.IsReady() {
		t.Fatal("expected not ready before connect")
	}

	tr.connected = true
	tr.loggedIn = true
	tr.subscribed["orders"] = true

	if tr.IsReady() {
		t.Fatal("expected not ready until all channels subscribed")
	}

	tr.subscribed["positions"] = true
	if !tr.IsReady() {
		t.Fatal("expected ready once connected, logged in, and all channels subscribed")
	}
}

// TestSessionTransport_RunLoop_LoginFailureHaltsWithoutReconnect covers S6:
// a rejected login is a fatal credential error, not a transient one, so
// the session must stop rather than retry on ReconnectInterval.
func TestSessionTransport_RunLoop_LoginFailureHaltsWithoutReconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage() // login request
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"login","code":"60009","msg":"invalid credentials"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	cfg := Config{
		URL:               wsURL,
		Channels:          []string{"orders"},
		ReconnectInterval: 50 * time.Millisecond,
		ConnectTimeout:    2 * time.Second,
	}
	tr := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr.wg.Add(1)
	done := make(chan struct{})
	go func() {
		tr.runLoop(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("runLoop did not halt after login rejection")
	}

	if ctx.Err() != nil {
		t.Fatal("runLoop halted via context timeout, not via authFailed short-circuit")
	}

	tr.mu.RLock()
	failed := tr.authFailed
	tr.mu.RUnlock()
	if !failed {
		t.Error("expected authFailed to be set after a rejected login")
	}
}
