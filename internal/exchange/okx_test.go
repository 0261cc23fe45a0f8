package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*OKXClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewOKXClient(srv.URL, "key", "secret", "pass")
	return c, srv
}

func TestOKXClient_SubmitOrder_ExtractsOid(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("OK-ACCESS-KEY") != "key" {
			t.Errorf("missing signed header, got %q", r.Header.Get("OK-ACCESS-KEY"))
		}
		w.Write([]byte(`{"code":"0","data":[{"ordId":"12345","clOrdId":"abc"}]}`))
	})

	oid, err := c.SubmitOrder(context.Background(), "ETH-USDT-SWAP", "buy", "long", "market",
		decimal.Zero, decimal.NewFromInt(1), "abc")
	if err != nil {
		t.Fatalf("SubmitOrder() error = %v", err)
	}
	if oid != "12345" {
		t.Errorf("oid = %q, want 12345", oid)
	}
}

func TestOKXClient_SubmitOrder_RejectionReturnsError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"51008","msg":"insufficient balance"}`))
	})

	_, err := c.SubmitOrder(context.Background(), "ETH-USDT-SWAP", "buy", "long", "market",
		decimal.Zero, decimal.NewFromInt(1), "abc")
	if err == nil {
		t.Fatal("expected error on rejected order")
	}
}

func TestOKXClient_CancelAlgo_FailureIsNonFatal(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code":"50000","msg":"internal error"}`))
	})

	err := c.CancelAlgo(context.Background(), "Xs")
	if err == nil {
		t.Fatal("expected CancelAlgo to surface the error to the caller")
	}
	if !strings.Contains(err.Error(), "exchange rejection") {
		t.Fatalf("unexpected error shape: %v", err)
	}
}

func TestOKXClient_SetLeverage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","data":[{}]}`))
	})

	if err := c.SetLeverage(context.Background(), "ETH-USDT-SWAP", decimal.NewFromInt(10)); err != nil {
		t.Fatalf("SetLeverage() error = %v", err)
	}
}
