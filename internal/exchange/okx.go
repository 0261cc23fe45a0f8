package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"reconcore/internal/backoff"
	"reconcore/internal/circuitbreak"
	"reconcore/internal/coreerr"
	"reconcore/internal/ratelimit"
	"reconcore/internal/transport"
)

const maxRetries = 3
const requestTimeout = 30 * time.Second

// OKXClient implements Client against OKX's REST trading endpoints,
// rate-limited and circuit-broken per spec's resiliency requirements.
type OKXClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *transport.Signer
	limiter    *ratelimit.Limiter
	breaker    *circuitbreak.Breaker
}

// NewOKXClient builds a client against baseURL, signing requests with the
// given credential triple.
func NewOKXClient(baseURL, apiKey, secret, passphrase string) *OKXClient {
	return &OKXClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		signer:     transport.NewSigner(apiKey, secret, passphrase),
		limiter:    ratelimit.NewOKX(),
		breaker:    circuitbreak.New(circuitbreak.DefaultConfig("okx-rest")),
	}
}

func (c *OKXClient) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("%w: circuit breaker open for %s", coreerr.ErrExchangeRejection, path)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		c.limiter.Wait()

		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		result, err := c.doOnce(reqCtx, method, path, payload)
		cancel()
		if err == nil {
			c.breaker.RecordSuccess()
			return result, nil
		}

		lastErr = err
		c.breaker.RecordFailure()
		slog.Warn("exchange request failed", "path", path, "attempt", attempt, "err", err)

		// Only a transport-level failure (no response received) is worth
		// retrying; a definitive HTTP response, even a rejection, is terminal.
		if !errors.Is(err, coreerr.ErrTimeout) {
			return nil, err
		}

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff.Calculate(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("%w: %s gave up after %d attempts: %v", coreerr.ErrExchangeRejection, path, maxRetries+1, lastErr)
}

func (c *OKXClient) doOnce(ctx context.Context, method, path string, payload []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	for k, v := range c.signer.RESTHeaders(ts, method, path, string(payload)) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrTimeout, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrParse, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d: %s", coreerr.ErrExchangeRejection, resp.StatusCode, string(raw))
	}
	return result, nil
}

// SubmitOrder places a market/limit order tagged with cloid.
func (c *OKXClient) SubmitOrder(ctx context.Context, symbol, side, posSide, ordType string, px, sz decimal.Decimal, cloid string) (string, error) {
	body := map[string]any{
		"instId": symbol, "tdMode": "cross", "side": side, "posSide": posSide,
		"ordType": ordType, "sz": sz.String(), "clOrdId": cloid,
	}
	if !px.IsZero() {
		body["px"] = px.String()
	}
	result, err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", body)
	if err != nil {
		return "", err
	}
	return extractOid(result)
}

// CancelOrder cancels an order by exchange-assigned oid.
func (c *OKXClient) CancelOrder(ctx context.Context, oid string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", map[string]any{"ordId": oid})
	return err
}

// PlaceAlgo places a conditional (stop-loss/take-profit) order.
func (c *OKXClient) PlaceAlgo(ctx context.Context, cloid, trigger, side string, sz decimal.Decimal) (string, error) {
	body := map[string]any{
		"algoClOrdId": cloid, "triggerPx": trigger, "side": side, "sz": sz.String(),
		"ordType": "conditional",
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/v5/trade/order-algo", body); err != nil {
		return "", err
	}
	return cloid, nil
}

// CancelAlgo cancels a conditional order by cloid. Failures are logged and
// returned; the engine does not fail the close transition on them and does
// not call CancelAlgo again. As with every request, do retries
// transport-level failures; an HTTP rejection is not retried.
func (c *OKXClient) CancelAlgo(ctx context.Context, cloid string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-algos", map[string]any{"algoClOrdId": cloid})
	if err != nil {
		slog.Warn("cancelAlgo failed, proceeding with close", "cloid", cloid, "err", err)
	}
	return err
}

// SetLeverage sets leverage for symbol.
func (c *OKXClient) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v5/account/set-leverage", map[string]any{
		"instId": symbol, "lever": leverage.String(), "mgnMode": "cross",
	})
	return err
}

func extractOid(result map[string]any) (string, error) {
	data, ok := result["data"].([]any)
	if !ok || len(data) == 0 {
		return "", fmt.Errorf("%w: missing data[] in order response", coreerr.ErrParse)
	}
	entry, ok := data[0].(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: malformed order response entry", coreerr.ErrParse)
	}
	oid, _ := entry["ordId"].(string)
	if oid == "" {
		return "", fmt.Errorf("%w: empty ordId in response", coreerr.ErrExchangeRejection)
	}
	return oid, nil
}
