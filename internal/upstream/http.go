package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/traderops/backoffice/internal/domain"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
)

// HTTPClient implements Client against the brokerage REST API.
type HTTPClient struct {
	baseURL    string
	maxRetries int
	httpClient *http.Client
}

// Option customises an HTTPClient.
type Option func(*HTTPClient)

// WithTimeout overrides the default 30 s per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithMaxRetries overrides the default of 3 attempts for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *HTTPClient) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    baseURL,
		maxRetries: defaultMaxRetries,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login authenticates a user against the manager API.
func (c *HTTPClient) Login(ctx context.Context, email, password, brokerID string) (LoginResult, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
		"brokerId": brokerID,
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/manager/mtr-login", nil, body)
	if err != nil {
		return LoginResult{}, fmt.Errorf("upstream: login: %w", err)
	}

	var res LoginResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return LoginResult{}, fmt.Errorf("upstream: decode login response: %w", err)
	}
	if res.AuthToken == "" || res.TradingToken == "" {
		return LoginResult{}, fmt.Errorf("upstream: login response missing tokens: %w", domain.ErrAuth)
	}
	return res, nil
}

// RefreshToken exchanges the current auth token for a fresh token pair.
func (c *HTTPClient) RefreshToken(ctx context.Context, authToken string) (RefreshResult, error) {
	headers := authHeaders(authToken, "")

	respBody, err := c.doRequest(ctx, http.MethodPost, "/manager/refresh-token", headers, nil)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("upstream: refresh token: %w", err)
	}

	var res RefreshResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return RefreshResult{}, fmt.Errorf("upstream: decode refresh response: %w", err)
	}
	if res.AuthToken == "" {
		return RefreshResult{}, fmt.Errorf("upstream: refresh response missing token: %w", domain.ErrAuth)
	}
	return res, nil
}

// Logout invalidates the session upstream.
func (c *HTTPClient) Logout(ctx context.Context, authToken string) error {
	headers := authHeaders(authToken, "")

	if _, err := c.doRequest(ctx, http.MethodPost, "/manager/logout", headers, nil); err != nil {
		return fmt.Errorf("upstream: logout: %w", err)
	}
	return nil
}

// GetBalance fetches the account balance snapshot.
func (c *HTTPClient) GetBalance(ctx context.Context, auth Auth) (Balance, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/trading/balance", authHeaders(auth.AuthToken, auth.TradingToken), nil)
	if err != nil {
		return Balance{}, fmt.Errorf("upstream: get balance: %w", err)
	}

	var b Balance
	if err := json.Unmarshal(respBody, &b); err != nil {
		return Balance{}, fmt.Errorf("upstream: decode balance: %w", err)
	}
	return b, nil
}

// ListOpenPositions returns all positions currently open on the account.
// The broker returns either a bare array or an envelope with a data field.
func (c *HTTPClient) ListOpenPositions(ctx context.Context, auth Auth) ([]Position, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/trading/positions/opened", authHeaders(auth.AuthToken, auth.TradingToken), nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: list open positions: %w", err)
	}

	var positions []Position
	if err := json.Unmarshal(respBody, &positions); err == nil {
		return positions, nil
	}

	var envelope struct {
		Data []Position `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("upstream: decode positions: %w", err)
	}
	return envelope.Data, nil
}

// OpenPosition opens a new position and returns the broker's handle.
func (c *HTTPClient) OpenPosition(ctx context.Context, auth Auth, req OpenRequest) (OpenResult, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "/trading/positions/open", authHeaders(auth.AuthToken, auth.TradingToken), req)
	if err != nil {
		return OpenResult{}, fmt.Errorf("upstream: open position %s: %w", req.Symbol, err)
	}

	var res OpenResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return OpenResult{}, fmt.Errorf("upstream: decode open result: %w", err)
	}
	return res, nil
}

// ClosePosition closes the position identified by upstreamID.
func (c *HTTPClient) ClosePosition(ctx context.Context, auth Auth, upstreamID string) (CloseResult, error) {
	path := fmt.Sprintf("/trading/positions/%s/close", url.PathEscape(upstreamID))

	respBody, err := c.doRequest(ctx, http.MethodPost, path, authHeaders(auth.AuthToken, auth.TradingToken), nil)
	if err != nil {
		return CloseResult{}, fmt.Errorf("upstream: close position %s: %w", upstreamID, err)
	}

	var res CloseResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return CloseResult{}, fmt.Errorf("upstream: decode close result: %w", err)
	}
	return res, nil
}

// EditPosition updates the stop loss / take profit of an open position.
func (c *HTTPClient) EditPosition(ctx context.Context, auth Auth, upstreamID string, stopLoss, takeProfit *float64) error {
	body := map[string]float64{}
	if stopLoss != nil {
		body["stopLoss"] = *stopLoss
	}
	if takeProfit != nil {
		body["takeProfit"] = *takeProfit
	}

	path := fmt.Sprintf("/trading/positions/%s", url.PathEscape(upstreamID))
	if _, err := c.doRequest(ctx, http.MethodPut, path, authHeaders(auth.AuthToken, auth.TradingToken), body); err != nil {
		return fmt.Errorf("upstream: edit position %s: %w", upstreamID, err)
	}
	return nil
}

// PartialClose closes part of the position's volume.
func (c *HTTPClient) PartialClose(ctx context.Context, auth Auth, upstreamID string, volume float64) error {
	path := fmt.Sprintf("/trading/positions/%s/partial-close", url.PathEscape(upstreamID))
	body := map[string]float64{"volume": volume}

	if _, err := c.doRequest(ctx, http.MethodPost, path, authHeaders(auth.AuthToken, auth.TradingToken), body); err != nil {
		return fmt.Errorf("upstream: partial close %s: %w", upstreamID, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// authHeaders builds the two fixed authentication headers. The trading token
// is omitted for manager endpoints.
func authHeaders(authToken, tradingToken string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+authToken)
	if tradingToken != "" {
		h.Set("Trading-Api-Token", tradingToken)
	}
	return h
}

// doRequest builds, sends, and reads an HTTP request against the brokerage
// API. Transient failures (network errors and 5xx responses) are retried up
// to maxRetries times with 2^k second backoff; auth and request errors are
// surfaced immediately.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, headers http.Header, reqBody any) ([]byte, error) {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	fullURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		// Fresh id per attempt so broker-side logs separate retries.
		req.Header.Set("X-Request-Id", uuid.NewString())
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %v: %w", err, domain.ErrTransient)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %v: %w", err, domain.ErrTransient)
			continue
		}

		if err := checkStatus(resp.StatusCode, respBody); err != nil {
			if isTransient(resp.StatusCode) {
				lastErr = err
				continue
			}
			return nil, err
		}

		return respBody, nil
	}

	return nil, lastErr
}

// isTransient reports whether the status code should be retried.
func isTransient(statusCode int) bool {
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}

// checkStatus maps non-2xx HTTP status codes to the domain error kinds.
// 401 is an auth rejection with no retry; 400 and 410 are non-retryable
// request errors; 5xx and 429 are transient.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Error
	}

	switch {
	case statusCode == http.StatusUnauthorized:
		return fmt.Errorf("unauthorized: %s: %w", msg, domain.ErrAuth)
	case statusCode == http.StatusBadRequest:
		return fmt.Errorf("bad request: %s: %w", msg, domain.ErrRequest)
	case statusCode == http.StatusGone:
		return fmt.Errorf("resource expired: %s: %w", msg, domain.ErrRequest)
	case isTransient(statusCode):
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, msg, domain.ErrTransient)
	default:
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, msg, domain.ErrRequest)
	}
}
