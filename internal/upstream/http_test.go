package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traderops/backoffice/internal/domain"
)

func TestLoginDecodesTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/manager/mtr-login", r.URL.Path)
		w.Write([]byte(`{"token":"auth-1","tradingApiToken":"trade-1","tradingAccountId":"acc-1"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	res, err := c.Login(context.Background(), "a@b.c", "pw", "broker")
	require.NoError(t, err)
	assert.Equal(t, "auth-1", res.AuthToken)
	assert.Equal(t, "trade-1", res.TradingToken)
	assert.Equal(t, "acc-1", res.TradingAccountID)
}

func TestLoginMissingTokensIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":""}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.Login(context.Background(), "a@b.c", "pw", "broker")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAuth))
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"token expired"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.RefreshToken(context.Background(), "stale")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAuth))
	assert.Equal(t, int32(1), calls.Load())
}

func TestBadRequestAndGoneAreRequestErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusGone} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"message":"nope"}`))
		}))

		c := NewHTTPClient(srv.URL)
		_, err := c.GetBalance(context.Background(), Auth{AuthToken: "a", TradingToken: "t"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrRequest), "status %d", status)
		assert.False(t, errors.Is(err, domain.ErrTransient))
		srv.Close()
	}
}

func TestTransientErrorIsRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"balance":1234.5,"equity":1200,"margin":10,"freeMargin":1190}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	b, err := c.GetBalance(context.Background(), Auth{AuthToken: "a", TradingToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1234.5, b.Balance)
}

func TestTransientExhaustionSurfacesTransientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithMaxRetries(2))
	_, err := c.ListOpenPositions(context.Background(), Auth{AuthToken: "a", TradingToken: "t"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransient))
	assert.Equal(t, int32(2), calls.Load())
}

func TestListOpenPositionsAcceptsArrayAndEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare array", `[{"id":"p1","symbol":"BTCUSD","side":"BUY","volume":0.1,"openPrice":50000,"profit":12.5}]`},
		{"data envelope", `{"data":[{"id":"p1","symbol":"BTCUSD","side":"BUY","volume":0.1,"openPrice":50000,"profit":12.5}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer a", r.Header.Get("Authorization"))
				assert.Equal(t, "t", r.Header.Get("Trading-Api-Token"))
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL)
			positions, err := c.ListOpenPositions(context.Background(), Auth{AuthToken: "a", TradingToken: "t"})
			require.NoError(t, err)
			require.Len(t, positions, 1)
			assert.Equal(t, "p1", positions[0].UpstreamID)
			assert.Equal(t, 50000.0, positions[0].EntryPrice)
			assert.Equal(t, 12.5, positions[0].CurrentProfit)
		})
	}
}

func TestOpenPositionSendsSideAndOptionalLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/trading/positions/open", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SELL", body["side"])
		assert.Equal(t, 0.05, body["volume"])
		_, hasSL := body["stopLoss"]
		assert.False(t, hasSL)
		w.Write([]byte(`{"id":"p9","openPrice":101.5}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	res, err := c.OpenPosition(context.Background(), Auth{AuthToken: "a", TradingToken: "t"}, OpenRequest{
		Symbol: "EURUSD",
		Side:   SideSell,
		Volume: 0.05,
	})
	require.NoError(t, err)
	assert.Equal(t, "p9", res.UpstreamID)
	assert.Equal(t, 101.5, res.FilledPrice)
}
