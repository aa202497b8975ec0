package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traderops/backoffice/internal/bus"
	"github.com/traderops/backoffice/internal/domain"
	"github.com/traderops/backoffice/internal/upstream"
)

type staticSessions struct {
	sessions map[int64]domain.CachedSession
}

func (s *staticSessions) Snapshot() map[int64]domain.CachedSession {
	out := make(map[int64]domain.CachedSession, len(s.sessions))
	for k, v := range s.sessions {
		out[k] = v
	}
	return out
}

func (s *staticSessions) Get(userID int64) (domain.CachedSession, bool) {
	c, ok := s.sessions[userID]
	return c, ok
}

type stubClient struct {
	mu sync.Mutex

	balanceFn   func(auth upstream.Auth) (upstream.Balance, error)
	openFn      func(auth upstream.Auth, req upstream.OpenRequest) (upstream.OpenResult, error)
	positionsFn func(auth upstream.Auth) ([]upstream.Position, error)
	closeFn     func(auth upstream.Auth, upstreamID string) (upstream.CloseResult, error)

	openReqs []upstream.OpenRequest
	closed   []string
}

func (c *stubClient) Login(ctx context.Context, email, password, brokerID string) (upstream.LoginResult, error) {
	return upstream.LoginResult{}, nil
}

func (c *stubClient) RefreshToken(ctx context.Context, authToken string) (upstream.RefreshResult, error) {
	return upstream.RefreshResult{}, nil
}

func (c *stubClient) Logout(ctx context.Context, authToken string) error { return nil }

func (c *stubClient) GetBalance(ctx context.Context, auth upstream.Auth) (upstream.Balance, error) {
	if c.balanceFn != nil {
		return c.balanceFn(auth)
	}
	return upstream.Balance{Balance: 10000, Equity: 10000, FreeMargin: 10000}, nil
}

func (c *stubClient) ListOpenPositions(ctx context.Context, auth upstream.Auth) ([]upstream.Position, error) {
	if c.positionsFn != nil {
		return c.positionsFn(auth)
	}
	return nil, nil
}

func (c *stubClient) OpenPosition(ctx context.Context, auth upstream.Auth, req upstream.OpenRequest) (upstream.OpenResult, error) {
	c.mu.Lock()
	c.openReqs = append(c.openReqs, req)
	c.mu.Unlock()
	if c.openFn != nil {
		return c.openFn(auth, req)
	}
	return upstream.OpenResult{UpstreamID: "pos-" + auth.AuthToken, FilledPrice: 100}, nil
}

func (c *stubClient) ClosePosition(ctx context.Context, auth upstream.Auth, upstreamID string) (upstream.CloseResult, error) {
	c.mu.Lock()
	c.closed = append(c.closed, upstreamID)
	c.mu.Unlock()
	if c.closeFn != nil {
		return c.closeFn(auth, upstreamID)
	}
	return upstream.CloseResult{ClosePrice: 110, Profit: 10, Commission: 0.5}, nil
}

func (c *stubClient) EditPosition(ctx context.Context, auth upstream.Auth, upstreamID string, stopLoss, takeProfit *float64) error {
	return nil
}

func (c *stubClient) PartialClose(ctx context.Context, auth upstream.Auth, upstreamID string, volume float64) error {
	return nil
}

type memOrderStore struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]domain.Order
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[int64]domain.Order)}
}

func (m *memOrderStore) Create(ctx context.Context, o domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o.ID = m.nextID
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	m.orders[o.ID] = o
	return o, nil
}

func (m *memOrderStore) GetByID(ctx context.Context, id int64) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *memOrderStore) GetByUpstreamID(ctx context.Context, upstreamID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.UpstreamID != nil && *o.UpstreamID == upstreamID {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (m *memOrderStore) LatestOpen(ctx context.Context, userID int64, symbol string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best domain.Order
	found := false
	for _, o := range m.orders {
		if o.UserID != userID || o.Symbol != symbol || o.Status != domain.OrderStatusOpen {
			continue
		}
		if !found || o.CreatedAt.After(best.CreatedAt) || (o.CreatedAt.Equal(best.CreatedAt) && o.ID > best.ID) {
			best = o
			found = true
		}
	}
	if !found {
		return domain.Order{}, domain.ErrNotFound
	}
	return best, nil
}

func (m *memOrderStore) ListOpen(ctx context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.Status == domain.OrderStatusOpen {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrderStore) ListOpenByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.UserID == userID && o.Status == domain.OrderStatusOpen {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrderStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	return nil, nil
}

type memTradeStore struct {
	mu     sync.Mutex
	orders *memOrderStore
	nextID int64
	trades []domain.Trade

	closeArgs []closeArgs
}

type closeArgs struct {
	orderID    int64
	upstreamID *string
}

func (m *memTradeStore) CloseOrder(ctx context.Context, orderID int64, upstreamID *string, t domain.Trade) (domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders.mu.Lock()
	o, ok := m.orders.orders[orderID]
	closedNow := false
	if ok && o.Status == domain.OrderStatusOpen {
		o.Status = domain.OrderStatusClosed
		closedAt := t.ClosedAt
		o.ClosedAt = &closedAt
		if o.UpstreamID == nil && upstreamID != nil {
			o.UpstreamID = upstreamID
		}
		m.orders.orders[orderID] = o
		closedNow = true
	}
	m.orders.mu.Unlock()
	if !closedNow {
		return domain.Trade{}, domain.ErrNotFound
	}

	m.nextID++
	t.ID = m.nextID
	t.OrderID = orderID
	m.trades = append(m.trades, t)
	m.closeArgs = append(m.closeArgs, closeArgs{orderID: orderID, upstreamID: upstreamID})
	return t, nil
}

func (m *memTradeStore) List(ctx context.Context, f domain.TradeFilter) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Trade(nil), m.trades...), nil
}

func (m *memTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	return nil, nil
}

type memAccountStore struct {
	mu       sync.Mutex
	accounts map[int64]domain.Account
}

func (m *memAccountStore) Upsert(ctx context.Context, a domain.Account) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accounts == nil {
		m.accounts = make(map[int64]domain.Account)
	}
	m.accounts[a.UserID] = a
	return a, nil
}

func (m *memAccountStore) GetByUser(ctx context.Context, userID int64) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

type memSignalStore struct {
	mu      sync.Mutex
	nextID  int64
	signals []domain.Signal
}

func (m *memSignalStore) Insert(ctx context.Context, s domain.Signal) (domain.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	s.CreatedAt = time.Now().UTC()
	m.signals = append(m.signals, s)
	return s, nil
}

func (m *memSignalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Signal, error) {
	return nil, nil
}

func (m *memSignalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Signal, error) {
	return nil, nil
}

type engineFixture struct {
	engine   *Engine
	client   *stubClient
	orders   *memOrderStore
	trades   *memTradeStore
	accounts *memAccountStore
	signals  *memSignalStore
}

func newEngineFixture(sessions map[int64]domain.CachedSession, client *stubClient) *engineFixture {
	orders := newMemOrderStore()
	trades := &memTradeStore{orders: orders}
	accounts := &memAccountStore{}
	signals := &memSignalStore{}
	logger := slog.New(slog.DiscardHandler)

	return &engineFixture{
		engine: NewEngine(
			&staticSessions{sessions: sessions},
			client, orders, trades, accounts, signals,
			bus.New(logger), nil, logger,
		),
		client:   client,
		orders:   orders,
		trades:   trades,
		accounts: accounts,
		signals:  signals,
	}
}

func cachedSession(userID int64) domain.CachedSession {
	return domain.CachedSession{
		UserID:           userID,
		AuthToken:        fmt.Sprintf("auth-%d", userID),
		TradingToken:     fmt.Sprintf("trade-%d", userID),
		TradingAccountID: fmt.Sprintf("acct-%d", userID),
		ExpiresAt:        time.Now().Add(10 * time.Minute),
	}
}

func TestExecuteRejectsInvalidSignal(t *testing.T) {
	fx := newEngineFixture(nil, &stubClient{})

	_, err := fx.engine.Execute(context.Background(), domain.Signal{Action: "HOLD", Symbol: "BTCUSD"})
	require.ErrorIs(t, err, domain.ErrRequest)

	_, err = fx.engine.Execute(context.Background(), domain.Signal{Action: domain.SignalOpenLong})
	require.ErrorIs(t, err, domain.ErrRequest)
}

func TestExecuteZeroSessionsSucceeds(t *testing.T) {
	fx := newEngineFixture(nil, &stubClient{})

	result, err := fx.engine.Execute(context.Background(), domain.Signal{
		Action: domain.SignalOpenLong, Symbol: "EURUSD", Volume: 0.1,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExecutedCount)
	assert.Equal(t, 0, result.FailedCount)

	// Signal is still audited.
	assert.Len(t, fx.signals.signals, 1)
}

func TestExecuteOpensAcrossAllSessions(t *testing.T) {
	sessions := map[int64]domain.CachedSession{
		1: cachedSession(1), 2: cachedSession(2), 3: cachedSession(3),
	}
	client := &stubClient{
		openFn: func(auth upstream.Auth, req upstream.OpenRequest) (upstream.OpenResult, error) {
			if auth.AuthToken == "auth-2" {
				return upstream.OpenResult{}, domain.ErrTransient
			}
			return upstream.OpenResult{UpstreamID: "pos-" + auth.AuthToken, FilledPrice: 1.1}, nil
		},
	}
	fx := newEngineFixture(sessions, client)

	result, err := fx.engine.Execute(context.Background(), domain.Signal{
		Action: domain.SignalOpenShort, Symbol: "EURUSD", Volume: 0.2,
	})
	require.NoError(t, err)

	// Partial failure is still a successful fan-out.
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ExecutedCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.InDelta(t, 0.4, result.TotalVolume, 1e-9)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, int64(2), result.Failed[0].UserID)

	open, err := fx.orders.ListOpen(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 2)
	for _, o := range open {
		assert.Equal(t, domain.OrderSideShort, o.Side)
		assert.Equal(t, domain.OrderStatusOpen, o.Status)
		require.NotNil(t, o.ExecutedAt)
	}

	// Every open request went out as a SELL.
	for _, req := range client.openReqs {
		assert.Equal(t, upstream.SideSell, req.Side)
	}
}

func TestExecuteCapsVolumeByBalance(t *testing.T) {
	sessions := map[int64]domain.CachedSession{1: cachedSession(1)}
	client := &stubClient{
		balanceFn: func(auth upstream.Auth) (upstream.Balance, error) {
			return upstream.Balance{Balance: 750}, nil
		},
	}
	fx := newEngineFixture(sessions, client)

	result, err := fx.engine.Execute(context.Background(), domain.Signal{
		Action: domain.SignalOpenLong, Symbol: "XAUUSD", Volume: 2.0,
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Len(t, client.openReqs, 1)
	assert.InDelta(t, 0.01, client.openReqs[0].Volume, 1e-9)

	// The balance snapshot was recorded.
	acct, err := fx.accounts.GetByUser(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 750, acct.Balance, 1e-9)
}

func TestExecuteCloseFiltersBySymbol(t *testing.T) {
	sessions := map[int64]domain.CachedSession{1: cachedSession(1)}
	client := &stubClient{
		positionsFn: func(auth upstream.Auth) ([]upstream.Position, error) {
			return []upstream.Position{
				{UpstreamID: "p-eur", Symbol: "EURUSD", Side: upstream.SideBuy, Volume: 0.1, EntryPrice: 1.0},
				{UpstreamID: "p-gold", Symbol: "XAUUSD", Side: upstream.SideBuy, Volume: 0.1, EntryPrice: 2000},
			}, nil
		},
	}
	fx := newEngineFixture(sessions, client)

	eurID := "p-eur"
	_, err := fx.orders.Create(context.Background(), domain.Order{
		UserID: 1, UpstreamID: &eurID, Symbol: "EURUSD", Side: domain.OrderSideLong,
		Type: domain.OrderTypeMarket, Quantity: 0.1, EntryPrice: 1.0,
		Status: domain.OrderStatusOpen,
	})
	require.NoError(t, err)

	result, err := fx.engine.Execute(context.Background(), domain.Signal{
		Action: domain.SignalClose, Symbol: "EURUSD",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ExecutedCount)
	assert.Equal(t, []string{"p-eur"}, client.closed)
	assert.Len(t, fx.trades.trades, 1)
}

func TestExecuteCloseWithoutSymbolClosesEverything(t *testing.T) {
	sessions := map[int64]domain.CachedSession{1: cachedSession(1)}
	client := &stubClient{
		positionsFn: func(auth upstream.Auth) ([]upstream.Position, error) {
			return []upstream.Position{
				{UpstreamID: "p-eur", Symbol: "EURUSD", Side: upstream.SideBuy, Volume: 0.1, EntryPrice: 1.0},
				{UpstreamID: "p-gold", Symbol: "XAUUSD", Side: upstream.SideBuy, Volume: 0.1, EntryPrice: 2000},
			}, nil
		},
	}
	fx := newEngineFixture(sessions, client)

	for _, seed := range []struct {
		upstreamID string
		symbol     string
		entry      float64
	}{
		{"p-eur", "EURUSD", 1.0},
		{"p-gold", "XAUUSD", 2000},
	} {
		id := seed.upstreamID
		_, err := fx.orders.Create(context.Background(), domain.Order{
			UserID: 1, UpstreamID: &id, Symbol: seed.symbol, Side: domain.OrderSideLong,
			Type: domain.OrderTypeMarket, Quantity: 0.1, EntryPrice: seed.entry,
			Status: domain.OrderStatusOpen,
		})
		require.NoError(t, err)
	}

	result, err := fx.engine.Execute(context.Background(), domain.Signal{
		Action: domain.SignalClose,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ExecutedCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.ElementsMatch(t, []string{"p-eur", "p-gold"}, client.closed)
	assert.Len(t, fx.trades.trades, 2)
}

func TestExecuteDefaultsMissingVolume(t *testing.T) {
	sessions := map[int64]domain.CachedSession{1: cachedSession(1)}
	client := &stubClient{
		balanceFn: func(auth upstream.Auth) (upstream.Balance, error) {
			return upstream.Balance{Balance: 10000}, nil
		},
	}
	fx := newEngineFixture(sessions, client)

	result, err := fx.engine.Execute(context.Background(), domain.Signal{
		Action: domain.SignalOpenLong, Symbol: "EURUSD",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Len(t, client.openReqs, 1)
	assert.InDelta(t, 0.1, client.openReqs[0].Volume, 1e-9)
}

func TestRecordTradeFallsBackToLatestOpen(t *testing.T) {
	fx := newEngineFixture(nil, &stubClient{})
	executedAt := time.Now().UTC().Add(-90 * time.Second)

	// Two open EURUSD orders without broker handles; the newer one must be
	// the adoption target.
	older, err := fx.orders.Create(context.Background(), domain.Order{
		UserID: 1, Symbol: "EURUSD", Side: domain.OrderSideLong, Type: domain.OrderTypeMarket,
		Quantity: 0.1, EntryPrice: 1.0, Status: domain.OrderStatusOpen,
		CreatedAt: executedAt.Add(-time.Hour),
	})
	require.NoError(t, err)
	newer, err := fx.orders.Create(context.Background(), domain.Order{
		UserID: 1, Symbol: "EURUSD", Side: domain.OrderSideLong, Type: domain.OrderTypeMarket,
		Quantity: 0.1, EntryPrice: 1.0, Status: domain.OrderStatusOpen,
		CreatedAt: executedAt, ExecutedAt: &executedAt,
	})
	require.NoError(t, err)

	trade, err := fx.engine.RecordTrade(context.Background(), 1,
		upstream.Position{UpstreamID: "p-1", Symbol: "EURUSD", Volume: 0.1, EntryPrice: 1.0},
		upstream.CloseResult{ClosePrice: 1.05, Profit: 5, Commission: 0.2},
		"manual",
	)
	require.NoError(t, err)

	assert.Equal(t, newer.ID, trade.OrderID)
	assert.GreaterOrEqual(t, trade.DurationSeconds, int64(90))

	// The handle was adopted by the resolved order.
	resolved, err := fx.orders.GetByUpstreamID(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, resolved.ID)

	// The older order is untouched.
	stillOpen, err := fx.orders.GetByID(context.Background(), older.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, stillOpen.Status)

	// P&L percent: 5 / (1.0 * 0.1) * 100.
	require.NotNil(t, trade.ProfitLossPercent)
	assert.InDelta(t, 5000, *trade.ProfitLossPercent, 1e-6)
}

func TestRecordTradeGuardsZeroDenominator(t *testing.T) {
	fx := newEngineFixture(nil, &stubClient{})

	id := "p-zero"
	_, err := fx.orders.Create(context.Background(), domain.Order{
		UserID: 1, UpstreamID: &id, Symbol: "EURUSD", Side: domain.OrderSideLong,
		Type: domain.OrderTypeMarket, Status: domain.OrderStatusOpen,
	})
	require.NoError(t, err)

	trade, err := fx.engine.RecordTrade(context.Background(), 1,
		upstream.Position{UpstreamID: "p-zero", Symbol: "EURUSD"},
		upstream.CloseResult{Profit: 3},
		"",
	)
	require.NoError(t, err)
	assert.Nil(t, trade.ProfitLossPercent)
}

func TestRecordTradeUnknownPosition(t *testing.T) {
	fx := newEngineFixture(nil, &stubClient{})

	_, err := fx.engine.RecordTrade(context.Background(), 1,
		upstream.Position{UpstreamID: "ghost", Symbol: "EURUSD"},
		upstream.CloseResult{},
		"",
	)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
