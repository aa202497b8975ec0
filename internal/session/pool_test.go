package session

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traderops/backoffice/internal/domain"
	"github.com/traderops/backoffice/internal/upstream"
)

type fakeUserStore struct {
	users map[int64]domain.User
}

func (f *fakeUserStore) Create(ctx context.Context, u domain.User) (domain.User, error) {
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeUserStore) GetByID(ctx context.Context, id int64) (domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (f *fakeUserStore) ListActive(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	for _, u := range f.users {
		if u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeSessionStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{rows: make(map[int64]domain.Session)}
}

func (f *fakeSessionStore) Upsert(ctx context.Context, s domain.Session) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, row := range f.rows {
		if row.UserID == s.UserID && row.Active {
			s.ID = id
			f.rows[id] = s
			return s, nil
		}
	}
	f.nextID++
	s.ID = f.nextID
	f.rows[s.ID] = s
	return s, nil
}

func (f *fakeSessionStore) GetActive(ctx context.Context, userID int64) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.UserID == userID && row.Active {
			return row, nil
		}
	}
	return domain.Session{}, domain.ErrNotFound
}

func (f *fakeSessionStore) ListActive(ctx context.Context) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Session
	for _, row := range f.rows {
		if row.Active {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Session
	for _, row := range f.rows {
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeSessionStore) UpdateTokens(ctx context.Context, id int64, authToken, tradingToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || !row.Active {
		return domain.ErrNotFound
	}
	now := time.Now()
	row.AuthToken = authToken
	row.TradingToken = tradingToken
	row.ExpiresAt = expiresAt
	row.LastRefreshAt = &now
	f.rows[id] = row
	return nil
}

func (f *fakeSessionStore) Deactivate(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Active = false
		f.rows[id] = row
	}
	return nil
}

type fakeClient struct {
	mu           sync.Mutex
	loginCalls   int
	refreshCalls int
	logoutCalls  int

	loginFn   func(email string) (upstream.LoginResult, error)
	refreshFn func(authToken string) (upstream.RefreshResult, error)
	logoutErr error
}

func (f *fakeClient) Login(ctx context.Context, email, password, brokerID string) (upstream.LoginResult, error) {
	f.mu.Lock()
	f.loginCalls++
	f.mu.Unlock()
	if f.loginFn != nil {
		return f.loginFn(email)
	}
	return upstream.LoginResult{AuthToken: "auth-" + email, TradingToken: "trade-" + email, TradingAccountID: "acct-" + email}, nil
}

func (f *fakeClient) RefreshToken(ctx context.Context, authToken string) (upstream.RefreshResult, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.mu.Unlock()
	if f.refreshFn != nil {
		return f.refreshFn(authToken)
	}
	return upstream.RefreshResult{AuthToken: authToken + "-new", TradingToken: "trade-new"}, nil
}

func (f *fakeClient) Logout(ctx context.Context, authToken string) error {
	f.mu.Lock()
	f.logoutCalls++
	f.mu.Unlock()
	return f.logoutErr
}

func (f *fakeClient) GetBalance(ctx context.Context, auth upstream.Auth) (upstream.Balance, error) {
	return upstream.Balance{}, nil
}

func (f *fakeClient) ListOpenPositions(ctx context.Context, auth upstream.Auth) ([]upstream.Position, error) {
	return nil, nil
}

func (f *fakeClient) OpenPosition(ctx context.Context, auth upstream.Auth, req upstream.OpenRequest) (upstream.OpenResult, error) {
	return upstream.OpenResult{}, nil
}

func (f *fakeClient) ClosePosition(ctx context.Context, auth upstream.Auth, upstreamID string) (upstream.CloseResult, error) {
	return upstream.CloseResult{}, nil
}

func (f *fakeClient) EditPosition(ctx context.Context, auth upstream.Auth, upstreamID string, stopLoss, takeProfit *float64) error {
	return nil
}

func (f *fakeClient) PartialClose(ctx context.Context, auth upstream.Auth, upstreamID string, volume float64) error {
	return nil
}

type plainDecrypter struct{}

func (plainDecrypter) Decrypt(ciphertext string) (string, error) {
	return ciphertext, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestPool(users *fakeUserStore, sessions *fakeSessionStore, client *fakeClient, attempts int) *Pool {
	return NewPool(users, sessions, plainDecrypter{}, client, attempts, testLogger())
}

func activeUser(id int64) domain.User {
	return domain.User{ID: id, Email: "trader@example.com", EncryptedPassword: "pw", BrokerID: "1", Active: true}
}

func TestLoginOneStoresSessionAndCache(t *testing.T) {
	users := &fakeUserStore{users: map[int64]domain.User{7: activeUser(7)}}
	sessions := newFakeSessionStore()
	client := &fakeClient{}
	pool := newTestPool(users, sessions, client, 3)

	cached, err := pool.LoginOne(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "auth-trader@example.com", cached.AuthToken)
	assert.Equal(t, "acct-trader@example.com", cached.TradingAccountID)

	ttl := time.Until(cached.ExpiresAt)
	assert.Greater(t, ttl, 14*time.Minute)
	assert.LessOrEqual(t, ttl, 15*time.Minute)

	got, ok := pool.Get(7)
	require.True(t, ok)
	assert.Equal(t, cached, got)

	stored, err := sessions.GetActive(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, stored.Active)
	assert.Equal(t, cached.AuthToken, stored.AuthToken)
}

func TestLoginOneSecondLoginReusesActiveRow(t *testing.T) {
	users := &fakeUserStore{users: map[int64]domain.User{7: activeUser(7)}}
	sessions := newFakeSessionStore()
	client := &fakeClient{}
	pool := newTestPool(users, sessions, client, 3)

	first, err := pool.LoginOne(context.Background(), 7)
	require.NoError(t, err)
	_, err = pool.LoginOne(context.Background(), 7)
	require.NoError(t, err)

	rows, err := sessions.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.NotZero(t, first)
}

func TestLoginOneExhaustsAttempts(t *testing.T) {
	users := &fakeUserStore{users: map[int64]domain.User{7: activeUser(7)}}
	sessions := newFakeSessionStore()
	client := &fakeClient{loginFn: func(email string) (upstream.LoginResult, error) {
		return upstream.LoginResult{}, domain.ErrAuth
	}}
	pool := newTestPool(users, sessions, client, 1)

	_, err := pool.LoginOne(context.Background(), 7)
	require.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, 1, client.loginCalls)

	_, ok := pool.Get(7)
	assert.False(t, ok)
}

func TestLoginOneUnknownUser(t *testing.T) {
	users := &fakeUserStore{users: map[int64]domain.User{}}
	pool := newTestPool(users, newFakeSessionStore(), &fakeClient{}, 1)

	_, err := pool.LoginOne(context.Background(), 99)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoginAllCountsOutcomes(t *testing.T) {
	users := &fakeUserStore{users: map[int64]domain.User{
		1: {ID: 1, Email: "a@example.com", EncryptedPassword: "pw", BrokerID: "1", Active: true},
		2: {ID: 2, Email: "b@example.com", EncryptedPassword: "pw", BrokerID: "1", Active: true},
		3: {ID: 3, Email: "c@example.com", EncryptedPassword: "pw", BrokerID: "1", Active: true},
	}}
	sessions := newFakeSessionStore()
	client := &fakeClient{loginFn: func(email string) (upstream.LoginResult, error) {
		if email == "b@example.com" {
			return upstream.LoginResult{}, domain.ErrAuth
		}
		return upstream.LoginResult{AuthToken: "auth", TradingToken: "trade", TradingAccountID: "acct"}, nil
	}}
	pool := newTestPool(users, sessions, client, 1)

	result, err := pool.LoginAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Successes)
	assert.Equal(t, 1, result.Failures)
	assert.Len(t, result.Results, 3)
	assert.Equal(t, 2, pool.Size())

	for _, r := range result.Results {
		if r.UserID == 2 {
			assert.False(t, r.Success)
			assert.NotEmpty(t, r.Error)
		}
	}
}

func TestRefreshOneUpdatesTokens(t *testing.T) {
	users := &fakeUserStore{users: map[int64]domain.User{7: activeUser(7)}}
	sessions := newFakeSessionStore()
	client := &fakeClient{}
	pool := newTestPool(users, sessions, client, 3)

	_, err := pool.LoginOne(context.Background(), 7)
	require.NoError(t, err)

	cached, err := pool.RefreshOne(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "auth-trader@example.com-new", cached.AuthToken)
	assert.Equal(t, 1, client.refreshCalls)

	stored, err := sessions.GetActive(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, cached.AuthToken, stored.AuthToken)
	require.NotNil(t, stored.LastRefreshAt)
}

func TestRefreshOneFallsBackToLoginWhenNoSession(t *testing.T) {
	users := &fakeUserStore{users: map[int64]domain.User{7: activeUser(7)}}
	sessions := newFakeSessionStore()
	client := &fakeClient{}
	pool := newTestPool(users, sessions, client, 3)

	cached, err := pool.RefreshOne(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, client.loginCalls)
	assert.Equal(t, 0, client.refreshCalls)
	assert.NotEmpty(t, cached.AuthToken)
}

func TestRefreshOneFallsBackToLoginOnAuthError(t *testing.T) {
	users := &fakeUserStore{users: map[int64]domain.User{7: activeUser(7)}}
	sessions := newFakeSessionStore()
	client := &fakeClient{refreshFn: func(authToken string) (upstream.RefreshResult, error) {
		return upstream.RefreshResult{}, domain.ErrAuth
	}}
	pool := newTestPool(users, sessions, client, 3)

	_, err := pool.LoginOne(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 1, client.loginCalls)

	_, err = pool.RefreshOne(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, client.loginCalls)
}

func TestLogoutIgnoresUpstreamFailure(t *testing.T) {
	users := &fakeUserStore{users: map[int64]domain.User{7: activeUser(7)}}
	sessions := newFakeSessionStore()
	client := &fakeClient{logoutErr: domain.ErrTransient}
	pool := newTestPool(users, sessions, client, 3)

	_, err := pool.LoginOne(context.Background(), 7)
	require.NoError(t, err)

	require.NoError(t, pool.Logout(context.Background(), 7))
	assert.Equal(t, 1, client.logoutCalls)

	_, ok := pool.Get(7)
	assert.False(t, ok)
	_, err = sessions.GetActive(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLogoutWithoutSessionIsNoop(t *testing.T) {
	users := &fakeUserStore{users: map[int64]domain.User{7: activeUser(7)}}
	pool := newTestPool(users, newFakeSessionStore(), &fakeClient{}, 3)

	require.NoError(t, pool.Logout(context.Background(), 7))
}

func TestSweepPartitionsByExpiry(t *testing.T) {
	now := time.Now().UTC()
	sessions := newFakeSessionStore()
	seed := []domain.Session{
		{UserID: 1, AuthToken: "a1", TradingToken: "t1", TradingAccountID: "acct1", Active: true, LoginAt: now, ExpiresAt: now.Add(10 * time.Minute)},
		{UserID: 2, AuthToken: "a2", TradingToken: "t2", TradingAccountID: "acct2", Active: true, LoginAt: now, ExpiresAt: now.Add(2 * time.Minute)},
		{UserID: 3, AuthToken: "a3", TradingToken: "t3", TradingAccountID: "acct3", Active: true, LoginAt: now, ExpiresAt: now.Add(-1 * time.Minute)},
	}
	for _, s := range seed {
		_, err := sessions.Upsert(context.Background(), s)
		require.NoError(t, err)
	}

	users := &fakeUserStore{users: map[int64]domain.User{
		1: activeUser(1), 2: activeUser(2), 3: activeUser(3),
	}}
	client := &fakeClient{}
	pool := newTestPool(users, sessions, client, 3)
	require.NoError(t, pool.Warm(context.Background()))
	require.Equal(t, 3, pool.Size())

	result, err := pool.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, result.Healthy)
	assert.Equal(t, []int64{2}, result.ExpiringSoon)
	assert.Equal(t, []int64{3}, result.Expired)
	assert.Equal(t, 1, result.Refreshed)
	assert.Equal(t, 1, result.Deactivated)

	// User 2 got fresh tokens, user 3 was evicted.
	refreshed, ok := pool.Get(2)
	require.True(t, ok)
	assert.Equal(t, "a2-new", refreshed.AuthToken)

	_, ok = pool.Get(3)
	assert.False(t, ok)
	_, err = sessions.GetActive(context.Background(), 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWarmRebuildsCache(t *testing.T) {
	now := time.Now().UTC()
	sessions := newFakeSessionStore()
	_, err := sessions.Upsert(context.Background(), domain.Session{
		UserID: 5, AuthToken: "a5", TradingToken: "t5", TradingAccountID: "acct5",
		Active: true, LoginAt: now, ExpiresAt: now.Add(sessionTTL),
	})
	require.NoError(t, err)

	pool := newTestPool(&fakeUserStore{users: map[int64]domain.User{}}, sessions, &fakeClient{}, 3)
	require.NoError(t, pool.Warm(context.Background()))

	cached, ok := pool.Get(5)
	require.True(t, ok)
	assert.Equal(t, "a5", cached.AuthToken)
	assert.Equal(t, "acct5", cached.TradingAccountID)
}
