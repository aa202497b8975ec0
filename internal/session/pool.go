// Package session maintains authenticated upstream sessions for every
// managed user. A Pool keeps an in-memory token cache in front of the
// session repository and drives login, refresh, and expiry sweeps.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/traderops/backoffice/internal/domain"
	"github.com/traderops/backoffice/internal/upstream"
)

const (
	// sessionTTL is the validity window granted on every login and refresh.
	sessionTTL = 15 * time.Minute

	// expiringSoonWindow is how close to expiry a session gets before the
	// sweep proactively refreshes it.
	expiringSoonWindow = 5 * time.Minute

	// loginConcurrency bounds parallel upstream logins during LoginAll.
	loginConcurrency = 8
)

// Decrypter recovers a plaintext credential from its stored ciphertext.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Pool owns the live session cache. All methods are safe for concurrent use.
type Pool struct {
	users    domain.UserStore
	sessions domain.SessionStore
	vault    Decrypter
	client   upstream.Client
	logger   *slog.Logger

	maxRetryAttempts int

	mu    sync.RWMutex
	cache map[int64]domain.CachedSession
}

// NewPool creates a session pool. maxRetryAttempts bounds login attempts per
// user; values below 1 are clamped to 1.
func NewPool(users domain.UserStore, sessions domain.SessionStore, vault Decrypter, client upstream.Client, maxRetryAttempts int, logger *slog.Logger) *Pool {
	if maxRetryAttempts < 1 {
		maxRetryAttempts = 1
	}
	return &Pool{
		users:            users,
		sessions:         sessions,
		vault:            vault,
		client:           client,
		logger:           logger.With(slog.String("component", "session_pool")),
		maxRetryAttempts: maxRetryAttempts,
		cache:            make(map[int64]domain.CachedSession),
	}
}

// UserResult is the per-user outcome of a bulk login or refresh.
type UserResult struct {
	UserID  int64  `json:"user_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchResult aggregates per-user outcomes of LoginAll and RefreshAll.
type BatchResult struct {
	Total     int          `json:"total"`
	Successes int          `json:"successes"`
	Failures  int          `json:"failures"`
	Results   []UserResult `json:"results"`
}

// SweepResult reports the expiry classification of one sweep pass.
type SweepResult struct {
	Healthy      []int64 `json:"healthy"`
	ExpiringSoon []int64 `json:"expiring_soon"`
	Expired      []int64 `json:"expired"`
	Refreshed    int     `json:"refreshed"`
	Deactivated  int     `json:"deactivated"`
}

// Warm rebuilds the in-memory cache from active repository rows. Called once
// at startup so a restart does not force a mass re-login.
func (p *Pool) Warm(ctx context.Context) error {
	rows, err := p.sessions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("session: warm cache: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range rows {
		p.cache[s.UserID] = domain.CachedSession{
			UserID:           s.UserID,
			AuthToken:        s.AuthToken,
			TradingToken:     s.TradingToken,
			TradingAccountID: s.TradingAccountID,
			ExpiresAt:        s.ExpiresAt,
		}
	}

	p.logger.InfoContext(ctx, "session cache warmed", slog.Int("sessions", len(rows)))
	return nil
}

// LoginOne authenticates a single user against the upstream broker. Attempts
// are retried with exponential backoff up to the configured limit. The stored
// session row is upserted and the cache updated on success.
func (p *Pool) LoginOne(ctx context.Context, userID int64) (domain.CachedSession, error) {
	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return domain.CachedSession{}, fmt.Errorf("session: login user %d: %w", userID, err)
	}
	if !user.Active {
		return domain.CachedSession{}, fmt.Errorf("session: login user %d: user inactive: %w", userID, domain.ErrRequest)
	}

	password, err := p.vault.Decrypt(user.EncryptedPassword)
	if err != nil {
		return domain.CachedSession{}, fmt.Errorf("session: login user %d: decrypt credential: %w", userID, err)
	}

	var result upstream.LoginResult
	var lastErr error
	for attempt := 1; attempt <= p.maxRetryAttempts; attempt++ {
		result, lastErr = p.client.Login(ctx, user.Email, password, user.BrokerID)
		if lastErr == nil {
			break
		}

		p.logger.WarnContext(ctx, "login attempt failed",
			slog.Int64("user_id", userID),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)

		if attempt == p.maxRetryAttempts {
			return domain.CachedSession{}, fmt.Errorf("session: login user %d after %d attempts: %w", userID, p.maxRetryAttempts, lastErr)
		}

		backoff := time.Duration(1<<uint(attempt-1)) * time.Second
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.CachedSession{}, ctx.Err()
		case <-timer.C:
		}
	}

	now := time.Now().UTC()
	stored, err := p.sessions.Upsert(ctx, domain.Session{
		UserID:           userID,
		AuthToken:        result.AuthToken,
		TradingToken:     result.TradingToken,
		TradingAccountID: result.TradingAccountID,
		Active:           true,
		LoginAt:          now,
		ExpiresAt:        now.Add(sessionTTL),
	})
	if err != nil {
		return domain.CachedSession{}, fmt.Errorf("session: persist login for user %d: %w", userID, err)
	}

	cached := domain.CachedSession{
		UserID:           userID,
		AuthToken:        stored.AuthToken,
		TradingToken:     stored.TradingToken,
		TradingAccountID: stored.TradingAccountID,
		ExpiresAt:        stored.ExpiresAt,
	}

	p.mu.Lock()
	p.cache[userID] = cached
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "user logged in",
		slog.Int64("user_id", userID),
		slog.Time("expires_at", cached.ExpiresAt),
	)
	return cached, nil
}

// LoginAll authenticates every active user concurrently. Individual failures
// are recorded per user; the batch itself only errors when the user list
// cannot be read.
func (p *Pool) LoginAll(ctx context.Context) (BatchResult, error) {
	users, err := p.users.ListActive(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("session: login all: %w", err)
	}

	results := make([]UserResult, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loginConcurrency)
	for i, u := range users {
		g.Go(func() error {
			_, loginErr := p.LoginOne(gctx, u.ID)
			r := UserResult{UserID: u.ID, Success: loginErr == nil}
			if loginErr != nil {
				r.Error = loginErr.Error()
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{Total: len(users), Results: results}
	for _, r := range results {
		if r.Success {
			out.Successes++
		} else {
			out.Failures++
		}
	}

	p.logger.InfoContext(ctx, "bulk login finished",
		slog.Int("total", out.Total),
		slog.Int("successes", out.Successes),
		slog.Int("failures", out.Failures),
	)
	return out, nil
}

// RefreshOne exchanges the user's tokens for fresh ones. A missing session or
// an upstream rejection of the old token falls back to a full login.
func (p *Pool) RefreshOne(ctx context.Context, userID int64) (domain.CachedSession, error) {
	current, err := p.sessions.GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return p.LoginOne(ctx, userID)
		}
		return domain.CachedSession{}, fmt.Errorf("session: refresh user %d: %w", userID, err)
	}

	refreshed, err := p.client.RefreshToken(ctx, current.AuthToken)
	if err != nil {
		if errors.Is(err, domain.ErrAuth) {
			p.logger.WarnContext(ctx, "refresh rejected, falling back to login",
				slog.Int64("user_id", userID))
			return p.LoginOne(ctx, userID)
		}
		return domain.CachedSession{}, fmt.Errorf("session: refresh user %d: %w", userID, err)
	}

	expiresAt := time.Now().UTC().Add(sessionTTL)
	if err := p.sessions.UpdateTokens(ctx, current.ID, refreshed.AuthToken, refreshed.TradingToken, expiresAt); err != nil {
		return domain.CachedSession{}, fmt.Errorf("session: persist refresh for user %d: %w", userID, err)
	}

	cached := domain.CachedSession{
		UserID:           userID,
		AuthToken:        refreshed.AuthToken,
		TradingToken:     refreshed.TradingToken,
		TradingAccountID: current.TradingAccountID,
		ExpiresAt:        expiresAt,
	}

	p.mu.Lock()
	p.cache[userID] = cached
	p.mu.Unlock()

	p.logger.DebugContext(ctx, "session refreshed",
		slog.Int64("user_id", userID),
		slog.Time("expires_at", expiresAt),
	)
	return cached, nil
}

// RefreshAll refreshes every cached session concurrently.
func (p *Pool) RefreshAll(ctx context.Context) (BatchResult, error) {
	ids := p.cachedUserIDs()

	results := make([]UserResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loginConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			_, refreshErr := p.RefreshOne(gctx, id)
			r := UserResult{UserID: id, Success: refreshErr == nil}
			if refreshErr != nil {
				r.Error = refreshErr.Error()
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{Total: len(ids), Results: results}
	for _, r := range results {
		if r.Success {
			out.Successes++
		} else {
			out.Failures++
		}
	}
	return out, nil
}

// Logout revokes the user's upstream session and deactivates the stored row.
// Upstream revocation failures are logged and otherwise ignored so local
// state always converges to logged-out.
func (p *Pool) Logout(ctx context.Context, userID int64) error {
	current, err := p.sessions.GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.evict(userID)
			return nil
		}
		return fmt.Errorf("session: logout user %d: %w", userID, err)
	}

	if err := p.client.Logout(ctx, current.AuthToken); err != nil {
		p.logger.WarnContext(ctx, "upstream logout failed",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	if err := p.sessions.Deactivate(ctx, current.ID); err != nil {
		return fmt.Errorf("session: deactivate session for user %d: %w", userID, err)
	}

	p.evict(userID)
	p.logger.InfoContext(ctx, "user logged out", slog.Int64("user_id", userID))
	return nil
}

// Sweep partitions cached sessions into healthy, expiring soon, and expired.
// Expiring sessions are refreshed in parallel; expired ones are deactivated
// and dropped from the cache. The returned slices are disjoint and reflect
// the classification at sweep start.
func (p *Pool) Sweep(ctx context.Context) (SweepResult, error) {
	now := time.Now().UTC()

	var result SweepResult
	p.mu.RLock()
	for id, s := range p.cache {
		remaining := s.ExpiresAt.Sub(now)
		switch {
		case remaining > expiringSoonWindow:
			result.Healthy = append(result.Healthy, id)
		case remaining > 0:
			result.ExpiringSoon = append(result.ExpiringSoon, id)
		default:
			result.Expired = append(result.Expired, id)
		}
	}
	p.mu.RUnlock()

	sort.Slice(result.Healthy, func(i, j int) bool { return result.Healthy[i] < result.Healthy[j] })
	sort.Slice(result.ExpiringSoon, func(i, j int) bool { return result.ExpiringSoon[i] < result.ExpiringSoon[j] })
	sort.Slice(result.Expired, func(i, j int) bool { return result.Expired[i] < result.Expired[j] })

	var refreshed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loginConcurrency)
	var refreshedMu sync.Mutex
	for _, id := range result.ExpiringSoon {
		g.Go(func() error {
			if _, err := p.RefreshOne(gctx, id); err != nil {
				p.logger.WarnContext(gctx, "proactive refresh failed",
					slog.Int64("user_id", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			refreshedMu.Lock()
			refreshed++
			refreshedMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	result.Refreshed = int(refreshed)

	for _, id := range result.Expired {
		current, err := p.sessions.GetActive(ctx, id)
		if err == nil {
			if err := p.sessions.Deactivate(ctx, current.ID); err != nil {
				p.logger.WarnContext(ctx, "deactivate expired session failed",
					slog.Int64("user_id", id),
					slog.String("error", err.Error()),
				)
				continue
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			p.logger.WarnContext(ctx, "lookup expired session failed",
				slog.Int64("user_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.evict(id)
		result.Deactivated++
	}

	if len(result.ExpiringSoon) > 0 || len(result.Expired) > 0 {
		p.logger.InfoContext(ctx, "session sweep finished",
			slog.Int("healthy", len(result.Healthy)),
			slog.Int("expiring_soon", len(result.ExpiringSoon)),
			slog.Int("expired", len(result.Expired)),
			slog.Int("refreshed", result.Refreshed),
			slog.Int("deactivated", result.Deactivated),
		)
	}
	return result, nil
}

// Get returns the cached session for the user, if present.
func (p *Pool) Get(userID int64) (domain.CachedSession, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.cache[userID]
	return s, ok
}

// Snapshot returns a copy of the cache keyed by user id.
func (p *Pool) Snapshot() map[int64]domain.CachedSession {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int64]domain.CachedSession, len(p.cache))
	for id, s := range p.cache {
		out[id] = s
	}
	return out
}

// Size returns the number of cached sessions.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

func (p *Pool) cachedUserIDs() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]int64, 0, len(p.cache))
	for id := range p.cache {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (p *Pool) evict(userID int64) {
	p.mu.Lock()
	delete(p.cache, userID)
	p.mu.Unlock()
}
