package domain

import "time"

// Session is the durable record of an authenticated upstream context.
// At most one session per user is active at a time.
type Session struct {
	ID               int64
	UserID           int64
	AuthToken        string
	TradingToken     string
	TradingAccountID string
	Active           bool
	LoginAt          time.Time
	ExpiresAt        time.Time
	LastRefreshAt    *time.Time
}

// CachedSession is the in-memory view of an active session held by the
// session pool. The repository row stays authoritative; the cache is
// rebuilt from it on startup.
type CachedSession struct {
	UserID           int64
	AuthToken        string
	TradingToken     string
	TradingAccountID string
	ExpiresAt        time.Time
}

// Expired reports whether the session's expiry has passed at the given time.
func (s CachedSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
