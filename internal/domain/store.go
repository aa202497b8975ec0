package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeFilter narrows trade history queries.
type TradeFilter struct {
	UserID *int64
	Symbol string
	Since  *time.Time
	Limit  int
	Offset int
}

// UserStore persists managed users.
type UserStore interface {
	Create(ctx context.Context, u User) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	ListActive(ctx context.Context) ([]User, error)
}

// SessionStore persists upstream session rows. Upsert maintains the
// one-active-session-per-user invariant by updating the existing active row
// in place when one exists.
type SessionStore interface {
	Upsert(ctx context.Context, s Session) (Session, error)
	GetActive(ctx context.Context, userID int64) (Session, error)
	ListActive(ctx context.Context) ([]Session, error)
	List(ctx context.Context, opts ListOpts) ([]Session, error)
	UpdateTokens(ctx context.Context, id int64, authToken, tradingToken string, expiresAt time.Time) error
	Deactivate(ctx context.Context, id int64) error
}

// OrderStore persists order intent and live position records.
type OrderStore interface {
	Create(ctx context.Context, o Order) (Order, error)
	GetByID(ctx context.Context, id int64) (Order, error)
	GetByUpstreamID(ctx context.Context, upstreamID string) (Order, error)
	// LatestOpen returns the most recent OPEN order for (userID, symbol),
	// ordered by created_at DESC with ties broken by highest id.
	LatestOpen(ctx context.Context, userID int64, symbol string) (Order, error)
	ListOpen(ctx context.Context) ([]Order, error)
	ListOpenByUser(ctx context.Context, userID int64) ([]Order, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// TradeStore persists immutable close records. CloseOrder transitions the
// order to CLOSED and inserts the trade within a single transaction.
type TradeStore interface {
	CloseOrder(ctx context.Context, orderID int64, upstreamID *string, t Trade) (Trade, error)
	List(ctx context.Context, f TradeFilter) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// SignalStore persists the inbound signal audit log.
type SignalStore interface {
	Insert(ctx context.Context, s Signal) (Signal, error)
	List(ctx context.Context, opts ListOpts) ([]Signal, error)
	ListBefore(ctx context.Context, before time.Time) ([]Signal, error)
}

// AccountStore persists balance snapshots keyed by user.
type AccountStore interface {
	Upsert(ctx context.Context, a Account) (Account, error)
	GetByUser(ctx context.Context, userID int64) (Account, error)
}

// SystemLogStore persists operational events.
type SystemLogStore interface {
	Log(ctx context.Context, level, component, message string, detail map[string]any) error
	ListRecent(ctx context.Context, limit int) ([]SystemLog, error)
}
