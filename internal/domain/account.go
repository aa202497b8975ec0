package domain

import "time"

// Account is the latest balance snapshot for a user's trading account,
// refreshed opportunistically whenever the upstream balance is fetched.
type Account struct {
	ID               int64
	UserID           int64
	TradingAccountID string
	Balance          float64
	Equity           float64
	Margin           float64
	FreeMargin       float64
	UpdatedAt        time.Time
}
