package domain

import "time"

// Trade is the immutable close record written when an order transitions to
// CLOSED. It is created exactly once and never mutated.
type Trade struct {
	ID                int64
	OrderID           int64
	UserID            int64
	Symbol            string
	Side              OrderSide
	EntryPrice        float64
	ExitPrice         float64
	Quantity          float64
	ProfitLoss        float64
	ProfitLossPercent *float64
	Commission        float64
	DurationSeconds   int64
	ExecutedAt        time.Time
	ClosedAt          time.Time
}
