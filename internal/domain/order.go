package domain

import "time"

// OrderSide is the direction of a position.
type OrderSide string

const (
	OrderSideLong  OrderSide = "LONG"
	OrderSideShort OrderSide = "SHORT"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus tracks the order lifecycle. Transitions are one-way:
// PENDING -> OPEN -> CLOSED, or PENDING -> CANCELLED.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusClosed    OrderStatus = "CLOSED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Order is both the intent record and the live position record for one
// per-account execution of a signal. UpstreamID holds the broker's position
// handle once known; it is unique when non-null.
type Order struct {
	ID         int64
	UserID     int64
	UpstreamID *string
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Quantity   float64
	EntryPrice float64
	StopLoss   *float64
	TakeProfit *float64
	Status     OrderStatus
	Reason     string
	CreatedAt  time.Time
	ExecutedAt *time.Time
	ClosedAt   *time.Time
}
