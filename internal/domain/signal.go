package domain

import "time"

// SignalAction is the closed set of fan-out instructions.
type SignalAction string

const (
	SignalOpenLong  SignalAction = "OPEN_LONG"
	SignalOpenShort SignalAction = "OPEN_SHORT"
	SignalClose     SignalAction = "CLOSE"
	SignalCloseAll  SignalAction = "CLOSE_ALL"
)

// Valid reports whether the action is one of the known instructions.
func (a SignalAction) Valid() bool {
	switch a {
	case SignalOpenLong, SignalOpenShort, SignalClose, SignalCloseAll:
		return true
	}
	return false
}

// Side maps an open action to its order side. Only meaningful for
// OPEN_LONG and OPEN_SHORT.
func (a SignalAction) Side() OrderSide {
	if a == SignalOpenShort {
		return OrderSideShort
	}
	return OrderSideLong
}

// Signal is an inbound trading instruction from the strategy engine or an
// operator. Persisted before fan-out as an audit row.
type Signal struct {
	ID         int64
	Action     SignalAction
	Symbol     string
	EntryPrice *float64
	StopLoss   *float64
	TakeProfit *float64
	Volume     float64
	Strength   *float64
	Reason     string
	CreatedAt  time.Time
}
