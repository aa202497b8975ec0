// Package upstream is the adapter boundary to the Match-Trade style
// brokerage API. The core consumes the narrow Client interface; HTTPClient
// is the production implementation.
package upstream

import "context"

// Client is the capability set the orchestrator needs from the brokerage.
// Every call honours the context for cancellation and deadlines.
type Client interface {
	Login(ctx context.Context, email, password, brokerID string) (LoginResult, error)
	RefreshToken(ctx context.Context, authToken string) (RefreshResult, error)
	Logout(ctx context.Context, authToken string) error

	GetBalance(ctx context.Context, auth Auth) (Balance, error)
	ListOpenPositions(ctx context.Context, auth Auth) ([]Position, error)
	OpenPosition(ctx context.Context, auth Auth, req OpenRequest) (OpenResult, error)
	ClosePosition(ctx context.Context, auth Auth, upstreamID string) (CloseResult, error)
	EditPosition(ctx context.Context, auth Auth, upstreamID string, stopLoss, takeProfit *float64) error
	PartialClose(ctx context.Context, auth Auth, upstreamID string, volume float64) error
}

// Auth carries the two tokens every trading call requires.
type Auth struct {
	AuthToken    string
	TradingToken string
}
