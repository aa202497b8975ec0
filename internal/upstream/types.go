package upstream

// LoginResult is the session material returned by a successful login.
type LoginResult struct {
	AuthToken        string `json:"token"`
	TradingToken     string `json:"tradingApiToken"`
	TradingAccountID string `json:"tradingAccountId"`
}

// RefreshResult is the replacement token pair from a refresh call.
type RefreshResult struct {
	AuthToken    string `json:"token"`
	TradingToken string `json:"tradingApiToken"`
}

// Balance is an account balance snapshot.
type Balance struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	FreeMargin float64 `json:"freeMargin"`
}

// Position is one open position as reported by the broker.
type Position struct {
	UpstreamID    string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Volume        float64 `json:"volume"`
	EntryPrice    float64 `json:"openPrice"`
	CurrentProfit float64 `json:"profit"`
}

// OpenRequest describes a position to open. Side is the broker's BUY/SELL.
type OpenRequest struct {
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	Volume     float64  `json:"volume"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
}

// OpenResult identifies the freshly opened position.
type OpenResult struct {
	UpstreamID  string  `json:"id"`
	FilledPrice float64 `json:"openPrice"`
}

// CloseResult reports the outcome of closing a position.
type CloseResult struct {
	ClosePrice float64 `json:"closePrice"`
	Profit     float64 `json:"profit"`
	Commission float64 `json:"commission"`
}

// Broker side values.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)
