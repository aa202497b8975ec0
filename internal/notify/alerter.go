package notify

import "context"

// titles maps event types to human-readable notification titles.
var titles = map[string]string{
	"order_failed":    "Order execution failed",
	"position_closed": "Position closed",
	"session_expired": "Session expired",
	"error":           "System error",
}

// Alert is the fire-and-forget entry point used by the orchestrator and
// supervisor. Delivery errors are already logged by dispatch, so the caller
// never has to handle them on the trading path.
func (n *Notifier) Alert(ctx context.Context, event, message string) {
	title, ok := titles[event]
	if !ok {
		title = event
	}
	_ = n.Notify(ctx, event, title, message)
}
