package bus

import "context"

// Event type names used across the system.
const (
	EventPositionUpdate = "position_update"
	EventTradeSignal    = "trade_signal"
	EventOrderExecuted  = "order_executed"
	EventPositionClosed = "position_closed"
	EventSessionUpdate  = "session_update"
	EventPositionsCount = "positions_count"
	EventHeartbeat      = "heartbeat"
	EventError          = "error"
)

// PublishPositionUpdate broadcasts a live position snapshot.
func (b *Bus) PublishPositionUpdate(ctx context.Context, data any) {
	b.Publish(ctx, ChannelPositions, EventPositionUpdate, data)
}

// PublishTradeSignal broadcasts a received trading signal.
func (b *Bus) PublishTradeSignal(ctx context.Context, data any) {
	b.Publish(ctx, ChannelTrading, EventTradeSignal, data)
}

// PublishOrderExecuted broadcasts a filled order to the trading, positions,
// and dashboard audiences.
func (b *Bus) PublishOrderExecuted(ctx context.Context, data any) {
	b.Publish(ctx, ChannelTrading, EventOrderExecuted, data)
	b.Publish(ctx, ChannelPositions, EventOrderExecuted, data)
	b.Publish(ctx, ChannelDashboard, EventOrderExecuted, data)
}

// PublishPositionClosed broadcasts a closed position with its realized P&L.
func (b *Bus) PublishPositionClosed(ctx context.Context, data any) {
	b.Publish(ctx, ChannelPositions, EventPositionClosed, data)
}

// PublishSessionUpdate broadcasts session lifecycle changes.
func (b *Bus) PublishSessionUpdate(ctx context.Context, data any) {
	b.Publish(ctx, ChannelSessions, EventSessionUpdate, data)
}

// PublishPositionsCount broadcasts the open position tally to both the
// positions and dashboard audiences.
func (b *Bus) PublishPositionsCount(ctx context.Context, data any) {
	b.Publish(ctx, ChannelPositions, EventPositionsCount, data)
	b.Publish(ctx, ChannelDashboard, EventPositionsCount, data)
}

// PublishHeartbeat broadcasts a liveness tick to every connected subscriber.
func (b *Bus) PublishHeartbeat(ctx context.Context, data any) {
	b.Publish(ctx, ChannelAll, EventHeartbeat, data)
}

// PublishError broadcasts an operational error notice.
func (b *Bus) PublishError(ctx context.Context, data any) {
	b.Publish(ctx, ChannelDashboard, EventError, data)
}
