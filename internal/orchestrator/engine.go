// Package orchestrator fans a single trading signal out across every live
// account session and records the resulting orders and trades.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/traderops/backoffice/internal/bus"
	"github.com/traderops/backoffice/internal/domain"
	"github.com/traderops/backoffice/internal/upstream"
)

// executeConcurrency bounds parallel upstream calls during a fan-out.
const executeConcurrency = 8

// SessionSource provides the live session set the engine executes against.
type SessionSource interface {
	Snapshot() map[int64]domain.CachedSession
	Get(userID int64) (domain.CachedSession, bool)
}

// Alerter pushes operator notifications. Implementations must be safe for
// concurrent use; a nil Alerter disables notifications.
type Alerter interface {
	Alert(ctx context.Context, event, message string)
}

// OrderOutcome is the per-account result of one fan-out leg.
type OrderOutcome struct {
	UserID     int64   `json:"user_id"`
	OrderID    int64   `json:"order_id,omitempty"`
	UpstreamID string  `json:"upstream_id,omitempty"`
	Symbol     string  `json:"symbol"`
	Volume     float64 `json:"volume,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ExecutionResult aggregates a fan-out across all sessions. Success means
// the fan-out itself ran; per-account failures are listed in Failed.
// Executing against zero sessions is a success with zero legs.
type ExecutionResult struct {
	Success         bool                `json:"success"`
	Action          domain.SignalAction `json:"action"`
	Symbol          string              `json:"symbol"`
	ExecutedCount   int                 `json:"executed_count"`
	FailedCount     int                 `json:"failed_count"`
	TotalVolume     float64             `json:"total_volume"`
	ExecutionTimeMs int64               `json:"execution_time_ms"`
	Successful      []OrderOutcome      `json:"successful,omitempty"`
	Failed          []OrderOutcome      `json:"failed,omitempty"`
}

// Engine executes signals against every live session.
type Engine struct {
	sessions SessionSource
	client   upstream.Client
	orders   domain.OrderStore
	trades   domain.TradeStore
	accounts domain.AccountStore
	signals  domain.SignalStore
	events   *bus.Bus
	alerter  Alerter
	logger   *slog.Logger
}

// NewEngine creates a fan-out engine. alerter may be nil.
func NewEngine(
	sessions SessionSource,
	client upstream.Client,
	orders domain.OrderStore,
	trades domain.TradeStore,
	accounts domain.AccountStore,
	signals domain.SignalStore,
	events *bus.Bus,
	alerter Alerter,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		sessions: sessions,
		client:   client,
		orders:   orders,
		trades:   trades,
		accounts: accounts,
		signals:  signals,
		events:   events,
		alerter:  alerter,
		logger:   logger.With(slog.String("component", "orchestrator")),
	}
}

// Execute validates the signal, persists it, and fans it out to every live
// session. Per-account failures are collected, never propagated; the only
// error return is for an invalid signal.
func (e *Engine) Execute(ctx context.Context, sig domain.Signal) (ExecutionResult, error) {
	started := time.Now()

	if !sig.Action.Valid() {
		return ExecutionResult{}, fmt.Errorf("orchestrator: invalid action %q: %w", sig.Action, domain.ErrRequest)
	}
	// Only opens need a symbol; CLOSE without one closes everything, like
	// CLOSE_ALL.
	if sig.Symbol == "" && (sig.Action == domain.SignalOpenLong || sig.Action == domain.SignalOpenShort) {
		return ExecutionResult{}, fmt.Errorf("orchestrator: open signal requires a symbol: %w", domain.ErrRequest)
	}

	// Audit row first; losing it must not block execution.
	if stored, err := e.signals.Insert(ctx, sig); err != nil {
		e.logger.WarnContext(ctx, "signal audit insert failed",
			slog.String("action", string(sig.Action)),
			slog.String("error", err.Error()),
		)
	} else {
		sig = stored
	}

	e.events.PublishTradeSignal(ctx, map[string]any{
		"action": sig.Action,
		"symbol": sig.Symbol,
		"reason": sig.Reason,
	})

	live := e.sessions.Snapshot()

	result := ExecutionResult{
		Action: sig.Action,
		Symbol: sig.Symbol,
	}

	var mu sync.Mutex
	record := func(o OrderOutcome) {
		mu.Lock()
		defer mu.Unlock()
		if o.Error == "" {
			result.Successful = append(result.Successful, o)
			result.ExecutedCount++
			result.TotalVolume += o.Volume
		} else {
			result.Failed = append(result.Failed, o)
			result.FailedCount++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(executeConcurrency)
	for _, cached := range live {
		g.Go(func() error {
			switch sig.Action {
			case domain.SignalOpenLong, domain.SignalOpenShort:
				record(e.openForUser(gctx, cached, sig))
			case domain.SignalClose:
				for _, o := range e.closeForUser(gctx, cached, sig.Symbol, sig.Reason) {
					record(o)
				}
			case domain.SignalCloseAll:
				for _, o := range e.closeForUser(gctx, cached, "", sig.Reason) {
					record(o)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	// The flag reports that the fan-out ran; per-account failures are
	// itemised in Failed, they do not fail the call.
	result.Success = true
	result.ExecutionTimeMs = time.Since(started).Milliseconds()

	e.logger.InfoContext(ctx, "fan-out finished",
		slog.String("action", string(sig.Action)),
		slog.String("symbol", sig.Symbol),
		slog.Int("sessions", len(live)),
		slog.Int("executed", result.ExecutedCount),
		slog.Int("failed", result.FailedCount),
		slog.Int64("duration_ms", result.ExecutionTimeMs),
	)

	if result.FailedCount > 0 && e.alerter != nil {
		e.alerter.Alert(ctx, "order_failed",
			fmt.Sprintf("%s %s: %d of %d accounts failed", sig.Action, sig.Symbol, result.FailedCount, len(live)))
	}
	return result, nil
}

// openForUser opens one position for one account.
func (e *Engine) openForUser(ctx context.Context, cached domain.CachedSession, sig domain.Signal) OrderOutcome {
	outcome := OrderOutcome{UserID: cached.UserID, Symbol: sig.Symbol}
	auth := upstream.Auth{AuthToken: cached.AuthToken, TradingToken: cached.TradingToken}

	bal, err := e.client.GetBalance(ctx, auth)
	if err != nil {
		outcome.Error = fmt.Sprintf("get balance: %v", err)
		return outcome
	}

	// Snapshot the balance while we have it. Failures only cost staleness.
	if _, err := e.accounts.Upsert(ctx, domain.Account{
		UserID:           cached.UserID,
		TradingAccountID: cached.TradingAccountID,
		Balance:          bal.Balance,
		Equity:           bal.Equity,
		Margin:           bal.Margin,
		FreeMargin:       bal.FreeMargin,
	}); err != nil {
		e.logger.WarnContext(ctx, "account snapshot failed",
			slog.Int64("user_id", cached.UserID),
			slog.String("error", err.Error()),
		)
	}

	volume := SizeVolume(bal.Balance, sig.Volume)
	side := sig.Action.Side()

	opened, err := e.client.OpenPosition(ctx, auth, upstream.OpenRequest{
		Symbol:     sig.Symbol,
		Side:       brokerSide(side),
		Volume:     volume,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
	})
	if err != nil {
		outcome.Error = fmt.Sprintf("open position: %v", err)
		return outcome
	}

	now := time.Now().UTC()
	order, err := e.orders.Create(ctx, domain.Order{
		UserID:     cached.UserID,
		UpstreamID: &opened.UpstreamID,
		Symbol:     sig.Symbol,
		Side:       side,
		Type:       domain.OrderTypeMarket,
		Quantity:   volume,
		EntryPrice: opened.FilledPrice,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Status:     domain.OrderStatusOpen,
		Reason:     sig.Reason,
		ExecutedAt: &now,
	})
	if err != nil {
		// The broker holds the position but we lost the record. Loud log,
		// the reconciling supervisor will adopt it on its next pass.
		e.logger.ErrorContext(ctx, "order persist failed after fill",
			slog.Int64("user_id", cached.UserID),
			slog.String("upstream_id", opened.UpstreamID),
			slog.String("error", err.Error()),
		)
		outcome.Error = fmt.Sprintf("persist order: %v", err)
		return outcome
	}

	outcome.OrderID = order.ID
	outcome.UpstreamID = opened.UpstreamID
	outcome.Volume = volume

	e.events.PublishOrderExecuted(ctx, map[string]any{
		"order_id":    order.ID,
		"user_id":     cached.UserID,
		"symbol":      order.Symbol,
		"side":        order.Side,
		"volume":      order.Quantity,
		"entry_price": order.EntryPrice,
	})
	return outcome
}

// closeForUser closes the account's open positions, optionally filtered by
// symbol, and returns one outcome per position.
func (e *Engine) closeForUser(ctx context.Context, cached domain.CachedSession, symbol, reason string) []OrderOutcome {
	auth := upstream.Auth{AuthToken: cached.AuthToken, TradingToken: cached.TradingToken}

	positions, err := e.client.ListOpenPositions(ctx, auth)
	if err != nil {
		return []OrderOutcome{{
			UserID: cached.UserID,
			Symbol: symbol,
			Error:  fmt.Sprintf("list positions: %v", err),
		}}
	}

	var outcomes []OrderOutcome
	for _, pos := range positions {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}

		outcome := OrderOutcome{UserID: cached.UserID, Symbol: pos.Symbol, UpstreamID: pos.UpstreamID}

		closed, err := e.client.ClosePosition(ctx, auth, pos.UpstreamID)
		if err != nil {
			outcome.Error = fmt.Sprintf("close position: %v", err)
			outcomes = append(outcomes, outcome)
			continue
		}

		trade, err := e.RecordTrade(ctx, cached.UserID, pos, closed, reason)
		if err != nil {
			outcome.Error = fmt.Sprintf("record trade: %v", err)
			outcomes = append(outcomes, outcome)
			continue
		}

		outcome.OrderID = trade.OrderID
		outcome.Volume = pos.Volume
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// RecordTrade resolves the local order for a closed upstream position and
// writes the close through the trade store. Resolution tries the broker
// handle first, then falls back to the newest OPEN order for the same user
// and symbol, adopting the handle when the order had none.
func (e *Engine) RecordTrade(ctx context.Context, userID int64, pos upstream.Position, closed upstream.CloseResult, reason string) (domain.Trade, error) {
	order, err := e.orders.GetByUpstreamID(ctx, pos.UpstreamID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Trade{}, fmt.Errorf("orchestrator: resolve order %s: %w", pos.UpstreamID, err)
		}
		order, err = e.orders.LatestOpen(ctx, userID, pos.Symbol)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("orchestrator: no local order for position %s (%s): %w", pos.UpstreamID, pos.Symbol, err)
		}
	}

	now := time.Now().UTC()

	entry := order.EntryPrice
	if entry == 0 {
		entry = pos.EntryPrice
	}
	quantity := order.Quantity
	if quantity == 0 {
		quantity = pos.Volume
	}

	var plPercent *float64
	if denom := entry * quantity; denom != 0 {
		pct := closed.Profit / denom * 100
		plPercent = &pct
	}

	openedAt := order.CreatedAt
	if order.ExecutedAt != nil {
		openedAt = *order.ExecutedAt
	}

	trade, err := e.trades.CloseOrder(ctx, order.ID, &pos.UpstreamID, domain.Trade{
		OrderID:           order.ID,
		UserID:            userID,
		Symbol:            order.Symbol,
		Side:              order.Side,
		EntryPrice:        entry,
		ExitPrice:         closed.ClosePrice,
		Quantity:          quantity,
		ProfitLoss:        closed.Profit,
		ProfitLossPercent: plPercent,
		Commission:        closed.Commission,
		DurationSeconds:   int64(now.Sub(openedAt).Seconds()),
		ExecutedAt:        openedAt,
		ClosedAt:          now,
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("orchestrator: record close for order %d: %w", order.ID, err)
	}

	e.events.PublishPositionClosed(ctx, map[string]any{
		"order_id":    trade.OrderID,
		"user_id":     trade.UserID,
		"symbol":      trade.Symbol,
		"profit_loss": trade.ProfitLoss,
		"exit_price":  trade.ExitPrice,
		"reason":      reason,
	})
	return trade, nil
}

// brokerSide translates the internal side to the broker's vocabulary.
func brokerSide(side domain.OrderSide) string {
	if side == domain.OrderSideShort {
		return upstream.SideSell
	}
	return upstream.SideBuy
}
