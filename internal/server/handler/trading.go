package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/traderops/backoffice/internal/domain"
	"github.com/traderops/backoffice/internal/orchestrator"
)

// Executor runs a signal against every pooled session.
type Executor interface {
	Execute(ctx context.Context, sig domain.Signal) (orchestrator.ExecutionResult, error)
}

// TradingHandler serves signal execution and trade history endpoints.
type TradingHandler struct {
	engine Executor
	orders domain.OrderStore
	trades domain.TradeStore
	logger *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(engine Executor, orders domain.OrderStore, trades domain.TradeStore, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{
		engine: engine,
		orders: orders,
		trades: trades,
		logger: logger,
	}
}

type signalRequest struct {
	Action     string   `json:"action"`
	Symbol     string   `json:"symbol"`
	EntryPrice *float64 `json:"entry_price,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	Volume     float64  `json:"volume"`
	Strength   *float64 `json:"strength,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// ExecuteSignal fans a trading signal out to every active session.
// POST /trading/signal
func (h *TradingHandler) ExecuteSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sig := domain.Signal{
		Action:     domain.SignalAction(req.Action),
		Symbol:     req.Symbol,
		EntryPrice: req.EntryPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Volume:     req.Volume,
		Strength:   req.Strength,
		Reason:     req.Reason,
		CreatedAt:  time.Now().UTC(),
	}

	result, err := h.engine.Execute(r.Context(), sig)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "signal execution failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CloseAll closes every open position on every session regardless of symbol.
// POST /trading/close-all
func (h *TradingHandler) CloseAll(w http.ResponseWriter, r *http.Request) {
	sig := domain.Signal{
		Action:    domain.SignalCloseAll,
		Reason:    "manual close-all",
		CreatedAt: time.Now().UTC(),
	}

	result, err := h.engine.Execute(r.Context(), sig)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "close-all failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// orderView is the API shape of a managed order.
type orderView struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	UpstreamID *string    `json:"upstream_id,omitempty"`
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"`
	Type       string     `json:"type"`
	Quantity   float64    `json:"quantity"`
	EntryPrice float64    `json:"entry_price"`
	StopLoss   *float64   `json:"stop_loss,omitempty"`
	TakeProfit *float64   `json:"take_profit,omitempty"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// Positions returns all orders currently tracked as open.
// GET /trading/positions
func (h *TradingHandler) Positions(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOpen(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "list positions failed")
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView{
			ID:         o.ID,
			UserID:     o.UserID,
			UpstreamID: o.UpstreamID,
			Symbol:     o.Symbol,
			Side:       string(o.Side),
			Type:       string(o.Type),
			Quantity:   o.Quantity,
			EntryPrice: o.EntryPrice,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
			Status:     string(o.Status),
			Reason:     o.Reason,
			CreatedAt:  o.CreatedAt,
			ExecutedAt: o.ExecutedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"positions": views,
		"count":     len(views),
	})
}

// tradeView is the API shape of a completed trade.
type tradeView struct {
	ID                int64     `json:"id"`
	OrderID           int64     `json:"order_id"`
	UserID            int64     `json:"user_id"`
	Symbol            string    `json:"symbol"`
	Side              string    `json:"side"`
	EntryPrice        float64   `json:"entry_price"`
	ExitPrice         float64   `json:"exit_price"`
	Quantity          float64   `json:"quantity"`
	ProfitLoss        float64   `json:"profit_loss"`
	ProfitLossPercent *float64  `json:"profit_loss_percent,omitempty"`
	Commission        float64   `json:"commission"`
	DurationSeconds   int64     `json:"duration_seconds"`
	ExecutedAt        time.Time `json:"executed_at"`
	ClosedAt          time.Time `json:"closed_at"`
}

// Trades returns completed trades, newest first. Supports filtering by
// user_id, symbol, and today=true (midnight UTC cutoff).
// GET /trading/trades
func (h *TradingHandler) Trades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	filter := domain.TradeFilter{
		Symbol: q.Get("symbol"),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}

	if v := q.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		filter.UserID = &id
	}

	if q.Get("today") == "true" {
		now := time.Now().UTC()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		filter.Since = &midnight
	}

	trades, err := h.trades.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "list trades failed")
		return
	}

	views := make([]tradeView, 0, len(trades))
	var totalPL float64
	for _, t := range trades {
		totalPL += t.ProfitLoss
		views = append(views, tradeView{
			ID:                t.ID,
			OrderID:           t.OrderID,
			UserID:            t.UserID,
			Symbol:            t.Symbol,
			Side:              string(t.Side),
			EntryPrice:        t.EntryPrice,
			ExitPrice:         t.ExitPrice,
			Quantity:          t.Quantity,
			ProfitLoss:        t.ProfitLoss,
			ProfitLossPercent: t.ProfitLossPercent,
			Commission:        t.Commission,
			DurationSeconds:   t.DurationSeconds,
			ExecutedAt:        t.ExecutedAt,
			ClosedAt:          t.ClosedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trades":            views,
		"count":             len(views),
		"total_profit_loss": totalPL,
	})
}
