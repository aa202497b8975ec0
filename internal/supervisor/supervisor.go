// Package supervisor watches open positions across every live session and
// force-closes the ones that violate the holding policy.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/traderops/backoffice/internal/bus"
	"github.com/traderops/backoffice/internal/domain"
	"github.com/traderops/backoffice/internal/orchestrator"
	"github.com/traderops/backoffice/internal/upstream"
)

// Close reasons recorded on the resulting trades.
const (
	ReasonMaxHolding   = "max_holding"
	ReasonProfitTarget = "profit_target"
	ReasonLossCutoff   = "loss_cutoff"
)

// Config tunes the holding policy. Interval is consumed by the scheduler
// driving Tick; the supervisor itself has no loop, which guarantees ticks
// never overlap.
type Config struct {
	Interval     time.Duration
	MaxHolding   time.Duration
	ProfitTarget float64
	LossCutoff   float64
}

// DefaultConfig returns the standard policy: close after five minutes, on
// +100 profit, or on -50 loss.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Second,
		MaxHolding:   300 * time.Second,
		ProfitTarget: 100,
		LossCutoff:   -50,
	}
}

// TickSummary reports what one supervision pass saw and did.
type TickSummary struct {
	SessionsChecked  int `json:"sessions_checked"`
	PositionsChecked int `json:"positions_checked"`
	PositionsClosed  int `json:"positions_closed"`
	Errors           int `json:"errors"`
}

// Supervisor evaluates every open position against the holding policy.
type Supervisor struct {
	sessions orchestrator.SessionSource
	engine   *orchestrator.Engine
	client   upstream.Client
	orders   domain.OrderStore
	events   *bus.Bus
	alerter  orchestrator.Alerter
	cfg      Config
	logger   *slog.Logger
}

// New creates a supervisor. Zero config fields fall back to defaults;
// alerter may be nil.
func New(
	sessions orchestrator.SessionSource,
	engine *orchestrator.Engine,
	client upstream.Client,
	orders domain.OrderStore,
	events *bus.Bus,
	alerter orchestrator.Alerter,
	cfg Config,
	logger *slog.Logger,
) *Supervisor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxHolding <= 0 {
		cfg.MaxHolding = def.MaxHolding
	}
	if cfg.ProfitTarget == 0 {
		cfg.ProfitTarget = def.ProfitTarget
	}
	if cfg.LossCutoff == 0 {
		cfg.LossCutoff = def.LossCutoff
	}

	return &Supervisor{
		sessions: sessions,
		engine:   engine,
		client:   client,
		orders:   orders,
		events:   events,
		alerter:  alerter,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "supervisor")),
	}
}

// Interval returns the configured tick cadence for the scheduler.
func (s *Supervisor) Interval() time.Duration {
	return s.cfg.Interval
}

// Tick runs one supervision pass over every live session. Per-position
// failures are counted, logged, and never abort the pass.
func (s *Supervisor) Tick(ctx context.Context) (TickSummary, error) {
	var summary TickSummary
	now := time.Now().UTC()

	for _, cached := range s.sessions.Snapshot() {
		summary.SessionsChecked++

		auth := upstream.Auth{AuthToken: cached.AuthToken, TradingToken: cached.TradingToken}
		positions, err := s.client.ListOpenPositions(ctx, auth)
		if err != nil {
			summary.Errors++
			s.logger.WarnContext(ctx, "position listing failed",
				slog.Int64("user_id", cached.UserID),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, pos := range positions {
			summary.PositionsChecked++

			order, err := s.resolveOrder(ctx, cached.UserID, pos)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					s.logger.WarnContext(ctx, "unmanaged upstream position",
						slog.Int64("user_id", cached.UserID),
						slog.String("upstream_id", pos.UpstreamID),
						slog.String("symbol", pos.Symbol),
					)
				} else {
					summary.Errors++
				}
				continue
			}

			reason, violated := s.evaluate(order, pos, now)
			if !violated {
				continue
			}

			if err := s.close(ctx, cached, pos, reason); err != nil {
				summary.Errors++
				s.logger.WarnContext(ctx, "forced close failed",
					slog.Int64("user_id", cached.UserID),
					slog.String("upstream_id", pos.UpstreamID),
					slog.String("reason", reason),
					slog.String("error", err.Error()),
				)
				continue
			}
			summary.PositionsClosed++
		}
	}

	openNow := summary.PositionsChecked - summary.PositionsClosed
	s.events.PublishPositionsCount(ctx, map[string]any{
		"open":       openNow,
		"checked_at": now.Format(time.RFC3339),
	})

	if summary.PositionsClosed > 0 || summary.Errors > 0 {
		s.logger.InfoContext(ctx, "supervision pass finished",
			slog.Int("sessions", summary.SessionsChecked),
			slog.Int("positions", summary.PositionsChecked),
			slog.Int("closed", summary.PositionsClosed),
			slog.Int("errors", summary.Errors),
		)
	}
	return summary, nil
}

// resolveOrder maps an upstream position to its local order, trying the
// broker handle first and falling back to the newest OPEN order for the
// same user and symbol.
func (s *Supervisor) resolveOrder(ctx context.Context, userID int64, pos upstream.Position) (domain.Order, error) {
	order, err := s.orders.GetByUpstreamID(ctx, pos.UpstreamID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, fmt.Errorf("supervisor: resolve order %s: %w", pos.UpstreamID, err)
	}
	return s.orders.LatestOpen(ctx, userID, pos.Symbol)
}

// evaluate applies the holding policy. Holding time wins over profit, profit
// over loss, so a stale winner is recorded as a max-holding close.
func (s *Supervisor) evaluate(order domain.Order, pos upstream.Position, now time.Time) (string, bool) {
	openedAt := order.CreatedAt
	if order.ExecutedAt != nil {
		openedAt = *order.ExecutedAt
	}

	switch {
	case now.Sub(openedAt) >= s.cfg.MaxHolding:
		return ReasonMaxHolding, true
	case pos.CurrentProfit >= s.cfg.ProfitTarget:
		return ReasonProfitTarget, true
	case pos.CurrentProfit <= s.cfg.LossCutoff:
		return ReasonLossCutoff, true
	}
	return "", false
}

func (s *Supervisor) close(ctx context.Context, cached domain.CachedSession, pos upstream.Position, reason string) error {
	auth := upstream.Auth{AuthToken: cached.AuthToken, TradingToken: cached.TradingToken}

	closed, err := s.client.ClosePosition(ctx, auth, pos.UpstreamID)
	if err != nil {
		return fmt.Errorf("supervisor: close position %s: %w", pos.UpstreamID, err)
	}

	trade, err := s.engine.RecordTrade(ctx, cached.UserID, pos, closed, reason)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "position force-closed",
		slog.Int64("user_id", cached.UserID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", reason),
		slog.Float64("profit_loss", trade.ProfitLoss),
	)

	if s.alerter != nil {
		s.alerter.Alert(ctx, "position_closed",
			fmt.Sprintf("%s closed for user %d (%s): P&L %.2f", pos.Symbol, cached.UserID, reason, trade.ProfitLoss))
	}
	return nil
}
