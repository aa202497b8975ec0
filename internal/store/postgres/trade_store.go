package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/traderops/backoffice/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, order_id, user_id, symbol, side, entry_price, exit_price,
	quantity, profit_loss, profit_loss_percent, commission, duration_seconds,
	executed_at, closed_at`

func scanTradeFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Trade, error) {
	var t domain.Trade
	var side string

	err := scanner.Scan(
		&t.ID, &t.OrderID, &t.UserID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice,
		&t.Quantity, &t.ProfitLoss, &t.ProfitLossPercent, &t.Commission, &t.DurationSeconds,
		&t.ExecutedAt, &t.ClosedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}

	t.Side = domain.OrderSide(side)
	return t, nil
}

// CloseOrder transitions the order to CLOSED and inserts the trade row in a
// single transaction. When upstreamID is non-nil and the order has none yet,
// the handle is backfilled as part of the same statement. Any failure rolls
// back both writes.
func (s *TradeStore) CloseOrder(ctx context.Context, orderID int64, upstreamID *string, t domain.Trade) (domain.Trade, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: close order %d: begin: %w", orderID, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'CLOSED', closed_at = $2,
		    upstream_id = COALESCE(upstream_id, $3)
		WHERE id = $1 AND status = 'OPEN'`,
		orderID, t.ClosedAt, upstreamID,
	)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: close order %d: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Trade{}, domain.ErrNotFound
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO trades (
			order_id, user_id, symbol, side, entry_price, exit_price,
			quantity, profit_loss, profit_loss_percent, commission,
			duration_seconds, executed_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+tradeSelectCols,
		orderID, t.UserID, t.Symbol, string(t.Side), t.EntryPrice, t.ExitPrice,
		t.Quantity, t.ProfitLoss, t.ProfitLossPercent, t.Commission,
		t.DurationSeconds, t.ExecutedAt, t.ClosedAt,
	)

	created, err := scanTradeFromRow(row)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: insert trade for order %d: %w", orderID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: close order %d: commit: %w", orderID, err)
	}
	return created, nil
}

// List returns trades matching the filter, newest first.
func (s *TradeStore) List(ctx context.Context, f domain.TradeFilter) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE TRUE`
	args := []any{}
	argIdx := 1

	if f.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, *f.UserID)
		argIdx++
	}
	if f.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, f.Symbol)
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	return scanTradeRows(rows)
}

// ListBefore returns trades closed strictly before the cutoff, used by the
// archive job.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeSelectCols+` FROM trades
		WHERE closed_at < $1
		ORDER BY closed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return scanTradeRows(rows)
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTradeFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trades: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
