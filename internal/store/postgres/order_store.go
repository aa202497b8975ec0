package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/traderops/backoffice/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, user_id, upstream_id, symbol, side, order_type,
	quantity, entry_price, stop_loss, take_profit, status, reason,
	created_at, executed_at, closed_at`

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var side, orderType, status string

	err := scanner.Scan(
		&o.ID, &o.UserID, &o.UpstreamID, &o.Symbol, &side, &orderType,
		&o.Quantity, &o.EntryPrice, &o.StopLoss, &o.TakeProfit, &status, &o.Reason,
		&o.CreatedAt, &o.ExecutedAt, &o.ClosedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Create inserts a new order and returns the stored row with its id.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO orders (
			user_id, upstream_id, symbol, side, order_type,
			quantity, entry_price, stop_loss, take_profit, status, reason,
			created_at, executed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			COALESCE($12, NOW()), $13
		)
		RETURNING `+orderSelectCols,
		o.UserID, o.UpstreamID, o.Symbol, string(o.Side), string(o.Type),
		o.Quantity, o.EntryPrice, o.StopLoss, o.TakeProfit, string(o.Status), o.Reason,
		nullableTime(o.CreatedAt), o.ExecutedAt,
	)

	created, err := scanOrderFromRow(row)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: create order for user %d: %w", o.UserID, err)
	}
	return created, nil
}

// nullableTime maps the zero time to NULL so column defaults apply.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// GetByID retrieves a single order by id.
func (s *OrderStore) GetByID(ctx context.Context, id int64) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %d: %w", id, err)
	}
	return o, nil
}

// GetByUpstreamID retrieves the order holding the given broker handle.
func (s *OrderStore) GetByUpstreamID(ctx context.Context, upstreamID string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE upstream_id = $1`, upstreamID)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order by upstream id %s: %w", upstreamID, err)
	}
	return o, nil
}

// LatestOpen returns the most recent OPEN order for (userID, symbol).
// Ordering is created_at DESC with id DESC as the tie breaker.
func (s *OrderStore) LatestOpen(ctx context.Context, userID int64, symbol string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orderSelectCols+` FROM orders
		WHERE user_id = $1 AND symbol = $2 AND status = 'OPEN'
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, userID, symbol)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: latest open order for user %d %s: %w", userID, symbol, err)
	}
	return o, nil
}

// ListOpen returns all OPEN orders across users, newest first.
func (s *OrderStore) ListOpen(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE status = 'OPEN' ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open orders: %w", err)
	}
	return orders, nil
}

// ListOpenByUser returns the user's OPEN orders, newest first.
func (s *OrderStore) ListOpenByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderSelectCols+` FROM orders
		WHERE user_id = $1 AND status = 'OPEN'
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders for user %d: %w", userID, err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open orders for user %d: %w", userID, err)
	}
	return orders, nil
}

// ListClosedBefore returns orders closed strictly before the cutoff, used by
// the archive job.
func (s *OrderStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderSelectCols+` FROM orders
		WHERE status = 'CLOSED' AND closed_at < $1
		ORDER BY closed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed orders before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed orders: %w", err)
	}
	return orders, nil
}
