package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/traderops/backoffice/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalSelectCols = `id, action, symbol, entry_price, stop_loss, take_profit,
	strength, volume, reason, created_at`

func scanSignalFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Signal, error) {
	var sig domain.Signal
	var action string

	err := scanner.Scan(
		&sig.ID, &action, &sig.Symbol, &sig.EntryPrice, &sig.StopLoss, &sig.TakeProfit,
		&sig.Strength, &sig.Volume, &sig.Reason, &sig.CreatedAt,
	)
	if err != nil {
		return domain.Signal{}, err
	}

	sig.Action = domain.SignalAction(action)
	return sig, nil
}

func scanSignalRows(rows pgx.Rows) ([]domain.Signal, error) {
	var signals []domain.Signal
	for rows.Next() {
		sig, err := scanSignalFromRow(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// Insert stores a received signal for audit purposes.
func (s *SignalStore) Insert(ctx context.Context, sig domain.Signal) (domain.Signal, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO trading_signals (action, symbol, entry_price, stop_loss, take_profit, strength, volume, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+signalSelectCols,
		string(sig.Action), sig.Symbol, sig.EntryPrice, sig.StopLoss, sig.TakeProfit,
		sig.Strength, sig.Volume, sig.Reason,
	)

	created, err := scanSignalFromRow(row)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("postgres: insert signal %s %s: %w", sig.Action, sig.Symbol, err)
	}
	return created, nil
}

// List returns signals with pagination, newest first.
func (s *SignalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Signal, error) {
	query := `SELECT ` + signalSelectCols + ` FROM trading_signals ORDER BY created_at DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan signals: %w", err)
	}
	return signals, nil
}

// ListBefore returns signals created strictly before the cutoff, used by the
// archive job.
func (s *SignalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Signal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+signalSelectCols+` FROM trading_signals
		WHERE created_at < $1
		ORDER BY created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan signals: %w", err)
	}
	return signals, nil
}
