package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/traderops/backoffice/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountSelectCols = `id, user_id, trading_account_id, balance, equity, margin, free_margin, updated_at`

func scanAccountFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Account, error) {
	var a domain.Account
	err := scanner.Scan(
		&a.ID, &a.UserID, &a.TradingAccountID,
		&a.Balance, &a.Equity, &a.Margin, &a.FreeMargin, &a.UpdatedAt,
	)
	return a, err
}

// Upsert stores the latest balance snapshot for the user, one row per user.
func (s *AccountStore) Upsert(ctx context.Context, a domain.Account) (domain.Account, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, trading_account_id, balance, equity, margin, free_margin, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET trading_account_id = EXCLUDED.trading_account_id,
		    balance = EXCLUDED.balance,
		    equity = EXCLUDED.equity,
		    margin = EXCLUDED.margin,
		    free_margin = EXCLUDED.free_margin,
		    updated_at = NOW()
		RETURNING `+accountSelectCols,
		a.UserID, a.TradingAccountID, a.Balance, a.Equity, a.Margin, a.FreeMargin,
	)

	stored, err := scanAccountFromRow(row)
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: upsert account for user %d: %w", a.UserID, err)
	}
	return stored, nil
}

// GetByUser returns the user's latest balance snapshot.
func (s *AccountStore) GetByUser(ctx context.Context, userID int64) (domain.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE user_id = $1`, userID)

	a, err := scanAccountFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account for user %d: %w", userID, err)
	}
	return a, nil
}
