package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/traderops/backoffice/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userSelectCols = `id, email, encrypted_password, broker_id, active, created_at, updated_at`

func scanUserFromRow(scanner interface{ Scan(dest ...any) error }) (domain.User, error) {
	var u domain.User
	err := scanner.Scan(
		&u.ID, &u.Email, &u.EncryptedPassword, &u.BrokerID,
		&u.Active, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

// Create inserts a new user and returns the stored row.
func (s *UserStore) Create(ctx context.Context, u domain.User) (domain.User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, encrypted_password, broker_id, active)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userSelectCols,
		u.Email, u.EncryptedPassword, u.BrokerID, u.Active,
	)

	created, err := scanUserFromRow(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: create user %s: %w", u.Email, err)
	}
	return created, nil
}

// GetByID retrieves a single user by id.
func (s *UserStore) GetByID(ctx context.Context, id int64) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE id = $1`, id)

	u, err := scanUserFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %d: %w", id, err)
	}
	return u, nil
}

// GetByEmail retrieves a single user by email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE email = $1`, email)

	u, err := scanUserFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user by email: %w", err)
	}
	return u, nil
}

// ListActive returns all users with active = true.
func (s *UserStore) ListActive(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUserFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active users: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
