package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/traderops/backoffice/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new SessionStore backed by the given connection pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionSelectCols = `id, user_id, auth_token, trading_token, trading_account_id,
	active, login_at, expires_at, last_refresh_at`

func scanSessionFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Session, error) {
	var s domain.Session
	err := scanner.Scan(
		&s.ID, &s.UserID, &s.AuthToken, &s.TradingToken, &s.TradingAccountID,
		&s.Active, &s.LoginAt, &s.ExpiresAt, &s.LastRefreshAt,
	)
	return s, err
}

func scanSessionRows(rows pgx.Rows) ([]domain.Session, error) {
	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSessionFromRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Upsert stores a fresh login. When the user already has an active session
// the row is updated in place, keeping the one-active-per-user invariant;
// otherwise a new active row is inserted.
func (s *SessionStore) Upsert(ctx context.Context, sess domain.Session) (domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE user_sessions
		SET auth_token = $2, trading_token = $3, trading_account_id = $4,
		    login_at = $5, expires_at = $6, last_refresh_at = NULL
		WHERE user_id = $1 AND active
		RETURNING `+sessionSelectCols,
		sess.UserID, sess.AuthToken, sess.TradingToken, sess.TradingAccountID,
		sess.LoginAt, sess.ExpiresAt,
	)

	updated, err := scanSessionFromRow(row)
	if err == nil {
		return updated, nil
	}
	if err != pgx.ErrNoRows {
		return domain.Session{}, fmt.Errorf("postgres: update session for user %d: %w", sess.UserID, err)
	}

	row = s.pool.QueryRow(ctx, `
		INSERT INTO user_sessions (user_id, auth_token, trading_token, trading_account_id, active, login_at, expires_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6)
		RETURNING `+sessionSelectCols,
		sess.UserID, sess.AuthToken, sess.TradingToken, sess.TradingAccountID,
		sess.LoginAt, sess.ExpiresAt,
	)

	created, err := scanSessionFromRow(row)
	if err != nil {
		return domain.Session{}, fmt.Errorf("postgres: insert session for user %d: %w", sess.UserID, err)
	}
	return created, nil
}

// GetActive returns the user's active session, if any.
func (s *SessionStore) GetActive(ctx context.Context, userID int64) (domain.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionSelectCols+` FROM user_sessions WHERE user_id = $1 AND active`, userID)

	sess, err := scanSessionFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("postgres: get active session for user %d: %w", userID, err)
	}
	return sess, nil
}

// ListActive returns every active session.
func (s *SessionStore) ListActive(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionSelectCols+` FROM user_sessions WHERE active ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active sessions: %w", err)
	}
	defer rows.Close()

	sessions, err := scanSessionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active sessions: %w", err)
	}
	return sessions, nil
}

// List returns sessions (active and inactive) with pagination, newest first.
func (s *SessionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Session, error) {
	query := `SELECT ` + sessionSelectCols + ` FROM user_sessions ORDER BY login_at DESC`
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
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	sessions, err := scanSessionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan sessions: %w", err)
	}
	return sessions, nil
}

// UpdateTokens stores a refreshed token pair and the extended expiry.
func (s *SessionStore) UpdateTokens(ctx context.Context, id int64, authToken, tradingToken string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_sessions
		SET auth_token = $2, trading_token = $3, expires_at = $4, last_refresh_at = NOW()
		WHERE id = $1 AND active`,
		id, authToken, tradingToken, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update session tokens %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Deactivate marks the session inactive. Idempotent.
func (s *SessionStore) Deactivate(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deactivate session %d: %w", id, err)
	}
	return nil
}
