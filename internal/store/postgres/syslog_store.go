package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/traderops/backoffice/internal/domain"
)

// SystemLogStore implements domain.SystemLogStore using PostgreSQL.
type SystemLogStore struct {
	pool *pgxpool.Pool
}

// NewSystemLogStore creates a new SystemLogStore backed by the given connection pool.
func NewSystemLogStore(pool *pgxpool.Pool) *SystemLogStore {
	return &SystemLogStore{pool: pool}
}

// Log records a system event. Detail may be nil.
func (s *SystemLogStore) Log(ctx context.Context, level, component, message string, detail map[string]any) error {
	var detailJSON []byte
	if detail != nil {
		var err error
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("postgres: marshal log detail: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_logs (level, component, message, detail)
		VALUES ($1, $2, $3, $4)`,
		level, component, message, detailJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert system log: %w", err)
	}
	return nil
}

// ListRecent returns the most recent system log entries, newest first.
func (s *SystemLogStore) ListRecent(ctx context.Context, limit int) ([]domain.SystemLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, level, component, message, detail, created_at
		FROM system_logs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list system logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.SystemLog
	for rows.Next() {
		var entry domain.SystemLog
		var detailJSON []byte
		if err := rows.Scan(&entry.ID, &entry.Level, &entry.Component, &entry.Message, &detailJSON, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan system log: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &entry.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode log detail %d: %w", entry.ID, err)
			}
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
