package store

import (
	"context"
	"fmt"
	"time"
)

// Seen reports whether an idempotency key was already marked processed.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processed_events WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query processed event: %w", err)
	}
	return n > 0, nil
}

// Mark records an idempotency key as processed. Marking the same key twice
// is a no-op.
func (s *Store) Mark(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_events (key, processed_at) VALUES (?, ?)`,
		key, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("mark processed event: %w", err)
	}
	return nil
}
