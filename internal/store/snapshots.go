package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// UpsertSnapshot replaces the snapshot for a document and bumps its version.
// The returned version is the one just written; versions only grow.
func (s *Store) UpsertSnapshot(ctx context.Context, documentID string, chunks []string) (int64, error) {
	data, err := json.Marshal(chunks)
	if err != nil {
		return 0, fmt.Errorf("marshal chunks: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM snapshots WHERE document_id = ?`, documentID).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query snapshot version: %w", err)
	}
	version++

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (document_id, chunks, version) VALUES (?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET chunks = excluded.chunks, version = excluded.version`,
		documentID, string(data), version)
	if err != nil {
		return 0, fmt.Errorf("upsert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return version, nil
}

// GetSnapshot returns the snapshot for a document, or ErrNotFound.
func (s *Store) GetSnapshot(ctx context.Context, documentID string) (*Snapshot, error) {
	var (
		snap   Snapshot
		chunks string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT document_id, chunks, version FROM snapshots WHERE document_id = ?`,
		documentID).Scan(&snap.DocumentID, &chunks, &snap.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(chunks), &snap.Chunks); err != nil {
		return nil, fmt.Errorf("unmarshal chunks: %w", err)
	}
	return &snap, nil
}
