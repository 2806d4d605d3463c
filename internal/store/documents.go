package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateDocument inserts a new document record in pending status. A zero
// CreatedAt is filled with the current time.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.Status == "" {
		doc.Status = DocumentPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, mime_type, storage_key, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.MimeType, doc.StorageKey, string(doc.Status), doc.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument returns the document with the given id, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, mime_type, storage_key, extracted_text,
		       extracted_length, status, failure_reason, created_at, processed_at
		FROM documents WHERE id = ?`, id)

	var (
		doc         Document
		status      string
		createdAt   int64
		processedAt sql.NullInt64
	)
	err := row.Scan(&doc.ID, &doc.Filename, &doc.MimeType, &doc.StorageKey,
		&doc.ExtractedText, &doc.ExtractedLength, &status, &doc.FailureReason,
		&createdAt, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}

	doc.Status = DocumentStatus(status)
	doc.CreatedAt = time.Unix(createdAt, 0).UTC()
	if processedAt.Valid {
		doc.ProcessedAt = time.Unix(processedAt.Int64, 0).UTC()
	}
	return &doc, nil
}

// MarkDocumentProcessed moves a pending document to processed and records the
// extracted text. Documents already in a terminal status are left untouched,
// which makes redelivered completions a no-op.
func (s *Store) MarkDocumentProcessed(ctx context.Context, id, extractedText string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET extracted_text = ?, extracted_length = ?, status = ?, processed_at = ?
		WHERE id = ? AND status = ?`,
		extractedText, len(extractedText), string(DocumentProcessed),
		time.Now().UTC().Unix(), id, string(DocumentPending))
	if err != nil {
		return fmt.Errorf("mark document processed: %w", err)
	}
	return s.checkTerminalUpdate(ctx, res, id)
}

// MarkDocumentFailed moves a pending document to failed with a reason.
// Documents already in a terminal status are left untouched.
func (s *Store) MarkDocumentFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, failure_reason = ?, processed_at = ?
		WHERE id = ? AND status = ?`,
		string(DocumentFailed), reason, time.Now().UTC().Unix(),
		id, string(DocumentPending))
	if err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	return s.checkTerminalUpdate(ctx, res, id)
}

// checkTerminalUpdate distinguishes "already terminal" (fine) from "no such
// document" (ErrNotFound) after a guarded status update matched zero rows.
func (s *Store) checkTerminalUpdate(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetDocument(ctx, id); err != nil {
		return err
	}
	return nil
}
