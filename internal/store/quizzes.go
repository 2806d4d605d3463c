package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// CreateQuiz inserts a quiz record. Request keys are unique: a second insert
// with the same key returns ErrDuplicateRequest so the caller can look up the
// earlier quiz instead.
func (s *Store) CreateQuiz(ctx context.Context, q *Quiz) error {
	if q.ID == "" {
		return errors.New("quiz id is required")
	}
	if q.RequestKey == "" {
		return errors.New("quiz request key is required")
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}

	questions, err := json.Marshal(q.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quizzes (id, source_type, source_ref, request_key, status, failure_reason, questions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, string(q.SourceType), q.SourceRef, q.RequestKey,
		string(q.Status), q.FailureReason, string(questions), q.CreatedAt.Unix())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("insert quiz: %w", err)
	}
	return nil
}

// GetQuiz returns the quiz with the given id, or ErrNotFound.
func (s *Store) GetQuiz(ctx context.Context, id string) (*Quiz, error) {
	return s.queryQuiz(ctx, `WHERE id = ?`, id)
}

// GetQuizByRequestKey returns the quiz created for a request key, or
// ErrNotFound.
func (s *Store) GetQuizByRequestKey(ctx context.Context, key string) (*Quiz, error) {
	return s.queryQuiz(ctx, `WHERE request_key = ?`, key)
}

// GetQuizByRequestID returns the quiz created for a request id, or
// ErrNotFound. Request keys are "<request_id>:<source>"; request ids are
// server-generated UUIDs, so the prefix identifies at most one quiz. The id
// still comes from the URL path, so LIKE metacharacters in it are escaped
// rather than trusted.
func (s *Store) GetQuizByRequestID(ctx context.Context, requestID string) (*Quiz, error) {
	return s.queryQuiz(ctx, `WHERE request_key LIKE ? ESCAPE '\'`, escapeLike(requestID)+":%")
}

// escapeLike neutralizes LIKE metacharacters so s matches only literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *Store) queryQuiz(ctx context.Context, where string, arg any) (*Quiz, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_type, source_ref, request_key, status, failure_reason, questions, created_at
		FROM quizzes `+where, arg)

	var (
		q          Quiz
		sourceType string
		status     string
		questions  string
		createdAt  int64
	)
	err := row.Scan(&q.ID, &sourceType, &q.SourceRef, &q.RequestKey,
		&status, &q.FailureReason, &questions, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query quiz: %w", err)
	}

	q.SourceType = SourceType(sourceType)
	q.Status = QuizStatus(status)
	q.CreatedAt = time.Unix(createdAt, 0).UTC()
	if err := json.Unmarshal([]byte(questions), &q.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	return &q, nil
}
