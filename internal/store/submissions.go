package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateSubmission appends a graded submission for a quiz.
func (s *Store) CreateSubmission(ctx context.Context, sub *Submission) error {
	if sub.ID == "" {
		return errors.New("submission id is required")
	}
	if sub.QuizID == "" {
		return errors.New("submission quiz id is required")
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}

	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	details, err := json.Marshal(sub.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, quiz_id, answers, details, score, total, percentage, feedback, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.QuizID, string(answers), string(details),
		sub.Score, sub.Total, sub.Percentage, sub.Feedback, sub.SubmittedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// ListSubmissions returns all submissions for a quiz, oldest first.
func (s *Store) ListSubmissions(ctx context.Context, quizID string) ([]*Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quiz_id, answers, details, score, total, percentage, feedback, submitted_at
		FROM submissions WHERE quiz_id = ? ORDER BY submitted_at, id`, quizID)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		var (
			sub         Submission
			answers     string
			details     string
			submittedAt int64
		)
		if err := rows.Scan(&sub.ID, &sub.QuizID, &answers, &details,
			&sub.Score, &sub.Total, &sub.Percentage, &sub.Feedback, &submittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if err := json.Unmarshal([]byte(answers), &sub.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &sub.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
		sub.SubmittedAt = time.Unix(submittedAt, 0).UTC()
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}
