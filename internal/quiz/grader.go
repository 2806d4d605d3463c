package quiz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/studyd/internal/store"
)

// ErrQuizNotReady is returned when answers are submitted against a quiz
// whose generation failed.
var ErrQuizNotReady = errors.New("quiz is not ready")

// Result is one graded submission.
type Result struct {
	SubmissionID string                 `json:"submission_id"`
	QuizID       string                 `json:"quiz_id"`
	Details      []store.QuestionResult `json:"details"`
	Score        int                    `json:"score"`
	Total        int                    `json:"total"`
	Percentage   float64                `json:"percentage"`
	Feedback     string                 `json:"feedback"`
	SubmittedAt  time.Time              `json:"submitted_at"`
}

// Grader scores submitted answers against stored quizzes.
type Grader struct {
	store  *store.Store
	logger *zap.Logger
}

// NewGrader creates a grader.
func NewGrader(s *store.Store, logger *zap.Logger) (*Grader, error) {
	if s == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Grader{store: s, logger: logger}, nil
}

// Grade scores answers against the quiz, persists the submission, and
// returns the result. Unanswered questions count as incorrect; answers for
// unknown question ids are ignored. Missing quizzes surface as
// store.ErrNotFound.
func (g *Grader) Grade(ctx context.Context, quizID string, answers map[int]string) (*Result, error) {
	quiz, err := g.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.Status != store.QuizReady {
		return nil, fmt.Errorf("%w: %s", ErrQuizNotReady, quiz.FailureReason)
	}

	score := 0
	details := make([]store.QuestionResult, 0, len(quiz.Questions))
	for _, q := range quiz.Questions {
		submitted, answered := answers[q.ID]
		correct := answered && submitted == q.Options[q.CorrectIndex]
		if correct {
			score++
		}
		details = append(details, store.QuestionResult{
			QuestionID: q.ID,
			Submitted:  submitted,
			Correct:    correct,
		})
	}

	total := len(quiz.Questions)
	percentage := 0.0
	if total > 0 {
		percentage = float64(score) / float64(total) * 100
	}

	// A cancelled request must not leave a half-recorded grade behind.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &store.Submission{
		ID:          uuid.NewString(),
		QuizID:      quiz.ID,
		Answers:     answers,
		Details:     details,
		Score:       score,
		Total:       total,
		Percentage:  percentage,
		Feedback:    Feedback(percentage),
		SubmittedAt: time.Now().UTC(),
	}
	if err := g.store.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("persist submission: %w", err)
	}

	g.logger.Info("quiz graded",
		zap.String("quiz_id", quiz.ID),
		zap.String("submission_id", sub.ID),
		zap.Int("score", score),
		zap.Int("total", total))

	return &Result{
		SubmissionID: sub.ID,
		QuizID:       quiz.ID,
		Details:      details,
		Score:        score,
		Total:        total,
		Percentage:   percentage,
		Feedback:     sub.Feedback,
		SubmittedAt:  sub.SubmittedAt,
	}, nil
}

// Feedback maps a percentage score onto its encouragement band.
func Feedback(percentage float64) string {
	switch {
	case percentage >= 80:
		return "Excellent! Great performance!"
	case percentage >= 60:
		return "Very good!"
	case percentage >= 40:
		return "Good, needs review."
	default:
		return "Try again!"
	}
}
