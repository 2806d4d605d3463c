package quiz

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/studyd/internal/store"
)

func newGraderFixture(t *testing.T) (*store.Store, *Grader) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "studyd.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	g, err := NewGrader(s, nil)
	require.NoError(t, err)
	return s, g
}

func readyQuiz(t *testing.T, s *store.Store) *store.Quiz {
	t.Helper()
	quiz := &store.Quiz{
		ID:         "q1",
		SourceType: store.SourceTopic,
		SourceRef:  "general",
		RequestKey: "r1:general",
		Status:     store.QuizReady,
		Questions: []store.Question{
			{ID: 1, Prompt: "p1", Options: []string{"right", "wrong"}, CorrectIndex: 0},
			{ID: 2, Prompt: "p2", Options: []string{"wrong", "right"}, CorrectIndex: 1},
			{ID: 3, Prompt: "p3", Options: []string{"right", "wrong"}, CorrectIndex: 0},
			{ID: 4, Prompt: "p4", Options: []string{"right", "wrong"}, CorrectIndex: 0},
			{ID: 5, Prompt: "p5", Options: []string{"right", "wrong"}, CorrectIndex: 0},
		},
	}
	require.NoError(t, s.CreateQuiz(context.Background(), quiz))
	return quiz
}

func TestGrader_ScoresAnswers(t *testing.T) {
	s, g := newGraderFixture(t)
	readyQuiz(t, s)
	ctx := context.Background()

	res, err := g.Grade(ctx, "q1", map[int]string{
		1: "right",
		2: "right",
		3: "wrong",
		4: "right",
		5: "right",
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Score)
	assert.Equal(t, 5, res.Total)
	assert.InDelta(t, 80.0, res.Percentage, 0.001)
	assert.Equal(t, "Excellent! Great performance!", res.Feedback)

	require.Len(t, res.Details, 5)
	assert.True(t, res.Details[0].Correct)
	assert.False(t, res.Details[2].Correct)

	// The graded submission is durable.
	subs, err := s.ListSubmissions(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, res.SubmissionID, subs[0].ID)
	assert.Equal(t, 4, subs[0].Score)
}

func TestGrader_MissingAnswersAreIncorrect(t *testing.T) {
	s, g := newGraderFixture(t)
	readyQuiz(t, s)

	res, err := g.Grade(context.Background(), "q1", map[int]string{1: "right"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Score)
	assert.Equal(t, 5, res.Total)
	require.Len(t, res.Details, 5, "every question gets a verdict")
	for _, d := range res.Details[1:] {
		assert.False(t, d.Correct)
		assert.Empty(t, d.Submitted)
	}
}

func TestGrader_UnknownQuestionIDsAreIgnored(t *testing.T) {
	s, g := newGraderFixture(t)
	readyQuiz(t, s)

	res, err := g.Grade(context.Background(), "q1", map[int]string{99: "right"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Score)
	assert.Len(t, res.Details, 5)
}

func TestGrader_RegradeAppendsSubmission(t *testing.T) {
	s, g := newGraderFixture(t)
	readyQuiz(t, s)
	ctx := context.Background()

	first, err := g.Grade(ctx, "q1", map[int]string{1: "right"})
	require.NoError(t, err)
	second, err := g.Grade(ctx, "q1", map[int]string{1: "wrong"})
	require.NoError(t, err)
	assert.NotEqual(t, first.SubmissionID, second.SubmissionID)

	subs, err := s.ListSubmissions(ctx, "q1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestGrader_QuizNotFound(t *testing.T) {
	_, g := newGraderFixture(t)
	_, err := g.Grade(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGrader_FailedQuizIsNotGradable(t *testing.T) {
	s, g := newGraderFixture(t)
	require.NoError(t, s.CreateQuiz(context.Background(), &store.Quiz{
		ID: "q1", SourceType: store.SourceDocument, SourceRef: "d1",
		RequestKey: "r1:d1", Status: store.QuizFailed, FailureReason: "not ready after 10 attempts",
	}))

	_, err := g.Grade(context.Background(), "q1", nil)
	assert.ErrorIs(t, err, ErrQuizNotReady)
}

func TestGrader_CancelledContextDoesNotPersist(t *testing.T) {
	s, g := newGraderFixture(t)
	readyQuiz(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Grade(ctx, "q1", map[int]string{1: "right"})
	require.Error(t, err)

	subs, lerr := s.ListSubmissions(context.Background(), "q1")
	require.NoError(t, lerr)
	assert.Empty(t, subs)
}

func TestFeedback_Bands(t *testing.T) {
	tests := []struct {
		percentage float64
		want       string
	}{
		{100, "Excellent! Great performance!"},
		{80, "Excellent! Great performance!"},
		{79.9, "Very good!"},
		{60, "Very good!"},
		{59.9, "Good, needs review."},
		{40, "Good, needs review."},
		{39.9, "Try again!"},
		{0, "Try again!"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Feedback(tt.percentage), "%.1f%%", tt.percentage)
	}
}
