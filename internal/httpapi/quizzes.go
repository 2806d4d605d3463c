package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/studyd/internal/event"
	"github.com/fyrsmithlabs/studyd/internal/quiz"
	"github.com/fyrsmithlabs/studyd/internal/store"
)

// QuizRequestBody is the request body for POST /api/v1/quizzes.
type QuizRequestBody struct {
	DocumentID   string `json:"document_id,omitempty"`
	Topic        string `json:"topic,omitempty"`
	NumQuestions int    `json:"num_questions,omitempty"`
}

// QuizRequestResponse acknowledges an accepted quiz request.
type QuizRequestResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// handleRequestQuiz publishes a quiz request. Generation is asynchronous;
// the client polls the request id.
func (s *Server) handleRequestQuiz(c echo.Context) error {
	var body QuizRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.DocumentID != "" && body.Topic != "" {
		return echo.NewHTTPError(http.StatusBadRequest, "set document_id or topic, not both")
	}
	if body.NumQuestions < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "num_questions must not be negative")
	}

	ctx := c.Request().Context()

	// Reject unknown documents up front; the async path would only learn it
	// from the dead-letter topic.
	if body.DocumentID != "" {
		if _, err := s.store.GetDocument(ctx, body.DocumentID); errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		} else if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to load document")
		}
	}

	requestID := uuid.NewString()
	key := body.DocumentID
	if key == "" {
		key = body.Topic
		if key == "" {
			key = quiz.GeneralTopic
		}
	}

	if err := event.Publish(ctx, s.bus, event.TopicQuizRequested, key, event.QuizRequested{
		RequestID:    requestID,
		DocumentID:   body.DocumentID,
		Topic:        body.Topic,
		NumQuestions: body.NumQuestions,
	}); err != nil {
		s.logger.Error("failed to publish quiz request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to enqueue quiz request")
	}

	return c.JSON(http.StatusAccepted, QuizRequestResponse{
		RequestID: requestID,
		Status:    "pending",
	})
}

// QuestionView is a question with the answer withheld.
type QuestionView struct {
	ID      int      `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

// QuizResponse is the API view of a quiz. Correct answers and explanations
// never leave the server before grading.
type QuizResponse struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Source        string         `json:"source"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Questions     []QuestionView `json:"questions,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

func quizResponse(q *store.Quiz) QuizResponse {
	resp := QuizResponse{
		ID:            q.ID,
		Status:        string(q.Status),
		Source:        string(q.SourceType) + ":" + q.SourceRef,
		FailureReason: q.FailureReason,
		CreatedAt:     q.CreatedAt,
	}
	for _, question := range q.Questions {
		resp.Questions = append(resp.Questions, QuestionView{
			ID:      question.ID,
			Prompt:  question.Prompt,
			Options: question.Options,
		})
	}
	return resp
}

func (s *Server) handleGetQuiz(c echo.Context) error {
	q, err := s.store.GetQuiz(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "quiz not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load quiz")
	}
	return c.JSON(http.StatusOK, quizResponse(q))
}

// handleGetQuizRequest resolves a request id to its quiz. 404 means the
// request is still in flight (or never existed).
func (s *Server) handleGetQuizRequest(c echo.Context) error {
	q, err := s.store.GetQuizByRequestID(c.Request().Context(), c.Param("request_id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "quiz not generated yet")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load quiz")
	}
	return c.JSON(http.StatusOK, quizResponse(q))
}

// SubmitRequest is the request body for POST /quizzes/:id/submissions.
type SubmitRequest struct {
	Answers map[int]string `json:"answers"`
}

func (s *Server) handleSubmitAnswers(c echo.Context) error {
	var body SubmitRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Answers == nil {
		body.Answers = map[int]string{}
	}

	result, err := s.grader.Grade(c.Request().Context(), c.Param("id"), body.Answers)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "quiz not found")
	}
	if errors.Is(err, quiz.ErrQuizNotReady) {
		return echo.NewHTTPError(http.StatusConflict, "quiz generation failed")
	}
	if err != nil {
		s.logger.Error("failed to grade submission", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to grade submission")
	}
	return c.JSON(http.StatusOK, result)
}

// SubmissionView is the API view of a stored submission.
type SubmissionView struct {
	ID          string                 `json:"id"`
	Details     []store.QuestionResult `json:"details"`
	Score       int                    `json:"score"`
	Total       int                    `json:"total"`
	Percentage  float64                `json:"percentage"`
	Feedback    string                 `json:"feedback"`
	SubmittedAt time.Time              `json:"submitted_at"`
}

func (s *Server) handleListSubmissions(c echo.Context) error {
	ctx := c.Request().Context()
	quizID := c.Param("id")

	if _, err := s.store.GetQuiz(ctx, quizID); errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "quiz not found")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load quiz")
	}

	subs, err := s.store.ListSubmissions(ctx, quizID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load submissions")
	}

	views := make([]SubmissionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, SubmissionView{
			ID:          sub.ID,
			Details:     sub.Details,
			Score:       sub.Score,
			Total:       sub.Total,
			Percentage:  sub.Percentage,
			Feedback:    sub.Feedback,
			SubmittedAt: sub.SubmittedAt,
		})
	}
	return c.JSON(http.StatusOK, views)
}
