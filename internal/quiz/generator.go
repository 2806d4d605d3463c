package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/studyd/internal/bus"
	"github.com/fyrsmithlabs/studyd/internal/event"
	"github.com/fyrsmithlabs/studyd/internal/pipeline"
	"github.com/fyrsmithlabs/studyd/internal/store"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/studyd/internal/quiz"

	consumerGroup = "quizgen"

	defaultNumQuestions = 5
)

// Generator consumes quiz requests and persists exactly one quiz per
// request.
type Generator struct {
	store      *store.Store
	bus        bus.Bus
	dispatcher *pipeline.Dispatcher
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewGenerator creates the quiz generation worker.
func NewGenerator(s *store.Store, b bus.Bus, d *pipeline.Dispatcher, logger *zap.Logger) (*Generator, error) {
	if s == nil {
		return nil, errors.New("store is required")
	}
	if b == nil {
		return nil, errors.New("bus is required")
	}
	if d == nil {
		return nil, errors.New("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		store:      s,
		bus:        b,
		dispatcher: d,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
	}, nil
}

// Run subscribes the generator to the request topic. When a document-sourced
// request exhausts its not-ready budget, the exhausted hook records a failed
// quiz before the message is dead-lettered, so the request id stays
// resolvable.
func (g *Generator) Run(ctx context.Context) error {
	return g.bus.Subscribe(ctx, event.TopicQuizRequested, consumerGroup,
		g.dispatcher.Wrap(g.handle,
			pipeline.WithIdempotencyKey(requestIdempotencyKey),
			pipeline.WithExhaustedHook(g.exhausted)))
}

// requestIdempotencyKey keys dedup on the request key, not the partition key.
// Requests are partitioned by document or topic so that many distinct
// requests share a partition; keying on the partition would suppress every
// request for a source after the first one.
func requestIdempotencyKey(msg *bus.Message) string {
	req, err := decodeRequest(msg.Payload)
	if err != nil {
		// Undecodable payloads reach the handler, which dead-letters them.
		return pipeline.Key(msg.Topic, msg.Key)
	}
	_, sourceRef := requestSource(req)
	return pipeline.Key(msg.Topic, RequestKey(req.RequestID, sourceRef))
}

func (g *Generator) handle(ctx context.Context, msg *bus.Message) error {
	ctx, span := g.tracer.Start(ctx, "quiz.generate")
	defer span.End()

	req, err := decodeRequest(msg.Payload)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("request.id", req.RequestID))

	sourceType, sourceRef := requestSource(req)
	requestKey := RequestKey(req.RequestID, sourceRef)

	// Redeliveries after a crash between persist and acknowledgement find
	// the quiz already there; re-announce instead of regenerating.
	existing, err := g.store.GetQuizByRequestKey(ctx, requestKey)
	if err == nil {
		return g.announce(ctx, existing)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return pipeline.Transient(err)
	}

	var questions []store.Question
	seed := Seed(sourceRef, req.NumQuestions, req.RequestID)

	switch sourceType {
	case store.SourceDocument:
		questions, err = g.fromDocument(ctx, req, seed)
		if err != nil {
			return err
		}
		if questions == nil {
			// Terminal document failure was already recorded as a failed
			// quiz inside fromDocument.
			return nil
		}
	default:
		questions = FromBank(sourceRef, req.NumQuestions, seed)
	}

	quiz := &store.Quiz{
		ID:         uuid.NewString(),
		SourceType: sourceType,
		SourceRef:  sourceRef,
		RequestKey: requestKey,
		Status:     store.QuizReady,
		Questions:  questions,
	}
	if err := g.store.CreateQuiz(ctx, quiz); err != nil {
		if errors.Is(err, store.ErrDuplicateRequest) {
			// Lost a race against another instance; theirs wins.
			existing, gerr := g.store.GetQuizByRequestKey(ctx, requestKey)
			if gerr != nil {
				return pipeline.Transient(gerr)
			}
			return g.announce(ctx, existing)
		}
		return pipeline.Transient(err)
	}

	g.logger.Info("quiz generated",
		zap.String("quiz_id", quiz.ID),
		zap.String("request_id", req.RequestID),
		zap.String("source", sourceLabel(sourceType, sourceRef)),
		zap.Int("questions", len(quiz.Questions)))
	return g.announce(ctx, quiz)
}

// fromDocument builds questions from a document's snapshot. A nil slice with
// a nil error means the document failed terminally and a failed quiz was
// recorded.
func (g *Generator) fromDocument(ctx context.Context, req *event.QuizRequested, seed int64) ([]store.Question, error) {
	snap, err := g.store.GetSnapshot(ctx, req.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, g.snapshotMissing(ctx, req)
	}
	if err != nil {
		return nil, pipeline.Transient(err)
	}

	questions := FromText(strings.Join(snap.Chunks, " "), req.NumQuestions, seed)
	if len(questions) == 0 {
		// Too little text to work with; a ready quiz is never empty.
		questions = FromBank(GeneralTopic, req.NumQuestions, seed)
	}
	return questions, nil
}

// snapshotMissing decides what a missing snapshot means by looking at the
// document record.
func (g *Generator) snapshotMissing(ctx context.Context, req *event.QuizRequested) error {
	doc, err := g.store.GetDocument(ctx, req.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return pipeline.Malformed(fmt.Errorf("unknown document %q", req.DocumentID))
	}
	if err != nil {
		return pipeline.Transient(err)
	}
	if doc.Status == store.DocumentFailed {
		g.recordFailed(ctx, req, fmt.Sprintf("document %s failed: %s", doc.ID, doc.FailureReason))
		return nil
	}
	return pipeline.NotReadyf("snapshot for document %q not yet available", req.DocumentID)
}

// exhausted persists a failed quiz when the not-ready budget runs out, so
// the request resolves to a queryable failure instead of vanishing into the
// dead-letter topic.
func (g *Generator) exhausted(ctx context.Context, msg *bus.Message, cause error) {
	req, err := decodeRequest(msg.Payload)
	if err != nil {
		g.logger.Error("cannot record exhausted request", zap.Error(err))
		return
	}
	g.recordFailed(ctx, req, cause.Error())
}

func (g *Generator) recordFailed(ctx context.Context, req *event.QuizRequested, reason string) {
	sourceType, sourceRef := requestSource(req)

	err := g.store.CreateQuiz(ctx, &store.Quiz{
		ID:            uuid.NewString(),
		SourceType:    sourceType,
		SourceRef:     sourceRef,
		RequestKey:    RequestKey(req.RequestID, sourceRef),
		Status:        store.QuizFailed,
		FailureReason: reason,
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateRequest) {
		g.logger.Error("failed to record failed quiz",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
		return
	}
	g.logger.Warn("quiz request failed",
		zap.String("request_id", req.RequestID),
		zap.String("reason", reason))
}

// announce publishes quiz.generated for a ready quiz. Failed quizzes are
// queryable but never announced.
func (g *Generator) announce(ctx context.Context, quiz *store.Quiz) error {
	if quiz.Status != store.QuizReady {
		return nil
	}
	return event.Publish(ctx, g.bus, event.TopicQuizGenerated, quiz.ID, event.QuizGenerated{
		QuizID:        quiz.ID,
		QuestionCount: len(quiz.Questions),
		Source:        sourceLabel(quiz.SourceType, quiz.SourceRef),
	})
}

func decodeRequest(payload []byte) (*event.QuizRequested, error) {
	var req event.QuizRequested
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, pipeline.Malformed(fmt.Errorf("decode quiz request: %w", err))
	}
	if req.RequestID == "" {
		return nil, pipeline.Malformedf("quiz request missing request_id")
	}
	if req.NumQuestions <= 0 {
		req.NumQuestions = defaultNumQuestions
	}
	return &req, nil
}

func requestSource(req *event.QuizRequested) (store.SourceType, string) {
	if req.DocumentID != "" {
		return store.SourceDocument, req.DocumentID
	}
	topic := req.Topic
	if topic == "" {
		topic = GeneralTopic
	}
	return store.SourceTopic, topic
}

func sourceLabel(t store.SourceType, ref string) string {
	return string(t) + ":" + ref
}

// RequestKey is the uniqueness key tying a quiz to the request that created
// it.
func RequestKey(requestID, sourceRef string) string {
	return requestID + ":" + sourceRef
}
