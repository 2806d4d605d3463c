package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "studyd.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("", nil)
	require.Error(t, err)
}

func TestStore_DocumentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &Document{
		ID:         "d1",
		Filename:   "notes.txt",
		MimeType:   "text/plain",
		StorageKey: "uploads/d1",
	}
	require.NoError(t, s.CreateDocument(ctx, doc))

	got, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, DocumentPending, got.Status)
	assert.Equal(t, "uploads/d1", got.StorageKey)
	assert.True(t, got.ProcessedAt.IsZero())
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, s.MarkDocumentProcessed(ctx, "d1", "hello world"))

	got, err = s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, DocumentProcessed, got.Status)
	assert.Equal(t, "hello world", got.ExtractedText)
	assert.Equal(t, 11, got.ExtractedLength)
	assert.False(t, got.ProcessedAt.IsZero())
}

func TestStore_TerminalDocumentIsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDocument(ctx, &Document{ID: "d1", StorageKey: "uploads/d1"}))
	require.NoError(t, s.MarkDocumentProcessed(ctx, "d1", "first"))

	// Redelivered completions must not rewrite a terminal record.
	require.NoError(t, s.MarkDocumentProcessed(ctx, "d1", "second"))
	require.NoError(t, s.MarkDocumentFailed(ctx, "d1", "late failure"))

	got, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, DocumentProcessed, got.Status)
	assert.Equal(t, "first", got.ExtractedText)
	assert.Empty(t, got.FailureReason)
}

func TestStore_MarkDocumentFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDocument(ctx, &Document{ID: "d1", StorageKey: "uploads/d1"}))
	require.NoError(t, s.MarkDocumentFailed(ctx, "d1", "unsupported type"))

	got, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, DocumentFailed, got.Status)
	assert.Equal(t, "unsupported type", got.FailureReason)
}

func TestStore_DocumentNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.MarkDocumentProcessed(ctx, "missing", "x"), ErrNotFound)
	assert.ErrorIs(t, s.MarkDocumentFailed(ctx, "missing", "x"), ErrNotFound)
}

func TestStore_SnapshotVersionsOnlyGrow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, err := s.UpsertSnapshot(ctx, "d1", []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	v2, err := s.UpsertSnapshot(ctx, "d1", []string{"gamma"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	snap, err := s.GetSnapshot(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma"}, snap.Chunks, "reapply must overwrite, not merge")
	assert.Equal(t, int64(2), snap.Version)
}

func TestStore_SnapshotNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSnapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_QuizRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	quiz := &Quiz{
		ID:         "q1",
		SourceType: SourceTopic,
		SourceRef:  "cloud",
		RequestKey: "r1:cloud",
		Status:     QuizReady,
		Questions: []Question{
			{ID: 1, Prompt: "What is object storage?", Options: []string{"a", "b", "c"}, CorrectIndex: 2},
		},
	}
	require.NoError(t, s.CreateQuiz(ctx, quiz))

	got, err := s.GetQuiz(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, QuizReady, got.Status)
	assert.Equal(t, SourceTopic, got.SourceType)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, 2, got.Questions[0].CorrectIndex)

	byKey, err := s.GetQuizByRequestKey(ctx, "r1:cloud")
	require.NoError(t, err)
	assert.Equal(t, "q1", byKey.ID)
}

func TestStore_DuplicateRequestKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateQuiz(ctx, &Quiz{
		ID: "q1", SourceType: SourceTopic, SourceRef: "general",
		RequestKey: "r1:general", Status: QuizReady,
	}))

	err := s.CreateQuiz(ctx, &Quiz{
		ID: "q2", SourceType: SourceTopic, SourceRef: "general",
		RequestKey: "r1:general", Status: QuizReady,
	})
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	// The first quiz stays reachable through the key.
	got, err := s.GetQuizByRequestKey(ctx, "r1:general")
	require.NoError(t, err)
	assert.Equal(t, "q1", got.ID)
}

func TestStore_GetQuizByRequestID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateQuiz(ctx, &Quiz{
		ID: "q1", SourceType: SourceTopic, SourceRef: "general",
		RequestKey: "ra1:general", Status: QuizReady,
	}))

	got, err := s.GetQuizByRequestID(ctx, "ra1")
	require.NoError(t, err)
	assert.Equal(t, "q1", got.ID)

	// The id comes from the URL path; LIKE metacharacters in it must match
	// literally, not as wildcards.
	for _, id := range []string{"r_1", "r%", "%", "ra1%"} {
		_, err := s.GetQuizByRequestID(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, "id %q must not wildcard-match", id)
	}
}

func TestStore_QuizNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetQuiz(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SubmissionsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateQuiz(ctx, &Quiz{
		ID: "q1", SourceType: SourceTopic, SourceRef: "general",
		RequestKey: "r1:general", Status: QuizReady,
	}))

	first := &Submission{
		ID:     "s1",
		QuizID: "q1",
		Answers: map[int]string{
			1: "a",
		},
		Details:     []QuestionResult{{QuestionID: 1, Submitted: "a", Correct: true}},
		Score:       1,
		Total:       1,
		Percentage:  100,
		Feedback:    "Excellent work!",
		SubmittedAt: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, s.CreateSubmission(ctx, first))

	second := &Submission{
		ID:      "s2",
		QuizID:  "q1",
		Answers: map[int]string{},
		Details: []QuestionResult{{QuestionID: 1, Correct: false}},
		Score:   0, Total: 1, Percentage: 0,
		Feedback: "Keep studying and try again.",
	}
	require.NoError(t, s.CreateSubmission(ctx, second))

	subs, err := s.ListSubmissions(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "s1", subs[0].ID)
	assert.Equal(t, "s2", subs[1].ID)
	assert.Equal(t, "a", subs[0].Answers[1])
	assert.True(t, subs[0].Details[0].Correct)
}

func TestStore_IdempotencyKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "document.processed:d1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Mark(ctx, "document.processed:d1"))
	require.NoError(t, s.Mark(ctx, "document.processed:d1"))

	seen, err = s.Seen(ctx, "document.processed:d1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.Seen(ctx, "document.uploaded:d1")
	require.NoError(t, err)
	assert.False(t, seen, "keys are namespaced by topic")
}

func TestMemoryBlobStore(t *testing.T) {
	b := NewMemoryBlobStore()
	ctx := context.Background()

	_, err := b.Get(ctx, "uploads/d1")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	require.NoError(t, b.Put(ctx, "uploads/d1", []byte("hello")))

	data, err := b.Get(ctx, "uploads/d1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// Mutating the returned slice must not touch the stored copy.
	data[0] = 'x'
	again, err := b.Get(ctx, "uploads/d1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), again)
}
