package store

import "time"

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "pending"
	DocumentProcessed DocumentStatus = "processed"
	DocumentFailed    DocumentStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentProcessed || s == DocumentFailed
}

// Document is an uploaded document record, owned by the ingestion worker.
// Once Status is terminal the record is immutable.
type Document struct {
	ID              string
	Filename        string
	MimeType        string
	StorageKey      string
	ExtractedText   string
	ExtractedLength int
	Status          DocumentStatus
	FailureReason   string
	CreatedAt       time.Time
	ProcessedAt     time.Time // zero until the status is terminal
}

// Snapshot is the versioned, chat-consumable digest of a document's
// extracted text, owned by the knowledge indexer. It is overwritten on each
// apply; Version only grows, and consumers must tolerate gaps.
type Snapshot struct {
	DocumentID string
	Chunks     []string
	Version    int64
}

// QuizStatus is the generation state of a quiz record.
type QuizStatus string

const (
	QuizReady  QuizStatus = "ready"
	QuizFailed QuizStatus = "failed"
)

// SourceType says where a quiz's questions came from.
type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceTopic    SourceType = "topic"
)

// Question is one quiz question. IDs are unique within the quiz and stable
// across retries; CorrectIndex is always a valid index into Options.
type Question struct {
	ID           int      `json:"id"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation,omitempty"`
}

// Quiz is a generated quiz record, owned by the quiz generator. A ready quiz
// has at least one question.
type Quiz struct {
	ID            string
	SourceType    SourceType
	SourceRef     string
	RequestKey    string
	Status        QuizStatus
	FailureReason string
	Questions     []Question
	CreatedAt     time.Time
}

// QuestionResult is the graded outcome for one question.
type QuestionResult struct {
	QuestionID int    `json:"question_id"`
	Submitted  string `json:"submitted,omitempty"`
	Correct    bool   `json:"correct"`
}

// Submission is one graded answer set for a quiz. Submissions are
// append-only; regrading the same quiz creates a new record.
type Submission struct {
	ID          string
	QuizID      string
	Answers     map[int]string
	Details     []QuestionResult
	Score       int
	Total       int
	Percentage  float64
	Feedback    string
	SubmittedAt time.Time
}
