// Package event defines the topics and payload shapes exchanged over the bus.
//
// Every payload is a flat JSON object. Events for the same business entity
// are always published with that entity's id as the partition key, so the
// bus can guarantee their relative order.
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/studyd/internal/bus"
)

// Topics consumed and produced by the pipeline workers.
const (
	TopicDocumentUploaded  = "document.uploaded"
	TopicDocumentProcessed = "document.processed"
	TopicDocumentFailed    = "document.failed"
	TopicNotesGenerated    = "notes.generated"
	TopicQuizRequested     = "quiz.requested"
	TopicQuizGenerated     = "quiz.generated"
)

// DocumentUploaded announces a raw document waiting for ingestion.
type DocumentUploaded struct {
	DocumentID string `json:"document_id"`
	StorageKey string `json:"storage_key"`
	MimeType   string `json:"mime_type"`
}

// DocumentProcessed announces that extraction finished for a document.
type DocumentProcessed struct {
	DocumentID      string `json:"document_id"`
	ExtractedLength int    `json:"extracted_length"`
}

// DocumentFailed announces that extraction failed terminally.
type DocumentFailed struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}

// NotesGenerated announces that a notes summary blob was written.
type NotesGenerated struct {
	DocumentID string `json:"document_id"`
	NotesKey   string `json:"notes_key"`
}

// QuizRequested asks the generator for a quiz, either from a processed
// document or from a topic bank. Exactly one of DocumentID and Topic is
// normally set; an empty Topic falls back to the general bank.
type QuizRequested struct {
	RequestID    string `json:"request_id"`
	DocumentID   string `json:"document_id,omitempty"`
	Topic        string `json:"topic,omitempty"`
	NumQuestions int    `json:"num_questions"`
}

// QuizGenerated announces a persisted, ready quiz.
type QuizGenerated struct {
	QuizID        string `json:"quiz_id"`
	QuestionCount int    `json:"question_count"`
	Source        string `json:"source"`
}

// Publish marshals payload as JSON and publishes it on topic with the given
// partition key.
func Publish(ctx context.Context, b bus.Bus, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return b.Publish(ctx, topic, key, data)
}
