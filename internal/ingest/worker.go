// Package ingest consumes uploaded documents, extracts their text, and
// moves each document record to a terminal status exactly once.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/studyd/internal/bus"
	"github.com/fyrsmithlabs/studyd/internal/event"
	"github.com/fyrsmithlabs/studyd/internal/extract"
	"github.com/fyrsmithlabs/studyd/internal/pipeline"
	"github.com/fyrsmithlabs/studyd/internal/store"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/studyd/internal/ingest"

	// consumerGroup is shared by all ingestion instances so each upload is
	// processed by exactly one of them.
	consumerGroup = "ingest"

	// notesLimit caps the notes summary written alongside extraction.
	notesLimit = 500
)

// Worker is the ingestion consumer.
type Worker struct {
	store      *store.Store
	blobs      store.BlobStore
	bus        bus.Bus
	extractors *extract.Registry
	dispatcher *pipeline.Dispatcher
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewWorker creates the ingestion worker. All dependencies except the logger
// are required.
func NewWorker(s *store.Store, blobs store.BlobStore, b bus.Bus, d *pipeline.Dispatcher, logger *zap.Logger) (*Worker, error) {
	if s == nil {
		return nil, errors.New("store is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
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

	return &Worker{
		store:      s,
		blobs:      blobs,
		bus:        b,
		extractors: extract.NewRegistry(),
		dispatcher: d,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
	}, nil
}

// Run subscribes the worker to the upload topic. Delivery stops when ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.bus.Subscribe(ctx, event.TopicDocumentUploaded, consumerGroup, w.dispatcher.Wrap(w.handle))
}

func (w *Worker) handle(ctx context.Context, msg *bus.Message) error {
	ctx, span := w.tracer.Start(ctx, "ingest.handle")
	defer span.End()

	var evt event.DocumentUploaded
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return pipeline.Malformed(fmt.Errorf("decode upload event: %w", err))
	}
	if evt.DocumentID == "" {
		return pipeline.Malformedf("upload event missing document_id")
	}
	span.SetAttributes(attribute.String("document.id", evt.DocumentID))

	doc, err := w.store.GetDocument(ctx, evt.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return pipeline.Malformed(fmt.Errorf("unknown document %q", evt.DocumentID))
	}
	if err != nil {
		return pipeline.Transient(err)
	}

	// A redelivery after a crash between effect and acknowledgement lands
	// here with the record already terminal. Re-announce the outcome so
	// downstream consumers are guaranteed to hear it, and stop.
	if doc.Status.Terminal() {
		return w.announce(ctx, doc)
	}

	data, err := w.blobs.Get(ctx, doc.StorageKey)
	if errors.Is(err, store.ErrBlobNotFound) {
		return w.fail(ctx, doc.ID, fmt.Sprintf("uploaded bytes missing at %q", doc.StorageKey))
	}
	if err != nil {
		return pipeline.Transient(fmt.Errorf("fetch upload: %w", err))
	}

	text, err := w.extractors.Extract(ctx, data, doc.MimeType)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedType) || errors.Is(err, extract.ErrEmptyDocument) {
			return w.fail(ctx, doc.ID, err.Error())
		}
		return pipeline.Transient(fmt.Errorf("extract text: %w", err))
	}

	if err := w.store.MarkDocumentProcessed(ctx, doc.ID, text); err != nil {
		return pipeline.Transient(err)
	}

	w.writeNotes(ctx, doc.ID, text)

	w.logger.Info("document processed",
		zap.String("document_id", doc.ID),
		zap.Int("extracted_length", len(text)))
	return event.Publish(ctx, w.bus, event.TopicDocumentProcessed, doc.ID, event.DocumentProcessed{
		DocumentID:      doc.ID,
		ExtractedLength: len(text),
	})
}

// fail records a terminal extraction failure and announces it. The message
// itself is consumed successfully; the failure lives in the record and on
// the failed topic, not in the DLQ.
func (w *Worker) fail(ctx context.Context, documentID, reason string) error {
	if err := w.store.MarkDocumentFailed(ctx, documentID, reason); err != nil {
		return pipeline.Transient(err)
	}
	w.logger.Warn("document failed",
		zap.String("document_id", documentID),
		zap.String("reason", reason))
	return event.Publish(ctx, w.bus, event.TopicDocumentFailed, documentID, event.DocumentFailed{
		DocumentID: documentID,
		Reason:     reason,
	})
}

// announce republishes the completion event for an already-terminal record.
func (w *Worker) announce(ctx context.Context, doc *store.Document) error {
	w.logger.Debug("document already terminal, re-announcing",
		zap.String("document_id", doc.ID),
		zap.String("status", string(doc.Status)))

	if doc.Status == store.DocumentFailed {
		return event.Publish(ctx, w.bus, event.TopicDocumentFailed, doc.ID, event.DocumentFailed{
			DocumentID: doc.ID,
			Reason:     doc.FailureReason,
		})
	}
	return event.Publish(ctx, w.bus, event.TopicDocumentProcessed, doc.ID, event.DocumentProcessed{
		DocumentID:      doc.ID,
		ExtractedLength: doc.ExtractedLength,
	})
}

// writeNotes stores a short preview of the extracted text and announces it.
// Notes are a convenience artifact; failures are logged, never fatal.
func (w *Worker) writeNotes(ctx context.Context, documentID, text string) {
	notes := text
	if runes := []rune(notes); len(runes) > notesLimit {
		notes = string(runes[:notesLimit])
	}
	key := "notes/" + documentID + ".txt"

	if err := w.blobs.Put(ctx, key, []byte(notes)); err != nil {
		w.logger.Warn("failed to write notes blob",
			zap.String("document_id", documentID),
			zap.Error(err))
		return
	}
	if err := event.Publish(ctx, w.bus, event.TopicNotesGenerated, documentID, event.NotesGenerated{
		DocumentID: documentID,
		NotesKey:   key,
	}); err != nil {
		w.logger.Warn("failed to announce notes",
			zap.String("document_id", documentID),
			zap.Error(err))
	}
}
