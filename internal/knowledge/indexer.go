// Package knowledge maintains the per-document knowledge snapshots consumed
// by quiz generation.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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
	instrumentationName = "github.com/fyrsmithlabs/studyd/internal/knowledge"

	consumerGroup = "knowledge"

	// maxChunkLen bounds a single snapshot chunk. Paragraphs longer than
	// this are split on word boundaries.
	maxChunkLen = 800
)

// Indexer consumes processed documents and rebuilds their snapshots.
type Indexer struct {
	store      *store.Store
	bus        bus.Bus
	dispatcher *pipeline.Dispatcher
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewIndexer creates the knowledge indexer.
func NewIndexer(s *store.Store, b bus.Bus, d *pipeline.Dispatcher, logger *zap.Logger) (*Indexer, error) {
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

	return &Indexer{
		store:      s,
		bus:        b,
		dispatcher: d,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
	}, nil
}

// Run subscribes the indexer to the processed-document topic.
func (i *Indexer) Run(ctx context.Context) error {
	return i.bus.Subscribe(ctx, event.TopicDocumentProcessed, consumerGroup, i.dispatcher.Wrap(i.handle))
}

func (i *Indexer) handle(ctx context.Context, msg *bus.Message) error {
	ctx, span := i.tracer.Start(ctx, "knowledge.index")
	defer span.End()

	var evt event.DocumentProcessed
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return pipeline.Malformed(fmt.Errorf("decode processed event: %w", err))
	}
	if evt.DocumentID == "" {
		return pipeline.Malformedf("processed event missing document_id")
	}
	span.SetAttributes(attribute.String("document.id", evt.DocumentID))

	doc, err := i.store.GetDocument(ctx, evt.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return pipeline.Malformed(fmt.Errorf("unknown document %q", evt.DocumentID))
	}
	if err != nil {
		return pipeline.Transient(err)
	}
	if doc.Status != store.DocumentProcessed {
		// The completion event ran ahead of the record becoming visible.
		return pipeline.NotReadyf("document %q is %s, not processed", doc.ID, doc.Status)
	}

	chunks := Chunk(doc.ExtractedText)
	version, err := i.store.UpsertSnapshot(ctx, doc.ID, chunks)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("upsert snapshot: %w", err))
	}

	i.logger.Info("snapshot applied",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
		zap.Int64("version", version))
	return nil
}

// Chunk splits extracted text into snapshot chunks: one chunk per paragraph,
// with oversized paragraphs split on word boundaries near maxChunkLen.
func Chunk(text string) []string {
	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		chunks = append(chunks, splitLong(para)...)
	}
	return chunks
}

func splitLong(para string) []string {
	if len(para) <= maxChunkLen {
		return []string{para}
	}

	var (
		chunks []string
		cur    strings.Builder
	)
	for _, word := range strings.Fields(para) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > maxChunkLen {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
