package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/studyd/internal/event"
	"github.com/fyrsmithlabs/studyd/internal/store"
)

// DocumentResponse is the API view of a document record.
type DocumentResponse struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename,omitempty"`
	MimeType        string    `json:"mime_type"`
	Status          string    `json:"status"`
	ExtractedLength int       `json:"extracted_length,omitempty"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func documentResponse(doc *store.Document) DocumentResponse {
	return DocumentResponse{
		ID:              doc.ID,
		Filename:        doc.Filename,
		MimeType:        doc.MimeType,
		Status:          string(doc.Status),
		ExtractedLength: doc.ExtractedLength,
		FailureReason:   doc.FailureReason,
		CreatedAt:       doc.CreatedAt,
	}
}

// handleUploadDocument accepts a multipart upload, stores the raw bytes,
// creates the pending record, and announces the upload. Processing is
// asynchronous: the response is 202 and the client polls the record.
func (s *Server) handleUploadDocument(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	if len(data) > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "document too large")
	}
	if len(data) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "uploaded file is empty")
	}

	mimeType := fileHeader.Header.Get(echo.HeaderContentType)
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(fileHeader.Filename))
	}

	ctx := c.Request().Context()
	id := uuid.NewString()
	storageKey := "uploads/" + id

	if err := s.blobs.Put(ctx, storageKey, data); err != nil {
		s.logger.Error("failed to store upload", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to store upload")
	}

	doc := &store.Document{
		ID:         id,
		Filename:   filepath.Base(fileHeader.Filename),
		MimeType:   mimeType,
		StorageKey: storageKey,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		s.logger.Error("failed to create document record", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record upload")
	}

	if err := event.Publish(ctx, s.bus, event.TopicDocumentUploaded, id, event.DocumentUploaded{
		DocumentID: id,
		StorageKey: storageKey,
		MimeType:   mimeType,
	}); err != nil {
		s.logger.Error("failed to announce upload", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to enqueue document")
	}

	s.logger.Info("document uploaded",
		zap.String("document_id", id),
		zap.String("filename", doc.Filename),
		zap.Int("bytes", len(data)))
	return c.JSON(http.StatusAccepted, documentResponse(doc))
}

func (s *Server) handleGetDocument(c echo.Context) error {
	doc, err := s.store.GetDocument(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load document")
	}
	return c.JSON(http.StatusOK, documentResponse(doc))
}

// DocumentTextResponse is the response body for GET /documents/:id/text.
type DocumentTextResponse struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (s *Server) handleGetDocumentText(c echo.Context) error {
	doc, err := s.store.GetDocument(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load document")
	}
	if doc.Status != store.DocumentProcessed {
		return echo.NewHTTPError(http.StatusConflict, "document is not processed")
	}
	return c.JSON(http.StatusOK, DocumentTextResponse{ID: doc.ID, Text: doc.ExtractedText})
}

func (s *Server) handleGetDocumentNotes(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	if _, err := s.store.GetDocument(ctx, id); errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load document")
	}

	notes, err := s.blobs.Get(ctx, "notes/"+id+".txt")
	if errors.Is(err, store.ErrBlobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "notes not available yet")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "failed to load notes")
	}
	return c.Blob(http.StatusOK, "text/plain; charset=utf-8", notes)
}
