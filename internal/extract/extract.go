// Package extract turns uploaded document bytes into plain text keyed by
// MIME type.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedType is returned when no extractor handles a MIME type.
var ErrUnsupportedType = errors.New("unsupported document type")

// ErrEmptyDocument is returned when extraction yields no usable text.
var ErrEmptyDocument = errors.New("document contains no extractable text")

// Extractor converts raw document bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Registry routes documents to extractors by MIME base type, ignoring any
// parameters (charset etc.).
type Registry struct {
	byType map[string]Extractor
}

// NewRegistry creates a registry preloaded with the built-in text extractors.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Extractor)}
	text := PlainText{}
	for _, mt := range []string{"text/plain", "text/markdown"} {
		r.Register(mt, text)
	}
	return r
}

// Register installs an extractor for a MIME base type, replacing any
// previous one.
func (r *Registry) Register(mimeType string, e Extractor) {
	r.byType[normalize(mimeType)] = e
}

// Extract runs the extractor registered for mimeType. Unknown types return
// ErrUnsupportedType.
func (r *Registry) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	e, ok := r.byType[normalize(mimeType)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}
	return e.Extract(ctx, data)
}

func normalize(mimeType string) string {
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		base = mimeType
	}
	return strings.ToLower(strings.TrimSpace(base))
}

// PlainText extracts text documents as-is, repairing invalid UTF-8.
type PlainText struct{}

// Extract returns the trimmed text, replacing invalid byte sequences with
// the Unicode replacement rune. Whitespace-only input is ErrEmptyDocument.
func (PlainText) Extract(_ context.Context, data []byte) (string, error) {
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyDocument
	}
	return strings.TrimSpace(text), nil
}
