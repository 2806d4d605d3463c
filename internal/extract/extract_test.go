package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Extract(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	tests := []struct {
		name     string
		mimeType string
		data     []byte
		want     string
		wantErr  error
	}{
		{name: "plain text", mimeType: "text/plain", data: []byte("hello world"), want: "hello world"},
		{name: "markdown", mimeType: "text/markdown", data: []byte("# Title\n\nbody"), want: "# Title\n\nbody"},
		{name: "charset parameter ignored", mimeType: "text/plain; charset=utf-8", data: []byte("hi"), want: "hi"},
		{name: "case insensitive", mimeType: "TEXT/PLAIN", data: []byte("hi"), want: "hi"},
		{name: "surrounding whitespace trimmed", mimeType: "text/plain", data: []byte("  padded \n"), want: "padded"},
		{name: "unsupported type", mimeType: "application/pdf", data: []byte("%PDF"), wantErr: ErrUnsupportedType},
		{name: "empty document", mimeType: "text/plain", data: []byte("   \n\t"), wantErr: ErrEmptyDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Extract(ctx, tt.data, tt.mimeType)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlainText_RepairsInvalidUTF8(t *testing.T) {
	got, err := PlainText{}.Extract(context.Background(), []byte{'o', 'k', 0xff, 0xfe})
	require.NoError(t, err)
	assert.Contains(t, got, "ok")
	assert.True(t, len(got) > 2, "invalid bytes become replacement runes, not silence")
}

func TestRegistry_RegisterOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register("text/plain", stubExtractor("override"))

	got, err := r.Extract(context.Background(), []byte("ignored"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "override", got)
}

type stubExtractor string

func (s stubExtractor) Extract(context.Context, []byte) (string, error) {
	return string(s), nil
}
