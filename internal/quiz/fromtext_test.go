package quiz

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleText = "Cloud computing delivers computing resources over the internet on demand. " +
	"Containers isolate applications so they run the same way everywhere. " +
	"Message queues decouple producers from consumers across service boundaries. " +
	"Object storage keeps raw bytes separate from structured records."

func TestFromText_Deterministic(t *testing.T) {
	first := FromText(sampleText, 3, 42)
	second := FromText(sampleText, 3, 42)
	assert.Equal(t, first, second)
}

func TestFromText_QuestionShape(t *testing.T) {
	qs := FromText(sampleText, 3, 42)
	require.Len(t, qs, 3)

	for i, q := range qs {
		assert.Equal(t, i+1, q.ID)
		assert.Len(t, q.Options, 4)
		require.Less(t, q.CorrectIndex, len(q.Options))
		assert.True(t, strings.HasPrefix(q.Options[q.CorrectIndex], "It relates to:"),
			"the correct option carries the source sentence")
		assert.NotEmpty(t, q.Explanation)
	}
}

func TestFromText_TooShortYieldsNil(t *testing.T) {
	assert.Nil(t, FromText("tiny", 3, 42))
	assert.Nil(t, FromText("", 3, 42))
}

func TestFromText_NoUsableSentencesYieldsNil(t *testing.T) {
	// Long enough overall, but every fragment is below the sentence floor.
	text := strings.Repeat("short bit. ", 10)
	assert.Nil(t, FromText(text, 3, 42))
}

func TestFromText_ClampsToSentenceCount(t *testing.T) {
	qs := FromText(sampleText, 99, 42)
	assert.LessOrEqual(t, len(qs), 4)
	assert.NotEmpty(t, qs)
}
