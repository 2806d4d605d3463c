package quiz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBank_Deterministic(t *testing.T) {
	seed := Seed("cloud", 2, "r1")
	first := FromBank("cloud", 2, seed)
	second := FromBank("cloud", 2, seed)
	assert.Equal(t, first, second)
}

func TestFromBank_ClampsToPoolSize(t *testing.T) {
	qs := FromBank("cloud", 99, Seed("cloud", 99, "r1"))
	assert.Len(t, qs, 2)
}

func TestFromBank_UnknownTopicUsesGeneral(t *testing.T) {
	qs := FromBank("astrophysics", 3, 42)
	require.NotEmpty(t, qs)
	assert.Len(t, qs, 3)
}

func TestFromBank_AssignsSequentialIDs(t *testing.T) {
	qs := FromBank("general", 3, 7)
	for i, q := range qs {
		assert.Equal(t, i+1, q.ID)
		assert.Less(t, q.CorrectIndex, len(q.Options))
	}
}

func TestKnownTopic(t *testing.T) {
	assert.True(t, KnownTopic("general"))
	assert.True(t, KnownTopic("cloud"))
	assert.False(t, KnownTopic("astrophysics"))
}

func TestSeed_SensitiveToEveryInput(t *testing.T) {
	base := Seed("cloud", 5, "r1")
	assert.NotEqual(t, base, Seed("general", 5, "r1"))
	assert.NotEqual(t, base, Seed("cloud", 4, "r1"))
	assert.NotEqual(t, base, Seed("cloud", 5, "r2"))
	assert.Equal(t, base, Seed("cloud", 5, "r1"))
}
