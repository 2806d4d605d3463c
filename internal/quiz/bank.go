// Package quiz generates quizzes from knowledge snapshots or built-in topic
// banks, and grades submitted answers.
package quiz

import (
	"hash/fnv"
	"math/rand"
	"strconv"

	"github.com/fyrsmithlabs/studyd/internal/store"
)

// GeneralTopic is the bank used when a request names no topic or an unknown
// one.
const GeneralTopic = "general"

// bankEntry is a bank question before selection assigns it an id.
type bankEntry struct {
	prompt      string
	options     []string
	correct     int
	explanation string
}

var banks = map[string][]bankEntry{
	"general": {
		{
			prompt:      "What is the importance of lifelong learning?",
			options:     []string{"Skill development", "Staying in the past", "Avoiding challenges", "None"},
			correct:     0,
			explanation: "Lifelong learning is essential for skill development and adapting to changes.",
		},
		{
			prompt:      "What is the goal of education?",
			options:     []string{"Building knowledge and skills", "Memorization only", "Exams only", "None"},
			correct:     0,
			explanation: "Education aims to build individuals capable of thinking.",
		},
		{
			prompt:      "How can comprehension be improved?",
			options:     []string{"Repetition and practice", "Speed reading", "Avoiding questions", "Sleeping"},
			correct:     0,
			explanation: "Practice and repetition help consolidate information.",
		},
	},
	"cloud": {
		{
			prompt:      "What is cloud computing?",
			options:     []string{"Online services", "Local computer", "Hard drive", "None"},
			correct:     0,
			explanation: "Cloud computing provides computing resources over the internet.",
		},
		{
			prompt:      "What is the benefit of Docker?",
			options:     []string{"Running apps in containers", "Website design", "Writing code", "None"},
			correct:     0,
			explanation: "Docker isolates applications in containers for consistent operation.",
		},
	},
}

// FromBank selects up to n questions from the named topic bank. Unknown
// topics fall back to the general bank, so a bank selection never comes back
// empty. Selection order is a deterministic function of seed.
func FromBank(topic string, n int, seed int64) []store.Question {
	pool, ok := banks[topic]
	if !ok {
		pool = banks[GeneralTopic]
	}
	if n <= 0 || n > len(pool) {
		n = len(pool)
	}

	rng := rand.New(rand.NewSource(seed))
	order := rng.Perm(len(pool))

	questions := make([]store.Question, 0, n)
	for i := 0; i < n; i++ {
		e := pool[order[i]]
		questions = append(questions, store.Question{
			ID:           i + 1,
			Prompt:       e.prompt,
			Options:      append([]string(nil), e.options...),
			CorrectIndex: e.correct,
			Explanation:  e.explanation,
		})
	}
	return questions
}

// KnownTopic reports whether topic has a dedicated bank.
func KnownTopic(topic string) bool {
	_, ok := banks[topic]
	return ok
}

// Seed derives the deterministic generation seed for a request, so a
// redelivered request regenerates the identical quiz.
func Seed(sourceRef string, numQuestions int, requestID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(sourceRef))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(numQuestions)))
	h.Write([]byte{'|'})
	h.Write([]byte(requestID))
	return int64(h.Sum64())
}
