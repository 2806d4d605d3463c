package quiz

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/fyrsmithlabs/studyd/internal/store"
)

const (
	// minSourceLen is the shortest text worth generating questions from.
	minSourceLen = 50

	// minSentenceLen filters out fragments left by sentence splitting.
	minSentenceLen = 20
)

// FromText generates up to n concept questions from extracted document text.
// Output is a deterministic function of (text, n, seed); too little usable
// text yields nil and the caller falls back to a bank.
func FromText(text string, n int, seed int64) []store.Question {
	if len(text) < minSourceLen {
		return nil
	}

	var sentences []string
	for _, s := range strings.Split(strings.ReplaceAll(text, "\n", " "), ".") {
		s = strings.TrimSpace(s)
		if len(s) > minSentenceLen {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(seed))
	order := rng.Perm(len(sentences))
	if n <= 0 || n > len(sentences) {
		n = len(sentences)
	}

	var questions []store.Question
	for _, idx := range order {
		if len(questions) == n {
			break
		}
		q, ok := questionFromSentence(sentences[idx], rng)
		if !ok {
			continue
		}
		q.ID = len(questions) + 1
		questions = append(questions, q)
	}
	return questions
}

func questionFromSentence(sentence string, rng *rand.Rand) (store.Question, bool) {
	var keywords []string
	for _, w := range strings.Fields(sentence) {
		if len(w) > 4 {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) == 0 {
		return store.Question{}, false
	}
	keyword := keywords[rng.Intn(len(keywords))]

	options := []string{
		fmt.Sprintf("It relates to: %s", clip(sentence, 50)),
		"No mention of this in the document",
		"The concept is unclear in the text",
		"All of the above",
	}

	// The correct option must not sit in a predictable slot.
	correct := 0
	rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
		switch correct {
		case i:
			correct = j
		case j:
			correct = i
		}
	})

	return store.Question{
		Prompt:       fmt.Sprintf("Based on the document, what is the concept related to %q?", keyword),
		Options:      options,
		CorrectIndex: correct,
		Explanation:  fmt.Sprintf("This concept is covered in the document: %s", clip(sentence, 100)),
	}, true
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
