package generator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"quizquest/internal/domain/creation"
)

const maxMockQuestions = 5

// Mock builds a fill-in-the-gap quiz from the text itself, so generation
// works offline and deterministically.
type Mock struct{}

func (m *Mock) Generate(ctx context.Context, req Request) (*creation.Creation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sentences := splitSentences(req.Content)
	vocabulary := keyWords(req.Content)

	var questions []creation.Question
	for i, s := range sentences {
		if len(questions) == maxMockQuestions {
			break
		}
		answer := longestWord(s)
		if answer == "" {
			continue
		}
		distractors := pickDistractors(vocabulary, answer, 2)
		if len(distractors) == 0 {
			continue
		}

		options := append([]string{}, distractors...)
		correct := i % (len(options) + 1)
		options = append(options[:correct], append([]string{answer}, options[correct:]...)...)

		questions = append(questions, creation.Question{
			Question:     "Fill the gap: " + strings.Replace(s, answer, "____", 1),
			Options:      options,
			CorrectIndex: correct,
			Explanation:  s,
		})
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: not enough text to build questions", ErrGenerationFailed)
	}

	c := &creation.Creation{
		ID:          creation.NewID(),
		Title:       mockTitle(sentences[0]),
		Description: "Practice questions generated from your text.",
		Type:        creation.TypeQuiz,
		Quizzes:     questions,
		Content:     req.Content,
		CreatedAt:   time.Now().UTC(),
	}
	return c, c.Validate()
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cleanWord(w string) string {
	return strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func longestWord(sentence string) string {
	best := ""
	for _, w := range strings.Fields(sentence) {
		w = cleanWord(w)
		if len([]rune(w)) > len([]rune(best)) {
			best = w
		}
	}
	if len([]rune(best)) < 4 {
		return ""
	}
	return best
}

// keyWords lists the distinct longer words of text in order of appearance.
func keyWords(text string) []string {
	seen := map[string]bool{}
	var words []string
	for _, w := range strings.Fields(text) {
		w = cleanWord(w)
		key := strings.ToLower(w)
		if len([]rune(w)) < 4 || seen[key] {
			continue
		}
		seen[key] = true
		words = append(words, w)
	}
	return words
}

func pickDistractors(vocabulary []string, answer string, n int) []string {
	var out []string
	for _, w := range vocabulary {
		if strings.EqualFold(w, answer) {
			continue
		}
		out = append(out, w)
		if len(out) == n {
			break
		}
	}
	return out
}

func mockTitle(sentence string) string {
	words := strings.Fields(sentence)
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Join(words, " ") + "…"
}
