package creation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeQuiz  Type = "quiz"
	TypeQuest Type = "quest"
)

// PassMark is the percentage a learner needs to pass a quiz.
const PassMark = 70

var ErrInvalid = errors.New("invalid creation")

type Question struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation,omitempty"`
}

// Stage is one step of a quest: a lesson to read, then its questions.
type Stage struct {
	Title   string     `json:"title"`
	Lesson  string     `json:"lesson"`
	Quizzes []Question `json:"quizzes"`
}

type Creation struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Type        Type       `json:"type"`
	Stages      []Stage    `json:"stages,omitempty"`
	Quizzes     []Question `json:"quizzes,omitempty"`
	Content     string     `json:"content,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func NewID() string {
	return uuid.NewString()
}

func (c *Creation) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: missing title", ErrInvalid)
	}

	switch c.Type {
	case TypeQuiz:
		if len(c.Quizzes) == 0 {
			return fmt.Errorf("%w: quiz has no questions", ErrInvalid)
		}
		return validateQuestions(c.Quizzes)
	case TypeQuest:
		if len(c.Stages) == 0 {
			return fmt.Errorf("%w: quest has no stages", ErrInvalid)
		}
		for i, s := range c.Stages {
			if strings.TrimSpace(s.Lesson) == "" {
				return fmt.Errorf("%w: stage %d has no lesson", ErrInvalid, i+1)
			}
			if err := validateQuestions(s.Quizzes); err != nil {
				return fmt.Errorf("stage %d: %w", i+1, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, c.Type)
	}
}

func validateQuestions(qs []Question) error {
	for i, q := range qs {
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("%w: question %d is empty", ErrInvalid, i+1)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: question %d needs at least two options", ErrInvalid, i+1)
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return fmt.Errorf("%w: question %d answer out of range", ErrInvalid, i+1)
		}
	}
	return nil
}

// ReadingText is the text read aloud for the creation. Reading positions are
// offsets into it, so it must stay stable for a stored creation.
func (c *Creation) ReadingText() string {
	parts := []string{c.Title}
	if c.Description != "" {
		parts = append(parts, c.Description)
	}
	for _, s := range c.Stages {
		if s.Title != "" {
			parts = append(parts, s.Title)
		}
		parts = append(parts, s.Lesson)
	}
	if len(c.Stages) == 0 && c.Content != "" {
		parts = append(parts, c.Content)
	}
	return strings.Join(parts, "\n\n")
}

// Questions returns every question in reading order.
func (c *Creation) Questions() []Question {
	qs := append([]Question(nil), c.Quizzes...)
	for _, s := range c.Stages {
		qs = append(qs, s.Quizzes...)
	}
	return qs
}

type Result struct {
	Correct int  `json:"correct"`
	Total   int  `json:"total"`
	Percent int  `json:"percent"`
	Passed  bool `json:"passed"`
}

// Score marks answers (option indexes, -1 for unanswered) against questions.
func Score(questions []Question, answers []int) Result {
	r := Result{Total: len(questions)}
	for i, q := range questions {
		if i < len(answers) && answers[i] == q.CorrectIndex {
			r.Correct++
		}
	}
	if r.Total > 0 {
		r.Percent = r.Correct * 100 / r.Total
	}
	r.Passed = r.Total > 0 && r.Percent >= PassMark
	return r
}
