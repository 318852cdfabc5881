package library

import (
	"strings"

	"quizquest/internal/domain/creation"
)

// Collection groups creations from one source.
type Collection struct {
	Name      string              `json:"name"`
	URL       string              `json:"url,omitempty"`
	Creations []creation.Creation `json:"creations"`
}

// All flattens collections in order.
func All(collections []Collection) []creation.Creation {
	var all []creation.Creation
	for _, c := range collections {
		all = append(all, c.Creations...)
	}
	return all
}

// Find looks a creation up by ID across collections.
func Find(collections []Collection, id string) (*creation.Creation, bool) {
	for _, col := range collections {
		for i := range col.Creations {
			if col.Creations[i].ID == id {
				c := col.Creations[i]
				return &c, true
			}
		}
	}
	return nil, false
}

// Filter keeps creations of the given type whose tags contain tag. Empty
// arguments match everything.
func Filter(creations []creation.Creation, typ creation.Type, tag string) []creation.Creation {
	var out []creation.Creation
	for _, c := range creations {
		if typ != "" && c.Type != typ {
			continue
		}
		if tag != "" && !hasTag(c.Tags, tag) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Samples returns the built-in starter collections.
func Samples() []Collection {
	return []Collection{
		{
			Name: "Starter Quests",
			Creations: []creation.Creation{
				{
					ID:          "water-cycle",
					Title:       "The Water Cycle",
					Description: "Follow a raindrop from the ocean to the clouds and back.",
					Tags:        []string{"science", "weather"},
					Type:        creation.TypeQuest,
					Stages: []creation.Stage{
						{
							Title:  "Evaporation",
							Lesson: "When the sun warms the ocean, water turns into vapour and rises into the sky.",
							Quizzes: []creation.Question{
								{
									Question:     "What makes ocean water rise into the sky?",
									Options:      []string{"The wind", "The sun's heat", "Fish"},
									CorrectIndex: 1,
									Explanation:  "Heat turns liquid water into vapour.",
								},
							},
						},
						{
							Title:  "Condensation",
							Lesson: "High up, the vapour cools down and gathers into tiny droplets that form clouds.",
							Quizzes: []creation.Question{
								{
									Question:     "What are clouds made of?",
									Options:      []string{"Cotton", "Smoke", "Tiny water droplets"},
									CorrectIndex: 2,
								},
							},
						},
						{
							Title:  "Precipitation",
							Lesson: "When the droplets grow heavy they fall back down as rain, snow or hail.",
							Quizzes: []creation.Question{
								{
									Question:     "Which of these is precipitation?",
									Options:      []string{"Snow", "Sunlight"},
									CorrectIndex: 0,
								},
							},
						},
					},
				},
			},
		},
		{
			Name: "Quick Quizzes",
			Creations: []creation.Creation{
				{
					ID:          "solar-system",
					Title:       "Our Solar System",
					Description: "Eight planets circle our sun.",
					Tags:        []string{"science", "space"},
					Type:        creation.TypeQuiz,
					Content:     "Mercury is the closest planet to the sun. Jupiter is the largest planet. Mars is called the red planet because of the iron in its soil.",
					Quizzes: []creation.Question{
						{Question: "Which planet is the largest?", Options: []string{"Mars", "Jupiter", "Venus"}, CorrectIndex: 1},
						{Question: "Which planet is closest to the sun?", Options: []string{"Mercury", "Earth"}, CorrectIndex: 0},
						{Question: "Why is Mars red?", Options: []string{"Paint", "Iron in its soil", "Lava"}, CorrectIndex: 1},
					},
				},
				{
					ID:          "fractions",
					Title:       "Fractions Warm-up",
					Description: "Halves, quarters and thirds.",
					Tags:        []string{"maths"},
					Type:        creation.TypeQuiz,
					Content:     "A fraction shows part of a whole. One half is one of two equal parts. One quarter is one of four equal parts.",
					Quizzes: []creation.Question{
						{Question: "How many quarters make a whole?", Options: []string{"2", "3", "4"}, CorrectIndex: 2},
						{Question: "Which is bigger?", Options: []string{"One half", "One quarter"}, CorrectIndex: 0},
					},
				},
			},
		},
	}
}
