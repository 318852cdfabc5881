package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"quizquest/internal/domain/creation"
)

const defaultGeminiModel = "gemini-2.0-flash"

const systemPrompt = `You turn learning material into interactive content for students.
Reply with a single JSON object and nothing else:
{
  "title": string,
  "description": string,
  "tags": [string],
  "type": "quiz" | "quest",
  "quizzes": [{"question": string, "options": [string], "correctIndex": number, "explanation": string}],
  "stages": [{"title": string, "lesson": string, "quizzes": [...same shape as above]}]
}
Use "quest" with 2 to 5 stages when the material teaches several steps or ideas, otherwise "quiz" with 3 to 8 questions.
Every question has 2 to 4 options and exactly one correct answer.`

type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: missing API key")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	if model == "" {
		model = defaultGeminiModel
	}
	m := client.GenerativeModel(model)
	m.SetTemperature(0.4)
	m.ResponseMIMEType = "application/json"
	m.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))

	return &Gemini{client: client, model: m}, nil
}

func (g *Gemini) Generate(ctx context.Context, req Request) (*creation.Creation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp, err := g.model.GenerateContent(ctx, genai.Text(req.Content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	var reply strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				reply.WriteString(string(txt))
			}
		}
	}
	if reply.Len() == 0 {
		return nil, fmt.Errorf("%w: empty reply", ErrGenerationFailed)
	}

	c, err := decodeCreation(reply.String(), req)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"id":   c.ID,
		"type": c.Type,
	}).Info("Generated creation")
	return c, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}
