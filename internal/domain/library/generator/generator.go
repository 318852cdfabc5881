package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"quizquest/internal/config"
	"quizquest/internal/domain/creation"
)

// ErrGenerationFailed is the only error callers outside this package need to
// show users; details are wrapped for logs.
var ErrGenerationFailed = errors.New("generation failed")

var (
	ErrEmptyContent       = errors.New("content is empty")
	ErrUnsupportedContent = errors.New("unsupported content type")
)

const ContentTypeText = "text"

type Request struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return ErrEmptyContent
	}
	if r.ContentType != "" && r.ContentType != ContentTypeText {
		return fmt.Errorf("%w: %s", ErrUnsupportedContent, r.ContentType)
	}
	return nil
}

// Generator turns pasted learning material into a quiz or quest.
type Generator interface {
	Generate(ctx context.Context, req Request) (*creation.Creation, error)
}

// New builds the configured provider, wrapped in a disk cache when a cache
// directory is set.
func New(ctx context.Context, cfg config.Generator) (Generator, error) {
	var g Generator
	switch cfg.Provider {
	case "", "mock":
		g = &Mock{}
	case "gemini":
		gemini, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		g = gemini
	default:
		return nil, fmt.Errorf("unsupported generator provider: %s", cfg.Provider)
	}

	if cfg.CacheDir != "" {
		g = NewCache(cfg.CacheDir, cfg.CacheMaxAge, g)
	}
	return g, nil
}

// Close releases g if it holds a client connection.
func Close(g Generator) error {
	if c, ok := g.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// decodeCreation parses a model reply into a validated creation.
func decodeCreation(reply string, req Request) (*creation.Creation, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")

	var c creation.Creation
	if err := json.Unmarshal([]byte(reply), &c); err != nil {
		return nil, fmt.Errorf("%w: decode reply: %v", ErrGenerationFailed, err)
	}

	if c.Type == "" {
		if len(c.Stages) > 0 {
			c.Type = creation.TypeQuest
		} else {
			c.Type = creation.TypeQuiz
		}
	}
	c.ID = creation.NewID()
	c.Content = req.Content
	c.CreatedAt = time.Now().UTC()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return &c, nil
}
