// Package embedding turns text into vectors through an OpenAI-compatible
// embeddings endpoint (OpenAI itself, or a local TEI server).
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	ErrEmptyInput    = errors.New("empty input text")
	ErrInvalidConfig = errors.New("invalid embedding configuration")
)

// Embedder produces a fixed-length vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	BaseURL string
	Model   string
	APIKey  string
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// Service is an Embedder backed by langchaingo.
type Service struct {
	embedder *embeddings.EmbedderImpl
	model    string
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// langchaingo insists on a token even for TEI, which ignores it.
	token := cfg.APIKey
	if token == "" {
		token = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &Service{embedder: embedder, model: cfg.Model}, nil
}

func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text with %s: %w", s.model, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding text with %s: empty vector", s.model)
	}
	return vec, nil
}

// CosineSimilarity returns cos(θ) between a and b, or 0 when either is empty,
// zero-magnitude, or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
