// Package learning turns owner feedback and execution errors into durable
// rules, confidence adjustments and preferences.
package learning

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/Steward/internal/embedding"
	"github.com/MikeSquared-Agency/Steward/internal/graduation"
	"github.com/MikeSquared-Agency/Steward/internal/hermes"
	"github.com/MikeSquared-Agency/Steward/internal/llm"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

var (
	ErrDecisionNotFound = errors.New("decision not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrInvalidFeedback  = errors.New("invalid feedback value")
	ErrInvalidErrorType = errors.New("invalid error type")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrInvalidInput     = errors.New("invalid input")
)

const (
	candidatePoolSize   = 50
	minClusterSize      = 3
	embeddingMatchFloor = 0.6
	wordOverlapFloor    = 0.3

	maxPromptExamples = 5
	contextSnippetLen = 200

	duplicateRuleSimilarity = 0.85
	nearDuplicateSimilarity = 0.75

	patternRuleConfidence = 0.70
	errorRuleConfidence   = 0.50

	reasoningMatchFloor = 0.65
	rulePrefixLen       = 50

	stepApproved  = 0.05
	stepRejected  = -0.15
	stepCorrected = -0.10

	stepMessagePositive = 0.02
	stepMessageNegative = -0.05
	minSharedWords      = 3

	failureKeyLen = 80
)

// Pipeline wires the learning components to their collaborators. Embedder,
// Synthesizer, GuidanceLLM and Events may be nil; each falls back to a
// degraded path.
type Pipeline struct {
	store       store.Store
	embedder    embedding.Embedder
	synthesizer RuleSynthesizer
	guidance    llm.Client
	graduation  *graduation.Tracker
	events      hermes.Client
	logger      *slog.Logger
}

type Options struct {
	Store       store.Store
	Embedder    embedding.Embedder
	Synthesizer RuleSynthesizer
	GuidanceLLM llm.Client
	Graduation  *graduation.Tracker
	Events      hermes.Client
	Logger      *slog.Logger
}

func NewPipeline(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:       opts.Store,
		embedder:    opts.Embedder,
		synthesizer: opts.Synthesizer,
		guidance:    opts.GuidanceLLM,
		graduation:  opts.Graduation,
		events:      opts.Events,
		logger:      logger,
	}
}

// embed returns nil when no embedder is configured or the call fails.
func (p *Pipeline) embed(ctx context.Context, text string) []float32 {
	if p.embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		degraded.WithLabelValues("embedding").Inc()
		p.logger.Warn("embedding failed, continuing without vector", "error", err)
		return nil
	}
	return vec
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
