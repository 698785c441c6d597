// Package llm wraps the Anthropic Messages API behind a single-prompt
// completion interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ErrAPIKeyRequired = errors.New("anthropic API key required")

// Client generates a completion for a prompt.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "steward_llm_request_duration_seconds",
		Help:    "Anthropic Messages API latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	tokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steward_llm_tokens_total",
		Help: "Tokens consumed by Anthropic Messages API calls.",
	}, []string{"model", "direction"})
)

// AnthropicClient calls one model. No retries: callers fall back on failure.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewAnthropicClient(apiKey, model string, maxTokens int64) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}, nil
}

func (c *AnthropicClient) Model() string { return string(c.model) }

func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		requestDuration.WithLabelValues(string(c.model), "error").Observe(time.Since(start).Seconds())
		return "", fmt.Errorf("anthropic %s: %w", c.model, err)
	}
	requestDuration.WithLabelValues(string(c.model), "ok").Observe(time.Since(start).Seconds())
	tokensUsed.WithLabelValues(string(c.model), "input").Add(float64(message.Usage.InputTokens))
	tokensUsed.WithLabelValues(string(c.model), "output").Add(float64(message.Usage.OutputTokens))

	var parts []string
	for _, block := range message.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("anthropic %s: no text content in response", c.model)
	}
	return strings.Join(parts, "\n"), nil
}
