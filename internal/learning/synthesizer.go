package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Steward/internal/hermes"
	"github.com/MikeSquared-Agency/Steward/internal/llm"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

// Example is one correction shown to the rule model.
type Example struct {
	OriginalAction string
	Correction     string
	Context        string
}

// RuleSynthesizer drafts one rule sentence from a cluster of corrections.
// ok is false when no usable rule was produced.
type RuleSynthesizer interface {
	Synthesize(ctx context.Context, category string, examples []Example) (text string, ok bool)
}

// LLMSynthesizer asks a completion model for the rule.
type LLMSynthesizer struct {
	client llm.Client
	logger *slog.Logger
}

func NewLLMSynthesizer(client llm.Client, logger *slog.Logger) *LLMSynthesizer {
	return &LLMSynthesizer{client: client, logger: logger}
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, category string, examples []Example) (string, bool) {
	out, err := s.client.Complete(ctx, buildRulePrompt(category, examples))
	if err != nil {
		degraded.WithLabelValues("rule_llm").Inc()
		s.logger.Warn("rule synthesis failed", "category", category, "error", err)
		return "", false
	}
	text := cleanSentence(out)
	return text, text != ""
}

func buildRulePrompt(category string, examples []Example) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A property manager corrected their assistant %d times on %s tasks.\n", len(examples), category)
	b.WriteString("Corrections:\n")
	for i, ex := range examples {
		if i == maxPromptExamples {
			break
		}
		fmt.Fprintf(&b, "%d. Assistant did: %s\n   Owner corrected to: %s\n", i+1, ex.OriginalAction, ex.Correction)
		if ex.Context != "" {
			fmt.Fprintf(&b, "   Context: %s\n", ex.Context)
		}
	}
	b.WriteString("\nWrite exactly one imperative, specific rule the assistant should follow from now on. ")
	b.WriteString("Reply with the rule sentence only.")
	return b.String()
}

// cleanSentence keeps the first non-empty line without list markers or quotes.
func cleanSentence(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		line = strings.Trim(line, "\"'` ")
		if line != "" {
			return line
		}
	}
	return ""
}

func exampleFrom(c *store.Correction) Example {
	ex := Example{OriginalAction: c.OriginalAction, Correction: c.Correction}
	if len(c.ContextSnapshot) > 0 {
		raw, _ := json.Marshal(c.ContextSnapshot)
		ex.Context = truncate(string(raw), contextSnippetLen)
	}
	return ex
}

// checkDuplicate embeds text and compares it with the user's active rules.
// The vector is returned for storing on the new rule; it is nil when the
// embedding service is unavailable, in which case no dedup is possible.
func (p *Pipeline) checkDuplicate(ctx context.Context, userID, text string) ([]float32, bool, error) {
	vec := p.embed(ctx, text)
	if vec == nil {
		return nil, false, nil
	}

	matches, err := p.store.SearchSimilarRules(ctx, userID, vec, 1)
	if err != nil {
		return nil, false, fmt.Errorf("search similar rules: %w", err)
	}
	if len(matches) == 0 {
		return vec, false, nil
	}

	top := matches[0]
	switch {
	case top.Similarity > duplicateRuleSimilarity:
		p.logger.Info("discarding duplicate rule",
			"user_id", userID, "rule_id", top.Rule.ID, "similarity", top.Similarity)
		return vec, true, nil
	case top.Similarity >= nearDuplicateSimilarity:
		nearDuplicates.Inc()
		p.logger.Warn("near-duplicate rule created, review for merge",
			"user_id", userID,
			"existing_rule_id", top.Rule.ID,
			"existing_rule", top.Rule.RuleText,
			"new_rule", text,
			"similarity", top.Similarity)
	}
	return vec, false, nil
}

func (p *Pipeline) createRule(ctx context.Context, r *store.Rule) error {
	r.Active = true
	if err := p.store.CreateRule(ctx, r); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	rulesCreated.WithLabelValues(string(r.Source)).Inc()
	p.logger.Info("rule created",
		"user_id", r.UserID, "rule_id", r.ID, "category", r.Category, "source", r.Source)

	ids := make([]string, len(r.SourceCorrectionIDs))
	for i, id := range r.SourceCorrectionIDs {
		ids[i] = id.String()
	}
	hermes.PublishEvent(p.events, p.logger, hermes.SubjectRuleCreated, hermes.RuleCreatedEvent{
		RuleID:              r.ID.String(),
		UserID:              r.UserID,
		Category:            r.Category,
		Source:              string(r.Source),
		RuleText:            r.RuleText,
		Confidence:          r.Confidence,
		SourceCorrectionIDs: ids,
		Timestamp:           time.Now().UTC(),
	})
	return nil
}

// synthesizeRule drafts, dedups and persists a rule for a cluster.
func (p *Pipeline) synthesizeRule(ctx context.Context, userID, category string, cluster []*store.Correction) (PatternOutcome, *store.Rule, error) {
	if p.synthesizer == nil {
		degraded.WithLabelValues("rule_llm").Inc()
		return OutcomeSynthesisFailed, nil, nil
	}

	examples := make([]Example, 0, maxPromptExamples)
	ids := make([]uuid.UUID, 0, len(cluster))
	for _, c := range cluster {
		if len(examples) < maxPromptExamples {
			examples = append(examples, exampleFrom(c))
		}
		ids = append(ids, c.ID)
	}

	text, ok := p.synthesizer.Synthesize(ctx, category, examples)
	if !ok {
		return OutcomeSynthesisFailed, nil, nil
	}

	vec, dup, err := p.checkDuplicate(ctx, userID, text)
	if err != nil {
		return "", nil, err
	}
	if dup {
		return OutcomeDuplicate, nil, nil
	}

	rule := &store.Rule{
		UserID:              userID,
		RuleText:            text,
		Category:            category,
		Confidence:          patternRuleConfidence,
		Source:              store.SourceCorrectionPattern,
		SourceCorrectionIDs: ids,
		Embedding:           vec,
	}
	if err := p.createRule(ctx, rule); err != nil {
		return "", nil, err
	}
	return OutcomeRuleCreated, rule, nil
}
