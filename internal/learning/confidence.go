package learning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/Steward/internal/embedding"
	"github.com/MikeSquared-Agency/Steward/internal/hermes"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

func feedbackStep(fb store.Feedback) float64 {
	switch fb {
	case store.FeedbackApproved:
		return stepApproved
	case store.FeedbackRejected:
		return stepRejected
	default:
		return stepCorrected
	}
}

// reasoningMatches reports whether a decision's reasoning applied the rule.
// Without both vectors it falls back to finding the rule's opening words in
// the reasoning.
func reasoningMatches(rule *store.Rule, reasoning string, reasoningVec []float32) bool {
	if len(reasoningVec) > 0 && len(rule.Embedding) > 0 {
		return embedding.CosineSimilarity(reasoningVec, rule.Embedding) > reasoningMatchFloor
	}
	prefix := strings.ToLower(truncate(rule.RuleText, rulePrefixLen))
	return prefix != "" && strings.Contains(strings.ToLower(reasoning), prefix)
}

// adjustForReasoning nudges every active rule the reasoning matched.
func (p *Pipeline) adjustForReasoning(ctx context.Context, userID, reasoning string, fb store.Feedback) (bool, error) {
	rules, err := p.store.ListRules(ctx, userID, true)
	if err != nil {
		return false, fmt.Errorf("list active rules: %w", err)
	}
	if len(rules) == 0 {
		return false, nil
	}

	var reasoningVec []float32
	for _, r := range rules {
		if len(r.Embedding) > 0 {
			reasoningVec = p.embed(ctx, reasoning)
			break
		}
	}

	delta := feedbackStep(fb)
	positive := fb == store.FeedbackApproved
	updated := false
	for _, r := range rules {
		if !reasoningMatches(r, reasoning, reasoningVec) {
			continue
		}
		applied, err := p.applyAdjustment(ctx, r, delta, positive, string(fb))
		if err != nil {
			return updated, err
		}
		updated = updated || applied
	}
	return updated, nil
}

// applyAdjustment reports false when the store skipped the rule because it
// was deactivated or deleted after it was listed.
func (p *Pipeline) applyAdjustment(ctx context.Context, r *store.Rule, delta float64, positive bool, signal string) (bool, error) {
	after, err := p.store.AdjustRuleConfidence(ctx, r.ID, delta, positive)
	if err != nil {
		return false, fmt.Errorf("adjust rule %s: %w", r.ID, err)
	}
	if after == nil {
		return false, nil
	}
	ruleAdjustments.WithLabelValues(signal).Inc()
	p.logger.Debug("rule confidence adjusted",
		"user_id", r.UserID, "rule_id", r.ID, "signal", signal,
		"from", r.Confidence, "to", after.Confidence)

	if r.Active && !after.Active {
		rulesDeactivated.Inc()
		p.logger.Info("rule deactivated", "user_id", r.UserID, "rule_id", r.ID, "confidence", after.Confidence)
		hermes.PublishEvent(p.events, p.logger, hermes.SubjectRuleDeactivated, hermes.RuleDeactivatedEvent{
			RuleID:     r.ID.String(),
			UserID:     r.UserID,
			Confidence: after.Confidence,
			Signal:     signal,
			Timestamp:  time.Now().UTC(),
		})
	}
	return true, nil
}

// adjustForMessage applies the small message-reaction step to rules sharing
// enough content words with the message.
func (p *Pipeline) adjustForMessage(ctx context.Context, userID, content string, positive bool) (bool, error) {
	rules, err := p.store.ListRules(ctx, userID, true)
	if err != nil {
		return false, fmt.Errorf("list active rules: %w", err)
	}

	delta, signal := stepMessageNegative, "message_negative"
	if positive {
		delta, signal = stepMessagePositive, "message_positive"
	}

	words := tokenize(content, 5)
	updated := false
	for _, r := range rules {
		if sharedTokens(words, tokenize(r.RuleText, 5)) < minSharedWords {
			continue
		}
		applied, err := p.applyAdjustment(ctx, r, delta, positive, signal)
		if err != nil {
			return updated, err
		}
		updated = updated || applied
	}
	return updated, nil
}
