package learning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Steward/internal/category"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

type CorrectionInput struct {
	UserID          string
	OriginalAction  string
	Correction      string
	ContextSnapshot map[string]interface{}
	DecisionID      *uuid.UUID
	// Category overrides classification when set.
	Category string
}

type CorrectionResult struct {
	CorrectionID uuid.UUID      `json:"correction_id"`
	Category     string         `json:"category"`
	Outcome      PatternOutcome `json:"outcome"`
	RuleID       *uuid.UUID     `json:"rule_id,omitempty"`
	RuleText     string         `json:"rule_text,omitempty"`
}

// RecordCorrection persists one correction and runs pattern detection on it.
// An embedding failure only disables the vector path for this correction.
func (p *Pipeline) RecordCorrection(ctx context.Context, in CorrectionInput) (*CorrectionResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Correction) == "" || strings.TrimSpace(in.OriginalAction) == "" {
		return nil, fmt.Errorf("%w: original_action and correction required", ErrInvalidInput)
	}
	if in.Category != "" && !category.Valid(in.Category) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, in.Category)
	}

	c := &store.Correction{
		UserID:          in.UserID,
		DecisionID:      in.DecisionID,
		OriginalAction:  in.OriginalAction,
		Correction:      in.Correction,
		ContextSnapshot: in.ContextSnapshot,
		Category:        in.Category,
	}
	if c.Category == "" {
		c.Category = category.Classify(c.Text())
	}
	c.Embedding = p.embed(ctx, c.Text())

	if err := p.store.CreateCorrection(ctx, c); err != nil {
		return nil, fmt.Errorf("create correction: %w", err)
	}
	p.logger.Info("correction recorded",
		"user_id", c.UserID, "correction_id", c.ID, "category", c.Category, "embedded", c.Embedding != nil)

	outcome, rule, err := p.detectPattern(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("detect pattern: %w", err)
	}
	patternOutcomes.WithLabelValues(string(outcome)).Inc()

	res := &CorrectionResult{CorrectionID: c.ID, Category: c.Category, Outcome: outcome}
	if rule != nil {
		res.RuleID = &rule.ID
		res.RuleText = rule.RuleText
	}
	return res, nil
}
