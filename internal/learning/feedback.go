package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Steward/internal/category"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

type FeedbackInput struct {
	UserID     string
	DecisionID uuid.UUID
	Feedback   store.Feedback
	Correction string
	Category   string
}

type FeedbackResult struct {
	Updated            bool              `json:"updated"`
	Category           string            `json:"category"`
	GraduationEligible bool              `json:"graduation_eligible"`
	RuleUpdated        bool              `json:"rule_updated"`
	Correction         *CorrectionResult `json:"correction,omitempty"`
}

// ProcessFeedback records the owner's verdict on a decision and fans it out to
// graduation tracking, rule confidence and, for corrections, the recorder.
// Only a missing decision or a graduation store failure fails the request;
// the learning steps after it are best-effort.
func (p *Pipeline) ProcessFeedback(ctx context.Context, in FeedbackInput) (*FeedbackResult, error) {
	if strings.TrimSpace(in.UserID) == "" || in.DecisionID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id and decision_id required", ErrInvalidInput)
	}
	if !in.Feedback.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFeedback, in.Feedback)
	}
	if in.Category != "" && !category.Valid(in.Category) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, in.Category)
	}

	d, err := p.store.GetDecision(ctx, in.DecisionID)
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	if d == nil || (d.UserID != "" && d.UserID != in.UserID) {
		return nil, fmt.Errorf("%w: %s", ErrDecisionNotFound, in.DecisionID)
	}
	if err := p.store.SetDecisionFeedback(ctx, in.DecisionID, in.Feedback, in.Correction); err != nil {
		return nil, fmt.Errorf("set decision feedback: %w", err)
	}

	cat := in.Category
	if cat == "" {
		cat = category.Classify(d.ToolName + " " + d.DecisionType)
	}
	res := &FeedbackResult{Updated: true, Category: cat}
	log := p.logger.With("user_id", in.UserID, "decision_id", in.DecisionID, "category", cat)

	if p.graduation != nil {
		_, eligible, err := p.graduation.RecordFeedback(ctx, in.UserID, cat, in.Feedback)
		if err != nil {
			return nil, err
		}
		res.GraduationEligible = eligible
	}

	if strings.TrimSpace(d.Reasoning) != "" {
		updated, err := p.adjustForReasoning(ctx, in.UserID, d.Reasoning, in.Feedback)
		if err != nil {
			log.Error("rule confidence update failed", "error", err)
		}
		res.RuleUpdated = updated
	}

	if in.Feedback == store.FeedbackCorrected && strings.TrimSpace(in.Correction) != "" {
		id := d.ID
		cr, err := p.RecordCorrection(ctx, CorrectionInput{
			UserID:          in.UserID,
			OriginalAction:  originalAction(d),
			Correction:      in.Correction,
			ContextSnapshot: decisionContext(d),
			DecisionID:      &id,
			Category:        cat,
		})
		if err != nil {
			log.Error("recording correction failed", "error", err)
		} else {
			res.Correction = cr
		}
	}

	log.Info("feedback processed",
		"feedback", in.Feedback, "graduation_eligible", res.GraduationEligible, "rule_updated", res.RuleUpdated)
	return res, nil
}

func originalAction(d *store.Decision) string {
	action := strings.TrimSpace(d.ToolName + " " + d.DecisionType)
	if len(d.Output) > 0 {
		raw, _ := json.Marshal(d.Output)
		action += ": " + truncate(string(raw), contextSnippetLen)
	}
	if action == "" {
		action = d.Reasoning
	}
	return action
}

func decisionContext(d *store.Decision) map[string]interface{} {
	snapshot := map[string]interface{}{
		"tool_name":     d.ToolName,
		"decision_type": d.DecisionType,
	}
	if len(d.Input) > 0 {
		snapshot["input"] = d.Input
	}
	if len(d.Output) > 0 {
		snapshot["output"] = d.Output
	}
	return snapshot
}

const (
	ReactionPositive = "positive"
	ReactionNegative = "negative"
)

type MessageFeedbackInput struct {
	UserID    string
	MessageID uuid.UUID
	Feedback  string
}

type MessageFeedbackResult struct {
	Processed   bool   `json:"processed"`
	Category    string `json:"category"`
	RuleUpdated bool   `json:"rule_updated"`
}

// ProcessMessageFeedback handles a reaction to an assistant chat message.
// It uses a lexical match and smaller steps than decision feedback.
func (p *Pipeline) ProcessMessageFeedback(ctx context.Context, in MessageFeedbackInput) (*MessageFeedbackResult, error) {
	if strings.TrimSpace(in.UserID) == "" || in.MessageID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id and message_id required", ErrInvalidInput)
	}
	if in.Feedback != ReactionPositive && in.Feedback != ReactionNegative {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFeedback, in.Feedback)
	}

	msg, err := p.store.GetMessage(ctx, in.MessageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil || (msg.UserID != "" && msg.UserID != in.UserID) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, in.MessageID)
	}
	if err := p.store.SetMessageFeedback(ctx, in.MessageID, in.Feedback); err != nil {
		return nil, fmt.Errorf("set message feedback: %w", err)
	}

	res := &MessageFeedbackResult{Processed: true, Category: category.Classify(msg.Content)}
	updated, err := p.adjustForMessage(ctx, in.UserID, msg.Content, in.Feedback == ReactionPositive)
	if err != nil {
		p.logger.Error("message rule update failed", "user_id", in.UserID, "message_id", in.MessageID, "error", err)
	}
	res.RuleUpdated = updated
	return res, nil
}
