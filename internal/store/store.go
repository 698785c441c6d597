package store

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

type Feedback string

const (
	FeedbackApproved  Feedback = "approved"
	FeedbackRejected  Feedback = "rejected"
	FeedbackCorrected Feedback = "corrected"
)

func (f Feedback) Valid() bool {
	switch f {
	case FeedbackApproved, FeedbackRejected, FeedbackCorrected:
		return true
	}
	return false
}

type RuleSource string

const (
	SourceCorrectionPattern   RuleSource = "correction_pattern"
	SourceErrorClassification RuleSource = "error_classification"
)

// Preference categories written by the error classifier.
const (
	PreferencePromptGuidance  = "prompt_guidance"
	PreferenceContextPatterns = "context_patterns"
)

const (
	// RuleActiveFloor is the confidence below which a rule is deactivated.
	RuleActiveFloor = 0.3

	DefaultGraduationThreshold = 10
	MinLevel                   = 1
	MaxLevel                   = 4
	MaxBackoffMultiplier       = 8

	// MaxFailureParams bounds ToolGenome.ParameterInsights.FailureParams.
	MaxFailureParams = 10
)

type Correction struct {
	ID              uuid.UUID              `json:"id"`
	UserID          string                 `json:"user_id"`
	DecisionID      *uuid.UUID             `json:"decision_id,omitempty"`
	OriginalAction  string                 `json:"original_action"`
	Correction      string                 `json:"correction"`
	ContextSnapshot map[string]interface{} `json:"context_snapshot,omitempty"`
	Category        string                 `json:"category,omitempty"`
	PatternMatched  bool                   `json:"pattern_matched"`
	Embedding       []float32              `json:"-"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Text is the string compared and embedded for similarity.
func (c *Correction) Text() string {
	return c.Correction + " " + c.OriginalAction
}

type Rule struct {
	ID                  uuid.UUID   `json:"id"`
	UserID              string      `json:"user_id"`
	RuleText            string      `json:"rule_text"`
	Category            string      `json:"category"`
	Confidence          float64     `json:"confidence"`
	Source              RuleSource  `json:"source"`
	SourceCorrectionIDs []uuid.UUID `json:"source_correction_ids"`
	Active              bool        `json:"active"`
	ApplicationsCount   int         `json:"applications_count"`
	RejectionsCount     int         `json:"rejections_count"`
	Embedding           []float32   `json:"-"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// ClampConfidence bounds c to [0,1], rounded to four decimals so repeated
// steps do not drift around the deactivation floor.
func ClampConfidence(c float64) float64 {
	c = math.Round(c*10000) / 10000
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Adjust moves confidence by delta and bumps the matching counter. A rule that
// falls below RuleActiveFloor is deactivated. Inactive rules are frozen:
// Adjust leaves them untouched and reports false.
func (r *Rule) Adjust(delta float64, positive bool) bool {
	if !r.Active {
		return false
	}
	r.Confidence = ClampConfidence(r.Confidence + delta)
	if positive {
		r.ApplicationsCount++
	} else {
		r.RejectionsCount++
	}
	r.Active = r.Confidence >= RuleActiveFloor
	return true
}

type RuleMatch struct {
	Rule       *Rule   `json:"rule"`
	Similarity float64 `json:"similarity"`
}

type GraduationTracking struct {
	ID                   uuid.UUID  `json:"id"`
	UserID               string     `json:"user_id"`
	Category             string     `json:"category"`
	ConsecutiveApprovals int        `json:"consecutive_approvals"`
	TotalApprovals       int        `json:"total_approvals"`
	TotalRejections      int        `json:"total_rejections"`
	CurrentLevel         int        `json:"current_level"`
	GraduationThreshold  int        `json:"graduation_threshold"`
	BackoffMultiplier    int        `json:"backoff_multiplier"`
	LastApprovalAt       *time.Time `json:"last_approval_at,omitempty"`
	LastRejectionAt      *time.Time `json:"last_rejection_at,omitempty"`
	LastSuggestionAt     *time.Time `json:"last_suggestion_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// NewGraduationTracking returns the initial state for a (user, category) pair.
func NewGraduationTracking(userID, category string, threshold int) *GraduationTracking {
	if threshold <= 0 {
		threshold = DefaultGraduationThreshold
	}
	return &GraduationTracking{
		UserID:              userID,
		Category:            category,
		CurrentLevel:        MinLevel,
		GraduationThreshold: threshold,
		BackoffMultiplier:   1,
	}
}

// RequiredApprovals is the consecutive-approval count needed for the next offer.
func (g *GraduationTracking) RequiredApprovals() int {
	return g.GraduationThreshold * g.BackoffMultiplier
}

func (g *GraduationTracking) Eligible() bool {
	return g.ConsecutiveApprovals >= g.RequiredApprovals() && g.CurrentLevel < MaxLevel
}

// RecordFeedback applies an approved or a rejected/corrected outcome.
func (g *GraduationTracking) RecordFeedback(approved bool, at time.Time) {
	if approved {
		g.ConsecutiveApprovals++
		g.TotalApprovals++
		g.LastApprovalAt = &at
		if g.Eligible() {
			g.LastSuggestionAt = &at
		}
	} else {
		g.ConsecutiveApprovals = 0
		g.TotalRejections++
		g.LastRejectionAt = &at
	}
	g.UpdatedAt = at
}

func (g *GraduationTracking) Accept(at time.Time) {
	g.CurrentLevel++
	if g.CurrentLevel > MaxLevel {
		g.CurrentLevel = MaxLevel
	}
	g.ConsecutiveApprovals = 0
	g.BackoffMultiplier = 1
	g.UpdatedAt = at
}

func (g *GraduationTracking) Decline(at time.Time) {
	g.ConsecutiveApprovals = 0
	g.BackoffMultiplier *= 2
	if g.BackoffMultiplier > MaxBackoffMultiplier {
		g.BackoffMultiplier = MaxBackoffMultiplier
	}
	g.UpdatedAt = at
}

// Decision is an agent action created upstream; only the feedback fields are written here.
type Decision struct {
	ID              uuid.UUID              `json:"id"`
	UserID          string                 `json:"user_id"`
	ToolName        string                 `json:"tool_name"`
	DecisionType    string                 `json:"decision_type"`
	Input           map[string]interface{} `json:"input,omitempty"`
	Output          map[string]interface{} `json:"output,omitempty"`
	Reasoning       string                 `json:"reasoning,omitempty"`
	OwnerFeedback   Feedback               `json:"owner_feedback,omitempty"`
	OwnerCorrection string                 `json:"owner_correction,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// ChatMessage is an assistant message the owner can react to.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Feedback  string    `json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ParameterInsights struct {
	FailureParams [][]string `json:"failure_params"`
}

type ToolGenome struct {
	ID                uuid.UUID         `json:"id"`
	UserID            string            `json:"user_id"`
	ToolName          string            `json:"tool_name"`
	FailurePatterns   map[string]int    `json:"failure_patterns"`
	ParameterInsights ParameterInsights `json:"parameter_insights"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// RecordFailure counts patternKey and appends params, evicting the oldest
// entry once MaxFailureParams is exceeded.
func (g *ToolGenome) RecordFailure(patternKey string, params []string) {
	if g.FailurePatterns == nil {
		g.FailurePatterns = make(map[string]int)
	}
	g.FailurePatterns[patternKey]++
	g.ParameterInsights.FailureParams = append(g.ParameterInsights.FailureParams, params)
	if n := len(g.ParameterInsights.FailureParams); n > MaxFailureParams {
		g.ParameterInsights.FailureParams = g.ParameterInsights.FailureParams[n-MaxFailureParams:]
	}
}

// Preference is a keyed, last-write-wins learning artifact.
type Preference struct {
	ID        uuid.UUID              `json:"id"`
	UserID    string                 `json:"user_id"`
	Category  string                 `json:"category"`
	Key       string                 `json:"key"`
	Value     string                 `json:"value"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type AutonomySettings struct {
	UserID            string            `json:"user_id"`
	CategoryOverrides map[string]string `json:"category_overrides"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type Store interface {
	// Corrections
	CreateCorrection(ctx context.Context, c *Correction) error
	ListUnmatchedCorrections(ctx context.Context, userID string, limit int) ([]*Correction, error)
	MarkCorrectionsMatched(ctx context.Context, ids []uuid.UUID) error

	// Rules
	CreateRule(ctx context.Context, r *Rule) error
	GetRule(ctx context.Context, id uuid.UUID) (*Rule, error)
	ListRules(ctx context.Context, userID string, activeOnly bool) ([]*Rule, error)
	SearchSimilarRules(ctx context.Context, userID string, embedding []float32, limit int) ([]RuleMatch, error)
	AdjustRuleConfidence(ctx context.Context, id uuid.UUID, delta float64, positive bool) (*Rule, error)

	// Decisions and messages (owned upstream)
	CreateDecision(ctx context.Context, d *Decision) error
	GetDecision(ctx context.Context, id uuid.UUID) (*Decision, error)
	SetDecisionFeedback(ctx context.Context, id uuid.UUID, feedback Feedback, correction string) error
	CreateMessage(ctx context.Context, m *ChatMessage) error
	GetMessage(ctx context.Context, id uuid.UUID) (*ChatMessage, error)
	SetMessageFeedback(ctx context.Context, id uuid.UUID, feedback string) error

	// Graduation (atomic per row)
	GetGraduation(ctx context.Context, userID, category string) (*GraduationTracking, error)
	ListGraduations(ctx context.Context, userID string) ([]*GraduationTracking, error)
	RecordGraduationFeedback(ctx context.Context, userID, category string, approved bool, threshold int) (*GraduationTracking, error)
	AcceptGraduation(ctx context.Context, userID, category string, threshold int) (*GraduationTracking, error)
	DeclineGraduation(ctx context.Context, userID, category string, threshold int) (*GraduationTracking, error)

	// Autonomy
	GetAutonomySettings(ctx context.Context, userID string) (*AutonomySettings, error)
	SetAutonomyOverride(ctx context.Context, userID, category, level string) error

	// Learning artifacts
	UpsertPreference(ctx context.Context, p *Preference) error
	RecordToolFailure(ctx context.Context, userID, toolName, patternKey string, params []string) (*ToolGenome, error)

	Close() error
}
