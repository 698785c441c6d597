// Package graduation tracks consecutive approvals per (user, category) and
// grants autonomy one level at a time when the owner accepts an offer.
package graduation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MikeSquared-Agency/Steward/internal/hermes"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

var transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "steward_graduation_transitions_total",
	Help: "Graduation state transitions by kind.",
}, []string{"transition"})

// Status is the read-only eligibility view for one (user, category).
type Status struct {
	Eligible             bool   `json:"eligible"`
	Category             string `json:"category"`
	CurrentLevel         int    `json:"current_level"`
	ConsecutiveApprovals int    `json:"consecutive_approvals"`
	// Threshold is the approvals required for the next offer, backoff included.
	Threshold         int `json:"threshold"`
	BaseThreshold     int `json:"base_threshold"`
	BackoffMultiplier int `json:"backoff_multiplier"`
}

// StatusOf projects a tracking row onto its eligibility view.
func StatusOf(g *store.GraduationTracking) *Status {
	return &Status{
		Eligible:             g.Eligible(),
		Category:             g.Category,
		CurrentLevel:         g.CurrentLevel,
		ConsecutiveApprovals: g.ConsecutiveApprovals,
		Threshold:            g.RequiredApprovals(),
		BaseThreshold:        g.GraduationThreshold,
		BackoffMultiplier:    g.BackoffMultiplier,
	}
}

// LevelLabel maps the internal 1-4 scale onto the L0-L3 autonomy labels.
func LevelLabel(level int) string {
	return fmt.Sprintf("L%d", level-1)
}

type Tracker struct {
	store     store.Store
	events    hermes.Client
	threshold int
	logger    *slog.Logger
}

func NewTracker(s store.Store, h hermes.Client, threshold int, logger *slog.Logger) *Tracker {
	if threshold <= 0 {
		threshold = store.DefaultGraduationThreshold
	}
	return &Tracker{store: s, events: h, threshold: threshold, logger: logger}
}

// RecordFeedback applies one decision outcome and reports whether the pair is
// now eligible for graduation.
func (t *Tracker) RecordFeedback(ctx context.Context, userID, category string, feedback store.Feedback) (*store.GraduationTracking, bool, error) {
	approved := feedback == store.FeedbackApproved
	g, err := t.store.RecordGraduationFeedback(ctx, userID, category, approved, t.threshold)
	if err != nil {
		return nil, false, fmt.Errorf("record graduation feedback: %w", err)
	}

	if approved {
		transitions.WithLabelValues("approved").Inc()
	} else {
		transitions.WithLabelValues("reset").Inc()
	}

	eligible := g.Eligible()
	// Announce only the first crossing; later approvals keep it eligible quietly.
	if eligible && g.ConsecutiveApprovals == g.RequiredApprovals() {
		transitions.WithLabelValues("eligible").Inc()
		t.logger.Info("graduation eligible",
			"user_id", userID, "category", category,
			"level", g.CurrentLevel, "consecutive_approvals", g.ConsecutiveApprovals)
		hermes.PublishEvent(t.events, t.logger, hermes.SubjectGraduationEligible, t.event(g, ""))
	}
	return g, eligible, nil
}

// Check recomputes eligibility without writing. A pair with no feedback yet
// reports the initial state.
func (t *Tracker) Check(ctx context.Context, userID, category string) (*Status, error) {
	g, err := t.store.GetGraduation(ctx, userID, category)
	if err != nil {
		return nil, fmt.Errorf("get graduation: %w", err)
	}
	if g == nil {
		g = store.NewGraduationTracking(userID, category, t.threshold)
	}
	return StatusOf(g), nil
}

// Accept raises the level by one and records the new autonomy label.
func (t *Tracker) Accept(ctx context.Context, userID, category string) (*store.GraduationTracking, error) {
	g, err := t.store.AcceptGraduation(ctx, userID, category, t.threshold)
	if err != nil {
		return nil, fmt.Errorf("accept graduation: %w", err)
	}

	label := LevelLabel(g.CurrentLevel)
	if err := t.store.SetAutonomyOverride(ctx, userID, category, label); err != nil {
		return nil, fmt.Errorf("set autonomy override: %w", err)
	}

	transitions.WithLabelValues("accepted").Inc()
	t.logger.Info("graduation accepted",
		"user_id", userID, "category", category, "level", g.CurrentLevel, "autonomy_level", label)
	hermes.PublishEvent(t.events, t.logger, hermes.SubjectGraduationAccepted, t.event(g, label))
	return g, nil
}

// Decline doubles the backoff so the next offer needs twice the approvals.
func (t *Tracker) Decline(ctx context.Context, userID, category string) (*store.GraduationTracking, error) {
	g, err := t.store.DeclineGraduation(ctx, userID, category, t.threshold)
	if err != nil {
		return nil, fmt.Errorf("decline graduation: %w", err)
	}

	transitions.WithLabelValues("declined").Inc()
	t.logger.Info("graduation declined",
		"user_id", userID, "category", category, "backoff_multiplier", g.BackoffMultiplier)
	hermes.PublishEvent(t.events, t.logger, hermes.SubjectGraduationDeclined, t.event(g, ""))
	return g, nil
}

func (t *Tracker) event(g *store.GraduationTracking, label string) hermes.GraduationEvent {
	return hermes.GraduationEvent{
		UserID:               g.UserID,
		Category:             g.Category,
		CurrentLevel:         g.CurrentLevel,
		AutonomyLevel:        label,
		ConsecutiveApprovals: g.ConsecutiveApprovals,
		RequiredApprovals:    g.RequiredApprovals(),
		BackoffMultiplier:    g.BackoffMultiplier,
		Timestamp:            time.Now().UTC(),
	}
}
