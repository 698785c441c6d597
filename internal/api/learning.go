package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MikeSquared-Agency/Steward/internal/category"
	"github.com/MikeSquared-Agency/Steward/internal/graduation"
	"github.com/MikeSquared-Agency/Steward/internal/learning"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

const (
	ActionRecordCorrection       = "record_correction"
	ActionProcessFeedback        = "process_feedback"
	ActionProcessMessageFeedback = "process_message_feedback"
	ActionCheckGraduation        = "check_graduation"
	ActionAcceptGraduation       = "accept_graduation"
	ActionDeclineGraduation      = "decline_graduation"
	ActionClassifyAndLearn       = "classify_and_learn"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	errBadRequest    = errors.New("bad request")
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steward_requests_total",
		Help: "Learning requests by action and result.",
	}, []string{"action", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "steward_request_duration_seconds",
		Help:    "Learning request latency by action.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})
)

// Request is the body of the single learning entry point. Which fields are
// required depends on Action.
type Request struct {
	Action string `json:"action"`
	UserID string `json:"user_id"`

	OriginalAction  string                 `json:"original_action,omitempty"`
	Correction      string                 `json:"correction,omitempty"`
	ContextSnapshot map[string]interface{} `json:"context_snapshot,omitempty"`

	DecisionID string `json:"decision_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Feedback   string `json:"feedback,omitempty"`
	Category   string `json:"category,omitempty"`

	ErrorType    string      `json:"error_type,omitempty"`
	ToolName     string      `json:"tool_name,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	InputSummary interface{} `json:"input_summary,omitempty"`
}

type AcceptResult struct {
	NewLevel      int    `json:"new_level"`
	AutonomyLevel string `json:"autonomy_level"`
	Category      string `json:"category"`
}

type DeclineResult struct {
	Success           bool   `json:"success"`
	Category          string `json:"category"`
	BackoffMultiplier int    `json:"backoff_multiplier"`
}

type LearningHandler struct {
	pipeline *learning.Pipeline
	tracker  *graduation.Tracker
	logger   *slog.Logger
}

func NewLearningHandler(p *learning.Pipeline, t *graduation.Tracker, logger *slog.Logger) *LearningHandler {
	return &LearningHandler{pipeline: p, tracker: t, logger: logger}
}

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func parseID(name, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, badRequest("%s required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, badRequest("invalid %s", name)
	}
	return id, nil
}

func requireCategory(c string) error {
	if c == "" {
		return badRequest("category required")
	}
	if !category.Valid(c) {
		return badRequest("unknown category %q", c)
	}
	return nil
}

// Handle serves POST /api/v1/learning.
func (h *LearningHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.Dispatch(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("learning request failed", "action", req.Action, "user_id", req.UserID, "error", err)
			writeJSON(w, status, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Dispatch runs one action. It is shared by the HTTP and NATS entry points.
func (h *LearningHandler) Dispatch(ctx context.Context, req Request) (interface{}, error) {
	start := time.Now()
	label := req.Action
	if !knownAction(label) {
		label = "unknown"
	}

	result, err := h.dispatch(ctx, req)

	requestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		if statusFor(err) < http.StatusInternalServerError {
			status = "rejected"
		}
	}
	requestsTotal.WithLabelValues(label, status).Inc()
	return result, err
}

func knownAction(a string) bool {
	switch a {
	case ActionRecordCorrection, ActionProcessFeedback, ActionProcessMessageFeedback,
		ActionCheckGraduation, ActionAcceptGraduation, ActionDeclineGraduation, ActionClassifyAndLearn:
		return true
	}
	return false
}

func (h *LearningHandler) dispatch(ctx context.Context, req Request) (interface{}, error) {
	if req.Action == "" {
		return nil, badRequest("action required")
	}
	if !knownAction(req.Action) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, badRequest("user_id required")
	}

	switch req.Action {
	case ActionRecordCorrection:
		if req.ContextSnapshot == nil {
			return nil, badRequest("context_snapshot required")
		}
		in := learning.CorrectionInput{
			UserID:          req.UserID,
			OriginalAction:  req.OriginalAction,
			Correction:      req.Correction,
			ContextSnapshot: req.ContextSnapshot,
			Category:        req.Category,
		}
		if req.DecisionID != "" {
			id, err := parseID("decision_id", req.DecisionID)
			if err != nil {
				return nil, err
			}
			in.DecisionID = &id
		}
		return h.pipeline.RecordCorrection(ctx, in)

	case ActionProcessFeedback:
		id, err := parseID("decision_id", req.DecisionID)
		if err != nil {
			return nil, err
		}
		return h.pipeline.ProcessFeedback(ctx, learning.FeedbackInput{
			UserID:     req.UserID,
			DecisionID: id,
			Feedback:   store.Feedback(req.Feedback),
			Correction: req.Correction,
			Category:   req.Category,
		})

	case ActionProcessMessageFeedback:
		id, err := parseID("message_id", req.MessageID)
		if err != nil {
			return nil, err
		}
		return h.pipeline.ProcessMessageFeedback(ctx, learning.MessageFeedbackInput{
			UserID:    req.UserID,
			MessageID: id,
			Feedback:  req.Feedback,
		})

	case ActionCheckGraduation:
		if err := requireCategory(req.Category); err != nil {
			return nil, err
		}
		return h.tracker.Check(ctx, req.UserID, req.Category)

	case ActionAcceptGraduation:
		if err := requireCategory(req.Category); err != nil {
			return nil, err
		}
		g, err := h.tracker.Accept(ctx, req.UserID, req.Category)
		if err != nil {
			return nil, err
		}
		return &AcceptResult{
			NewLevel:      g.CurrentLevel,
			AutonomyLevel: graduation.LevelLabel(g.CurrentLevel),
			Category:      g.Category,
		}, nil

	case ActionDeclineGraduation:
		if err := requireCategory(req.Category); err != nil {
			return nil, err
		}
		g, err := h.tracker.Decline(ctx, req.UserID, req.Category)
		if err != nil {
			return nil, err
		}
		return &DeclineResult{Success: true, Category: g.Category, BackoffMultiplier: g.BackoffMultiplier}, nil

	default: // ActionClassifyAndLearn
		return h.pipeline.ClassifyAndLearn(ctx, learning.ErrorInput{
			UserID:       req.UserID,
			ErrorType:    learning.ErrorType(req.ErrorType),
			ToolName:     req.ToolName,
			ErrorMessage: req.ErrorMessage,
			InputSummary: req.InputSummary,
			Category:     req.Category,
		})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ErrUnknownAction),
		errors.Is(err, learning.ErrInvalidInput),
		errors.Is(err, learning.ErrInvalidFeedback),
		errors.Is(err, learning.ErrInvalidErrorType),
		errors.Is(err, learning.ErrInvalidCategory):
		return http.StatusBadRequest
	case errors.Is(err, learning.ErrDecisionNotFound),
		errors.Is(err, learning.ErrMessageNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
