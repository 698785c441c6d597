package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/Steward/internal/hermes"
)

const natsRequestTimeout = 30 * time.Second

// SetupSubscriptions routes requests published on steward.request.<action>
// through the same dispatcher as the HTTP endpoint. The subject decides the
// action; a body naming a different one is dropped.
func SetupSubscriptions(h hermes.Client, handler *LearningHandler, logger *slog.Logger) error {
	if h == nil {
		return nil
	}
	prefix := strings.TrimSuffix(hermes.SubjectRequests, ">")

	return h.Subscribe(hermes.SubjectRequests, func(subject string, data []byte) {
		action := strings.TrimPrefix(subject, prefix)

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Warn("invalid learning request event", "subject", subject, "error", err)
			return
		}
		if req.Action != "" && req.Action != action {
			logger.Warn("learning request action does not match subject", "subject", subject, "action", req.Action)
			return
		}
		req.Action = action

		ctx, cancel := context.WithTimeout(context.Background(), natsRequestTimeout)
		defer cancel()

		if _, err := handler.Dispatch(ctx, req); err != nil {
			logger.Error("learning request from NATS failed", "action", action, "user_id", req.UserID, "error", err)
			return
		}
		logger.Debug("learning request from NATS handled", "action", action, "user_id", req.UserID)
	})
}
