package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/jittakal/kafhaconsumer/internal/ha"
	"go.uber.org/zap"
)

const maxRoleBodyBytes = 1 << 10

// RoleNotifier delivers role notifications to the coordinator.
type RoleNotifier interface {
	Notify(ctx context.Context, n ha.Notification) error
}

// ChannelNotifier sends notifications on a channel.
type ChannelNotifier chan<- ha.Notification

// Notify implements RoleNotifier.
func (c ChannelNotifier) Notify(ctx context.Context, n ha.Notification) error {
	select {
	case c <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type roleRequest struct {
	State string `json:"state"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// RoleHandler accepts role notifications from the election collaborator.
// Unknown states are rejected and never reach the coordinator.
func RoleHandler(notifier RoleNotifier, health *Health, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req roleRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRoleBodyBytes)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Status: http.StatusBadRequest}, logger)
			return
		}

		role, err := ha.ParseRole(req.State)
		if err != nil {
			logger.Warn("rejected role notification", zap.String("state", req.State), zap.Error(err))
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Status: http.StatusBadRequest}, logger)
			return
		}

		if err := notifier.Notify(r.Context(), ha.Notification{Role: role}); err != nil {
			logger.Error("failed to deliver role notification", zap.Stringer("role", role), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "role notification not delivered", Status: http.StatusServiceUnavailable}, logger)
			return
		}
		if health != nil {
			health.SetRole(role.String())
		}

		logger.Info("role notification accepted", zap.Stringer("role", role))
		writeJSON(w, http.StatusAccepted, map[string]string{"state": role.String()}, logger)
	}
}
