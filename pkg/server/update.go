package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sunswitch/sunswitch/pkg/controller"
	"github.com/sunswitch/sunswitch/pkg/log"
)

// handleUpdate runs one automation cycle now, e.g. from Cloud Scheduler.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	action, err := s.automation.RunOnce(ctx)
	if errors.Is(err, controller.ErrDisabled) {
		log.Ctx(ctx).InfoContext(ctx, "update: disabled")
		// We return 200 OK so the scheduler doesn't think it failed
		writeJSON(w, map[string]interface{}{
			"status": "disabled",
		})
		return
	}
	if err != nil {
		s.writeAutomationError(w, r, "update failed", err)
		return
	}

	log.Ctx(ctx).DebugContext(ctx, "update: complete", slog.Bool("switchOn", action.SwitchOn), slog.Bool("sent", action.Sent))
	writeJSON(w, action)
}
