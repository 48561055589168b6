package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sunswitch/sunswitch/pkg/cloud"
	"github.com/sunswitch/sunswitch/pkg/log"
	"github.com/sunswitch/sunswitch/pkg/storage"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := s.automation.Settings(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, settings)
}

// handleUpdateSettings applies the fields present in the body on top of the
// stored settings.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings, err := s.automation.Settings(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	saved, err := s.automation.SaveSettings(ctx, settings)
	if err != nil {
		s.writeAutomationError(w, r, "failed to save settings", err)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "settings updated", slog.Bool("enabled", saved.Enabled), slog.Float64("triggerKW", saved.TriggerKW))

	writeJSON(w, saved)
}

// stateReq starts or stops the automation.
type stateReq struct {
	Enabled   *bool    `json:"enabled"`
	TriggerKW *float64 `json:"triggerKW,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req stateReq
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode state", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Enabled == nil {
		writeJSONError(w, "enabled is required", http.StatusBadRequest)
		return
	}
	if *req.Enabled && req.TriggerKW == nil {
		writeJSONError(w, "triggerKW is required to start", http.StatusBadRequest)
		return
	}

	if _, err := s.automation.SetState(ctx, *req.Enabled, req.TriggerKW); err != nil {
		s.writeAutomationError(w, r, "failed to change state", err)
		return
	}

	writeJSON(w, s.automation.Status())
}

// writeAutomationError maps an automation error onto a status code.
func (s *Server) writeAutomationError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()

	var ve *cloud.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSONError(w, ve.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrStaleSettings):
		writeJSONError(w, "settings were changed by a newer version", http.StatusConflict)
	default:
		if _, ok := cloud.VendorCode(err); ok {
			log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
			writeJSONError(w, msg+": "+err.Error(), http.StatusBadGateway)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
		writeJSONError(w, msg, http.StatusInternalServerError)
	}
}
