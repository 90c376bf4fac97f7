package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/A-new/ironbee/pkg/rule/manager"
	"github.com/A-new/ironbee/pkg/telemetry/logging"
	"github.com/A-new/ironbee/pkg/tx"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.opts.Rules.Status())
}

// handleReload rebuilds the rule set. On failure the previous set stays
// active and the response carries the error with the unchanged status.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Rules.Reload(); err != nil {
		s.logger.WarnContext(r.Context(), "rule reload via admin API failed", "error", err)
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"status": s.opts.Rules.Status(),
		})
		return
	}
	respondJSON(w, http.StatusOK, s.opts.Rules.Status())
}

// handleEvaluate runs a transaction fixture, sent as JSON, through every
// lifecycle phase and returns the outcome.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxEvaluateBody)).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	spec, err := tx.DecodeSpec(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err)
		return
	}
	t, err := spec.Build()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err)
		return
	}

	ctx := logging.WithTxID(r.Context(), t.ID())
	results, err := s.opts.Rules.EvaluateAll(ctx, t)
	if errors.Is(err, manager.ErrNotLoaded) {
		respondError(w, http.StatusServiceUnavailable, "rules not loaded", err)
		return
	}
	respondJSON(w, http.StatusOK, manager.Summarize(t, results, err))
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		body["detail"] = err.Error()
	}
	respondJSON(w, status, body)
}
