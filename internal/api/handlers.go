package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aquawatch-backend/internal/escalate"
	"aquawatch-backend/internal/heartbeat"
	"aquawatch-backend/internal/ingest"
)

type Handler struct {
	Pipeline  *ingest.Pipeline
	Hearts    *heartbeat.Machine
	Escalator *escalate.Engine
	Timeout   time.Duration
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ingest/secure", h.handleSecureIngest)
	r.Post("/ingest", h.handleIngest)
	r.Post("/heartbeat", h.handleHeartbeat)
	r.Post("/alerts/check", h.handleAlertCheck)
	r.Get("/healthz", h.handleHealthz)
}

// handleSecureIngest accepts signed telemetry. Every validation failure maps
// to the same 403 shape so a network attacker cannot tell which check
// refused the message; the security-event log records the real reason.
func (h *Handler) handleSecureIngest(w http.ResponseWriter, r *http.Request) {
	var msg ingest.SecureMessage
	if err := decodeJSON(r, &msg); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "Malformed payload"})
		return
	}
	if msg.DeviceID == "" || msg.Timestamp == "" || msg.Nonce == 0 || msg.Signature == "" {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "Missing required fields"})
		return
	}

	ctx, cancel := contextWithTimeout(r, h.Timeout)
	defer cancel()
	result, err := h.Pipeline.IngestSecure(ctx, msg, r.RemoteAddr)
	if err != nil {
		var rej *ingest.RejectionError
		if errors.As(err, &rej) {
			body := map[string]any{"error": rej.Message}
			if rej.Reason == ingest.RejectBlocked {
				body["reason"] = rej.BlockReason
			}
			writeJSON(w, http.StatusForbidden, body)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "ingestion failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "nonce": result.Nonce})
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var msg ingest.SimpleMessage
	if err := decodeJSON(r, &msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if msg.APIKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing api_key"})
		return
	}

	ctx, cancel := contextWithTimeout(r, h.Timeout)
	defer cancel()
	result, err := h.Pipeline.IngestSimple(ctx, msg)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidAPIKey) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid API Key"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "ingestion failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"message":          "Data ingested",
		"alerts_triggered": result.AlertsTriggered,
	})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string   `json:"device_id"`
		Voltage  *float64 `json:"voltage,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if req.DeviceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing device_id"})
		return
	}

	ctx, cancel := contextWithTimeout(r, h.Timeout)
	defer cancel()
	now := h.Pipeline.Now()
	state, err := h.Hearts.Apply(ctx, req.DeviceID, req.Voltage, now)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "heartbeat update failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    state,
		"timestamp": now.Format(time.RFC3339),
	})
}

func (h *Handler) handleAlertCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, h.Timeout)
	defer cancel()
	result, err := h.Escalator.Run(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "escalation sweep failed"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func contextWithTimeout(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeout)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
