package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
)

// adminSecretOK checks the shared secret from the X-Admin-Secret header
// or the secret query param (the original log viewer used a query).
func (h *Handler) adminSecretOK(r *http.Request, bodySecret string) bool {
	for _, candidate := range []string{r.Header.Get("X-Admin-Secret"), r.URL.Query().Get("secret"), bodySecret} {
		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(h.cfg.AdminSecret)) == 1 {
			return true
		}
	}
	return false
}

type emergencyToggle struct {
	Secret string `json:"secret"`
	Enable bool   `json:"enable"`
}

// HandleEmergencyOverride flips the gatekeeper kill switch. While
// active the model is bypassed and every candidate passes.
func (h *Handler) HandleEmergencyOverride(w http.ResponseWriter, r *http.Request) {
	var req emergencyToggle
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.adminSecretOK(r, req.Secret) {
		Error(w, http.StatusForbidden, "unauthorized")
		return
	}

	h.engine.SetEmergency(req.Enable)
	status := "DEACTIVATED (Gatekeeper Online)"
	if req.Enable {
		status = "ACTIVATED (Gatekeeper Disabled)"
	}
	slog.Warn("emergency override toggled", "enabled", req.Enable)

	JSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"mode":   status,
	})
}

// HandleLogs serves the in-memory log tail as plain text.
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	if !h.adminSecretOK(r, "") {
		Error(w, http.StatusForbidden, "unauthorized")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.logRing == nil {
		_, _ = w.Write([]byte("log buffer not configured\n"))
		return
	}
	_, _ = w.Write([]byte(h.logRing.String()))
}

// HandleHealth reports database connectivity and candidate stats.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.adminSecretOK(r, "") {
		Error(w, http.StatusForbidden, "unauthorized")
		return
	}

	dbConnected := h.repo.Ping(r.Context()) == nil
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		slog.Error("failed to read stats", "error", err)
	}

	JSON(w, http.StatusOK, map[string]any{
		"db_connected": dbConnected,
		"emergency":    h.engine.Emergency(),
		"stats":        stats,
	})
}

// HandleSync triggers an export pass outside the worker schedule.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if !h.adminSecretOK(r, "") {
		Error(w, http.StatusForbidden, "unauthorized")
		return
	}
	if h.exp == nil {
		JSON(w, http.StatusOK, map[string]string{"result": "export disabled"})
		return
	}

	res, err := h.exp.Sync(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "sync failed: "+err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{"result": res})
}
