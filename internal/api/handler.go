// Package api provides HTTP handlers for the gatekeeper API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/archive"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/auth"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/config"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/exporter"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/gatekeeper"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/logbuf"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/metrics"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/middleware"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/store"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// archivedChatLimit caps the chat log stored with a submission.
const archivedChatLimit = 50

// studentIDPattern matches the institutional identifier, e.g. 2023A7PS0042P.
var studentIDPattern = regexp.MustCompile(`^[0-9]{4}[A-Z][0-9][A-Z]{2}[0-9]{4}[PHG]$`)

// Handler serves the funnel API.
type Handler struct {
	repo     store.Repository
	engine   *gatekeeper.Engine
	cfg      *config.Config
	limiter  *middleware.RateLimiter
	archiver archive.Archiver
	exp      *exporter.Exporter
	logRing  *logbuf.Ring
}

// NewHandler creates the API handler. archiver may be archive.Noop, exp
// may be nil (exporting disabled), logRing may be nil (no admin tail).
func NewHandler(repo store.Repository, engine *gatekeeper.Engine, cfg *config.Config, archiver archive.Archiver, exp *exporter.Exporter, logRing *logbuf.Ring) *Handler {
	if archiver == nil {
		archiver = archive.Noop{}
	}
	return &Handler{
		repo:     repo,
		engine:   engine,
		cfg:      cfg,
		limiter:  middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		archiver: archiver,
		exp:      exp,
		logRing:  logRing,
	}
}

// RegisterRoutes mounts all API routes. authMW guards the candidate
// endpoints; admin endpoints are gated by the shared secret instead.
func (h *Handler) RegisterRoutes(r chi.Router, authMW func(http.Handler) http.Handler) {
	r.Get("/api/config", h.HandleConfig)

	r.Group(func(r chi.Router) {
		r.Use(authMW)
		r.Post("/api/chat", h.HandleChat)
		r.Get("/api/status", h.HandleStatus)
		r.Post("/api/submit", h.HandleSubmit)
		r.Get("/ws/chat", h.HandleWS)
	})

	r.Post("/admin/emergency_override", h.HandleEmergencyOverride)
	r.Get("/admin/logs", h.HandleLogs)
	r.Get("/admin/health", h.HandleHealth)
	r.Post("/admin/sync", h.HandleSync)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// HandleConfig serves the public identity-provider web config.
func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.cfg.Firebase)
}

// HandleStatus answers the status oracle query: has this identity
// already submitted. The echoed email lets clients scope their caches
// to the verified principal.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	submitted, err := h.repo.HasSubmission(r.Context(), identity.Email)
	if err != nil {
		Error(w, http.StatusInternalServerError, "status lookup failed")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"submitted": submitted,
		"email":     identity.Email,
	})
}

// HandleSubmit persists the one-shot submission for an admitted identity.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !strings.HasSuffix(identity.Email, "@"+h.cfg.AllowedEmailDomain) {
		metrics.SubmissionsRejected.WithLabelValues("domain").Inc()
		Error(w, http.StatusForbidden, "Access Restricted: "+h.cfg.AllowedEmailDomain+" email required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var sub domain.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !studentIDPattern.MatchString(sub.StudentID) {
		metrics.SubmissionsRejected.WithLabelValues("validation").Inc()
		Error(w, http.StatusBadRequest, "invalid student_id")
		return
	}
	if len(sub.Preference) == 0 {
		metrics.SubmissionsRejected.WithLabelValues("validation").Inc()
		Error(w, http.StatusBadRequest, "preference is required")
		return
	}

	// Only the gatekeeper opens the gate. The emergency kill switch
	// waives this since its override stream admits everyone anyway.
	if !h.engine.Emergency() {
		granted, err := h.repo.HasAdmission(r.Context(), identity.Email)
		if err != nil {
			Error(w, http.StatusInternalServerError, "admission lookup failed")
			return
		}
		if !granted {
			metrics.SubmissionsRejected.WithLabelValues("no_grant").Inc()
			Error(w, http.StatusForbidden, "The Gatekeeper has not granted you access")
			return
		}
	}

	name := sub.Name
	if name == "" {
		name = identity.Name
	}
	conv := domain.Conversation{Messages: sub.ChatHistory}
	rec := &domain.SubmissionRecord{
		Email:       identity.Email,
		Name:        name,
		StudentID:   sub.StudentID,
		Preference:  sub.Preference,
		Skills:      sub.Skills,
		Commitments: sub.Commitments,
		Notes:       sub.Notes,
		ChatHistory: conv.Tail(archivedChatLimit),
		CreatedAt:   time.Now(),
	}

	if _, err := h.repo.SaveSubmission(r.Context(), rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			metrics.SubmissionsRejected.WithLabelValues("duplicate").Inc()
			Error(w, http.StatusConflict, "a submission already exists for this identity")
			return
		}
		Error(w, http.StatusInternalServerError, "database save failed")
		return
	}

	metrics.SubmissionsSaved.Inc()
	if transcript, err := json.Marshal(rec.ChatHistory); err == nil {
		h.archiver.Log(archive.Event{
			Email:      identity.Email,
			Channel:    "submission",
			Direction:  "outbound",
			EventType:  "submission_archived",
			ContentRaw: string(transcript),
			Meta:       map[string]any{"student_id": rec.StudentID},
		})
	}

	JSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"email":  identity.Email,
	})
}

// originAllowed enforces origin locking for browser clients. Requests
// without an Origin header (CLI, curl) pass; a present header must
// match the allow list.
func (h *Handler) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.limiter.Close()
}
