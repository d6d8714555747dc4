package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/archive"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/auth"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/challenge"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/metrics"
)

type chatRequest struct {
	Messages []domain.Message `json:"messages"`
}

// validateChat enforces the payload limits shared by both transports.
// Returns a non-empty reason when the request must be rejected.
func (h *Handler) validateChat(req chatRequest) string {
	if len(req.Messages) == 0 {
		return "messages are required"
	}
	if len(req.Messages) > h.cfg.MaxHistory+1 {
		return "payload too large: history exceeds limit"
	}
	for _, m := range req.Messages {
		if len(m.Content) > h.cfg.MaxMessageChars {
			return "message too long"
		}
	}
	return ""
}

// HandleChat relays the persona stream as chunked text/plain. The
// unlock marker is relayed verbatim (clients scrub it before display);
// a server-side scrubber observes the same bytes and records the
// admission grant, so the grant decision never depends on the client.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.originAllowed(r) {
		slog.Warn("blocked chat request from invalid origin", "origin", r.Header.Get("Origin"))
		Error(w, http.StatusForbidden, "origin forbidden")
		return
	}

	if !h.limiter.Allow(identity.Email) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if reason := h.validateChat(req); reason != "" {
		Error(w, http.StatusBadRequest, reason)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.ChatRequests.WithLabelValues("http").Inc()
	h.logUserMessage(identity.Email, "chat_http", req.Messages)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	emit := func(chunk string) error {
		if _, err := w.Write([]byte(chunk)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	h.relay(r.Context(), identity.Email, "chat_http", req.Messages, emit)
}

// relay runs one engine stream, forwards chunks through emit, and
// records the admission grant when the completed stream contained the
// unlock marker.
func (h *Handler) relay(ctx context.Context, email, channel string, history []domain.Message, emit func(string) error) {
	observer := challenge.NewScrubber(domain.UnlockMarker)
	var reply []byte
	failed := false

	for chunk, err := range h.engine.Respond(ctx, history) {
		if err != nil {
			metrics.StreamFailures.Inc()
			slog.Error("persona stream failed", "email", email, "error", err)
			failed = true
			break
		}
		observer.Scan(chunk)
		reply = append(reply, chunk...)
		if err := emit(chunk); err != nil {
			slog.Warn("client disconnected mid-stream", "email", email, "error", err)
			failed = true
			break
		}
	}
	observer.Flush()

	// Only a completed assistant-authored stream can grant admission.
	if !failed && observer.Detected() {
		if err := h.repo.RecordAdmission(ctx, email, time.Now()); err != nil {
			slog.Error("failed to record admission grant", "email", email, "error", err)
		} else {
			metrics.AdmissionsGranted.Inc()
			slog.Info("admission granted", "email", email)
		}
	}

	h.archiver.Log(archive.Event{
		Email:      email,
		Channel:    channel,
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: string(reply),
		Meta: map[string]any{
			"partial": failed,
			"granted": observer.Detected(),
		},
	})
}

func (h *Handler) logUserMessage(email, channel string, history []domain.Message) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUser {
			h.archiver.Log(archive.Event{
				Email:      email,
				Channel:    channel,
				Direction:  "outbound",
				EventType:  "chat_user_message",
				ContentRaw: history[i].Content,
			})
			return
		}
	}
}
