package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/auth"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/metrics"
)

// wsMessage is the socket frame envelope. The client sends type "chat"
// with a message history; the server answers with "chunk" frames, then
// one "done" (or "error").
type wsMessage struct {
	Type     string           `json:"type"`
	Error    string           `json:"error,omitempty"`
	Content  string           `json:"content,omitempty"`
	Messages []domain.Message `json:"messages,omitempty"`
}

// HandleWS serves the WebSocket chat transport. Same relay semantics as
// the chunked HTTP endpoint, for clients that prefer a socket.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.originAllowed(r) {
		Error(w, http.StatusForbidden, "origin forbidden")
		return
	}

	patterns := h.cfg.AllowedOrigins
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: patterns,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "email", identity.Email)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "session ended")
	}()

	ctx := r.Context()
	slog.Info("websocket chat connected", "email", identity.Email)

	for {
		var frame wsMessage
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			var closeErr websocket.CloseError
			if !errors.As(err, &closeErr) && ctx.Err() == nil {
				slog.Debug("websocket read failed", "error", err)
			}
			return
		}
		if frame.Type != "chat" {
			_ = wsjson.Write(ctx, ws, wsMessage{Type: "error", Error: "unknown message type"})
			continue
		}

		req := chatRequest{Messages: frame.Messages}

		if !h.limiter.Allow(identity.Email) {
			_ = wsjson.Write(ctx, ws, wsMessage{Type: "error", Error: "rate limit exceeded"})
			continue
		}
		if reason := h.validateChat(req); reason != "" {
			_ = wsjson.Write(ctx, ws, wsMessage{Type: "error", Error: reason})
			continue
		}

		metrics.ChatRequests.WithLabelValues("ws").Inc()
		h.logUserMessage(identity.Email, "chat_ws", req.Messages)

		emit := func(chunk string) error {
			return wsjson.Write(ctx, ws, wsMessage{Type: "chunk", Content: chunk})
		}
		h.relay(ctx, identity.Email, "chat_ws", req.Messages, emit)

		if err := wsjson.Write(ctx, ws, wsMessage{Type: "done"}); err != nil {
			return
		}
	}
}
