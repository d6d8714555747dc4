package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/session"
)

// ErrStreamFailed means the challenge request failed or the stream broke.
// The conversation log and admission state are left untouched; the user
// may retry by sending another turn.
var ErrStreamFailed = errors.New("challenge stream failed")

const (
	defaultHistoryWindow = 10
	defaultStallTimeout  = 45 * time.Second
)

// Config configures a Channel.
type Config struct {
	// BaseURL of the gatekeeper API, e.g. "https://gate.example.com".
	BaseURL string
	// Tokens supplies the bearer credential per request.
	Tokens session.TokenSource
	// HTTPClient defaults to a client without an overall timeout (the
	// stall watchdog bounds reads instead, so long streams stay alive).
	HTTPClient *http.Client
	// HistoryWindow is the number of trailing turns sent upstream.
	HistoryWindow int
	// StallTimeout aborts a stream that makes no progress.
	StallTimeout time.Duration
}

// Channel opens streaming challenge exchanges. Each Converse call is a
// fresh request; streams are finite and not restartable.
type Channel struct {
	baseURL string
	httpc   *http.Client
	tokens  session.TokenSource
	window  int
	stall   time.Duration
}

// NewChannel creates a challenge channel.
func NewChannel(cfg Config) *Channel {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = defaultHistoryWindow
	}
	stall := cfg.StallTimeout
	if stall <= 0 {
		stall = defaultStallTimeout
	}
	return &Channel{
		baseURL: cfg.BaseURL,
		httpc:   httpc,
		tokens:  cfg.Tokens,
		window:  window,
		stall:   stall,
	}
}

// Outcome is the side-channel result of a completed stream. Granted is
// reported separately from the display text so the admission decision and
// the rendered conversation can never be confused.
type Outcome struct {
	// Reply is the full scrubbed assistant reply.
	Reply string
	// Granted is true iff the collaborator-authored stream contained the
	// unlock marker. User turns are request payload, never scanned.
	Granted bool
}

type chatRequest struct {
	Messages []domain.Message `json:"messages"`
}

// Converse sends the conversation (trimmed to the trailing window) and
// consumes the streamed reply. Every chunk is scrubbed before being handed
// to onChunk, so the unlock marker is never rendered — for any chunking,
// including a marker split across deliveries.
func (c *Channel) Converse(ctx context.Context, history []domain.Message, onChunk func(string)) (Outcome, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return Outcome{}, err
	}

	conv := domain.Conversation{Messages: history}
	body, err := json.Marshal(chatRequest{Messages: conv.Tail(c.window)})
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal chat request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	// A stream that neither progresses nor errors must not hang the UI;
	// the watchdog turns a stall into a network failure.
	watchdog := time.AfterFunc(c.stall, cancel)
	defer watchdog.Stop()

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrStreamFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Outcome{}, session.ErrAuthExpired
	case resp.StatusCode != http.StatusOK:
		return Outcome{}, fmt.Errorf("%w: gatekeeper returned %d", ErrStreamFailed, resp.StatusCode)
	}

	scrub := NewScrubber(domain.UnlockMarker)
	var reply bytes.Buffer
	buf := make([]byte, 2048)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(c.stall)
			if clean := scrub.Scan(string(buf[:n])); clean != "" {
				reply.WriteString(clean)
				if onChunk != nil {
					onChunk(clean)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Outcome{}, fmt.Errorf("%w: %v", ErrStreamFailed, readErr)
		}
	}

	if tail := scrub.Flush(); tail != "" {
		reply.WriteString(tail)
		if onChunk != nil {
			onChunk(tail)
		}
	}

	return Outcome{Reply: reply.String(), Granted: scrub.Detected()}, nil
}
