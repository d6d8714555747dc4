// Package submit implements the submission guard: it validates and
// submits the end-of-funnel payload exactly once per identity, enforcing
// idempotency even across reloads and concurrent invocations.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/funnel"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/session"
)

// chatLogLimit caps the archived conversation to respect payload limits
// of the storage collaborator.
const chatLogLimit = 50

// studentIDPattern matches the institutional identifier, e.g. 2023A7PS0042P.
var studentIDPattern = regexp.MustCompile(`^[0-9]{4}[A-Z][0-9][A-Z]{2}[0-9]{4}[PHG]$`)

var (
	// ErrNotAdmitted means the funnel has not reached the Admitted phase.
	ErrNotAdmitted = errors.New("submission requires admitted standing")
	// ErrAlreadySubmitted means a record already exists; terminal.
	ErrAlreadySubmitted = errors.New("submission already recorded for this identity")
	// ErrInFlight means a submission for this session is already underway.
	// The trigger disables on first invocation, not on response, so a
	// double click can never produce two requests.
	ErrInFlight = errors.New("submission already in progress")
)

// ValidationError is a local precondition failure; it never reaches the
// collaborator.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RejectedError carries the collaborator's human-readable rejection.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "submission rejected: " + e.Reason
}

// Guard submits the payload at most once. It consults the status oracle
// before writing whenever the machine's standing is unverified — a cached
// Admitted is good enough to render a form, never to authorize a write.
type Guard struct {
	endpoint string
	httpc    *http.Client
	tokens   session.TokenSource
	machine  *funnel.Machine
	oracle   funnel.Oracle

	mu    chan struct{} // 1-slot semaphore; the disable-on-invocation latch
	fired bool
}

// NewGuard creates a submission guard bound to the machine it transitions.
func NewGuard(baseURL string, tokens session.TokenSource, machine *funnel.Machine, oracle funnel.Oracle, httpc *http.Client) *Guard {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	g := &Guard{
		endpoint: baseURL + "/api/submit",
		httpc:    httpc,
		tokens:   tokens,
		machine:  machine,
		oracle:   oracle,
		mu:       make(chan struct{}, 1),
	}
	return g
}

// Validate runs the local preconditions without touching the network.
func (g *Guard) Validate(sub domain.Submission) error {
	if !studentIDPattern.MatchString(sub.StudentID) {
		return &ValidationError{Field: "student_id", Reason: "must match the institutional ID format (e.g. 2023A7PS0042P)"}
	}
	if len(sub.Preference) == 0 {
		return &ValidationError{Field: "preference", Reason: "select at least one preference"}
	}
	return nil
}

// Submit validates and delivers the payload. Exactly one invocation per
// identity can ever reach the collaborator with success; the latch closes
// before the request is issued and reopens only on retryable failure.
func (g *Guard) Submit(ctx context.Context, sub domain.Submission) error {
	switch g.machine.Phase() {
	case funnel.PhaseSubmitted:
		return ErrAlreadySubmitted
	case funnel.PhaseAdmitted:
	default:
		return ErrNotAdmitted
	}

	if err := g.Validate(sub); err != nil {
		return err
	}

	select {
	case g.mu <- struct{}{}:
	default:
		return ErrInFlight
	}
	release := func() { <-g.mu }

	if g.fired {
		release()
		return ErrAlreadySubmitted
	}

	// An unverified Admitted (status query failed earlier) renders the
	// form, but a state-changing write demands a fresh server read.
	if !g.machine.Verified() {
		reading, err := g.oracle.Status(ctx)
		if err != nil {
			release()
			return fmt.Errorf("revalidate admission status: %w", err)
		}
		if reading.Submitted {
			g.fired = true
			release()
			g.machine.MarkSubmitted()
			return ErrAlreadySubmitted
		}
	}

	conv := domain.Conversation{Messages: sub.ChatHistory}
	sub.ChatHistory = conv.Tail(chatLogLimit)

	err := g.post(ctx, sub)
	switch {
	case err == nil:
		g.fired = true
		release()
		g.machine.MarkSubmitted()
		return nil
	case errors.Is(err, ErrAlreadySubmitted):
		// Collaborator-confirmed duplicate proves the terminal state.
		g.fired = true
		release()
		g.machine.MarkSubmitted()
		return ErrAlreadySubmitted
	default:
		release()
		return err
	}
}

type rejection struct {
	Error string `json:"error"`
}

func (g *Guard) post(ctx context.Context, sub domain.Submission) error {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("deliver submission: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusUnauthorized:
		return session.ErrAuthExpired
	case http.StatusConflict:
		return ErrAlreadySubmitted
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var rej rejection
		if json.Unmarshal(raw, &rej) == nil && rej.Error != "" {
			return &RejectedError{Reason: rej.Error}
		}
		return &RejectedError{Reason: fmt.Sprintf("server returned %d", resp.StatusCode)}
	}
}
