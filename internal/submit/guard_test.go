package submit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/funnel"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/session"
)

func admittedMachine(t *testing.T) *funnel.Machine {
	t.Helper()
	oracle := funnel.OracleFunc(func(ctx context.Context) (funnel.StatusReading, error) {
		return funnel.StatusReading{Submitted: false}, nil
	})
	m := funnel.New(oracle, funnel.NewMemStorage(), funnel.NewMemStorage())
	m.SetIdentity(&domain.Identity{Email: "x@bits-pilani.ac.in"})
	m.Refresh(context.Background())
	m.EnterChallenge()
	m.MarkAdmitted()
	return m
}

// unverifiedAdmittedMachine builds a machine that renders Admitted from a
// durable cache because the oracle is unreachable.
func unverifiedAdmittedMachine(t *testing.T) *funnel.Machine {
	t.Helper()
	durable := funnel.NewMemStorage()
	_ = durable.Set("admission-status-cache/x@bits-pilani.ac.in", "admitted")
	oracle := funnel.OracleFunc(func(ctx context.Context) (funnel.StatusReading, error) {
		return funnel.StatusReading{}, errors.New("oracle down")
	})
	m := funnel.New(oracle, durable, funnel.NewMemStorage())
	m.SetIdentity(&domain.Identity{Email: "x@bits-pilani.ac.in"})
	m.Refresh(context.Background())
	if m.Phase() != funnel.PhaseAdmitted || m.Verified() {
		t.Fatalf("fixture broken: phase=%v verified=%v", m.Phase(), m.Verified())
	}
	return m
}

func validSubmission() domain.Submission {
	var history []domain.Message
	for i := 0; i < 80; i++ {
		history = append(history, domain.Message{Role: domain.RoleUser, Content: "turn"})
	}
	return domain.Submission{
		Name:        "Test Candidate",
		StudentID:   "2023A7PS0042P",
		Preference:  []string{"projects"},
		Skills:      "go",
		Commitments: "none",
		ChatHistory: history,
	}
}

func okOracle() funnel.Oracle {
	return funnel.OracleFunc(func(ctx context.Context) (funnel.StatusReading, error) {
		return funnel.StatusReading{Submitted: false}, nil
	})
}

func TestSubmitHappyPathTruncatesChatLog(t *testing.T) {
	t.Parallel()

	var got domain.Submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))
	defer srv.Close()

	m := admittedMachine(t)
	g := NewGuard(srv.URL, session.StaticTokenSource("tok"), m, okOracle(), nil)

	if err := g.Submit(context.Background(), validSubmission()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(got.ChatHistory) != 50 {
		t.Fatalf("chat log not truncated to 50, got %d", len(got.ChatHistory))
	}
	if m.Phase() != funnel.PhaseSubmitted {
		t.Fatalf("machine not terminal after success: %v", m.Phase())
	}
}

func TestSubmitValidationFailuresSkipNetwork(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("collaborator contacted despite local validation failure")
	}))
	defer srv.Close()

	m := admittedMachine(t)
	g := NewGuard(srv.URL, session.StaticTokenSource("tok"), m, okOracle(), nil)

	sub := validSubmission()
	sub.StudentID = "not-an-id"
	var vErr *ValidationError
	if err := g.Submit(context.Background(), sub); !errors.As(err, &vErr) || vErr.Field != "student_id" {
		t.Fatalf("expected student_id validation error, got %v", err)
	}

	sub = validSubmission()
	sub.Preference = nil
	if err := g.Submit(context.Background(), sub); !errors.As(err, &vErr) || vErr.Field != "preference" {
		t.Fatalf("expected preference validation error, got %v", err)
	}

	if m.Phase() != funnel.PhaseAdmitted {
		t.Fatalf("validation failure changed state: %v", m.Phase())
	}
}

func TestDoubleSubmitProducesOneRecord(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(50 * time.Millisecond) // widen the race window
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))
	defer srv.Close()

	m := admittedMachine(t)
	g := NewGuard(srv.URL, session.StaticTokenSource("tok"), m, okOracle(), nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = g.Submit(context.Background(), validSubmission())
		}(i)
	}
	wg.Wait()

	if n := requests.Load(); n != 1 {
		t.Fatalf("expected exactly 1 request, got %d", n)
	}
	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInFlight) || errors.Is(err, ErrAlreadySubmitted):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("expected one success and one rejection, got ok=%d rejected=%d", ok, rejected)
	}
}

func TestUnverifiedStateRevalidatesBeforeWrite(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))
	defer srv.Close()

	var oracleCalls atomic.Int32
	oracle := funnel.OracleFunc(func(ctx context.Context) (funnel.StatusReading, error) {
		oracleCalls.Add(1)
		return funnel.StatusReading{Submitted: false}, nil
	})

	m := unverifiedAdmittedMachine(t)
	g := NewGuard(srv.URL, session.StaticTokenSource("tok"), m, oracle, nil)

	if err := g.Submit(context.Background(), validSubmission()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if oracleCalls.Load() != 1 {
		t.Fatalf("expected a fresh server validation, got %d oracle calls", oracleCalls.Load())
	}
}

func TestUnverifiedAlreadySubmittedShortCircuits(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("collaborator contacted for an already-submitted identity")
	}))
	defer srv.Close()

	oracle := funnel.OracleFunc(func(ctx context.Context) (funnel.StatusReading, error) {
		return funnel.StatusReading{Submitted: true}, nil
	})

	m := unverifiedAdmittedMachine(t)
	g := NewGuard(srv.URL, session.StaticTokenSource("tok"), m, oracle, nil)

	if err := g.Submit(context.Background(), validSubmission()); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	if m.Phase() != funnel.PhaseSubmitted {
		t.Fatalf("machine should absorb server-confirmed terminal state: %v", m.Phase())
	}
}

func TestRejectionSurfacesReasonAndAllowsRetry(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Access Restricted: BITS Pilani email required"})
	}))
	defer srv.Close()

	m := admittedMachine(t)
	g := NewGuard(srv.URL, session.StaticTokenSource("tok"), m, okOracle(), nil)

	var rej *RejectedError
	if err := g.Submit(context.Background(), validSubmission()); !errors.As(err, &rej) {
		t.Fatalf("expected RejectedError, got %v", err)
	} else if rej.Reason != "Access Restricted: BITS Pilani email required" {
		t.Fatalf("reason not surfaced verbatim: %q", rej.Reason)
	}
	if m.Phase() != funnel.PhaseAdmitted {
		t.Fatalf("rejection changed state: %v", m.Phase())
	}

	// The latch must reopen after a rejection.
	if err := g.Submit(context.Background(), validSubmission()); err == nil {
		t.Fatal("expected second rejection")
	}
	if requests.Load() != 2 {
		t.Fatalf("retry after rejection blocked: %d requests", requests.Load())
	}
}

func TestDuplicateConflictAbsorbsTerminalState(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "duplicate"})
	}))
	defer srv.Close()

	m := admittedMachine(t)
	g := NewGuard(srv.URL, session.StaticTokenSource("tok"), m, okOracle(), nil)

	if err := g.Submit(context.Background(), validSubmission()); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	if m.Phase() != funnel.PhaseSubmitted {
		t.Fatalf("duplicate should absorb terminal state: %v", m.Phase())
	}
}

func TestSubmitRequiresAdmittedPhase(t *testing.T) {
	t.Parallel()

	m := funnel.New(okOracle(), funnel.NewMemStorage(), funnel.NewMemStorage())
	m.SetIdentity(&domain.Identity{Email: "x@bits-pilani.ac.in"})
	m.Refresh(context.Background())

	g := NewGuard("http://unreachable.invalid", session.StaticTokenSource("tok"), m, okOracle(), nil)
	if err := g.Submit(context.Background(), validSubmission()); !errors.Is(err, ErrNotAdmitted) {
		t.Fatalf("expected ErrNotAdmitted, got %v", err)
	}
}
