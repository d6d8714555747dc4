package exporter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/store"
)

func testRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seed(t *testing.T, repo store.Repository, email string) {
	t.Helper()
	_, err := repo.SaveSubmission(context.Background(), &domain.SubmissionRecord{
		Email:      email,
		Name:       "Candidate",
		StudentID:  "2023A7PS0042P",
		Preference: []string{"projects"},
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("seed submission: %v", err)
	}
}

func TestSyncDeliversAndMarks(t *testing.T) {
	t.Parallel()

	var delivered atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec domain.SubmissionRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			t.Errorf("bad webhook payload: %v", err)
		}
		delivered.Add(1)
	}))
	defer srv.Close()

	repo := testRepo(t)
	seed(t, repo, "a@bits-pilani.ac.in")
	seed(t, repo, "b@bits-pilani.ac.in")

	e := New(srv.URL, repo, nil, slog.Default())
	res, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if res.Exported != 2 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if delivered.Load() != 2 {
		t.Fatalf("expected 2 webhook deliveries, got %d", delivered.Load())
	}

	// A second pass must find nothing left to export.
	res, err = e.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}
	if res.Exported != 0 {
		t.Fatalf("rows not marked synced: %+v", res)
	}
}

func TestSyncRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}))
	defer srv.Close()

	repo := testRepo(t)
	seed(t, repo, "a@bits-pilani.ac.in")

	e := New(srv.URL, repo, nil, slog.Default())
	res, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if res.Exported != 1 {
		t.Fatalf("expected retry to succeed: %+v", res)
	}
	if attempts.Load() < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts.Load())
	}
}

func TestSyncPermanentFailureLeavesRowPending(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	repo := testRepo(t)
	seed(t, repo, "a@bits-pilani.ac.in")

	e := New(srv.URL, repo, nil, slog.Default())
	res, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if res.Failed != 1 || res.Exported != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 1 {
		t.Fatalf("failed row must stay pending, stats: %+v", stats)
	}
}

func TestNewWithoutWebhookIsDisabled(t *testing.T) {
	t.Parallel()

	if e := New("", testRepo(t), nil, nil); e != nil {
		t.Fatal("expected nil exporter without webhook URL")
	}
}
