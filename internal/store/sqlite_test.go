package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testRecord(email string) *domain.SubmissionRecord {
	return &domain.SubmissionRecord{
		Email:      email,
		Name:       "Test Candidate",
		StudentID:  "2023A7PS0042P",
		Preference: []string{"projects", "research"},
		Skills:     "go, sql",
		ChatHistory: []domain.Message{
			{Role: domain.RoleUser, Content: "let me in"},
			{Role: domain.RoleAssistant, Content: "why?"},
		},
		CreatedAt: time.Now(),
	}
}

func TestSaveSubmissionEnforcesOnePerEmail(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	id, err := repo.SaveSubmission(ctx, testRecord("a@bits-pilani.ac.in"))
	if err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	_, err = repo.SaveSubmission(ctx, testRecord("a@bits-pilani.ac.in"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	has, err := repo.HasSubmission(ctx, "a@bits-pilani.ac.in")
	if err != nil {
		t.Fatalf("HasSubmission failed: %v", err)
	}
	if !has {
		t.Fatal("expected submission to exist")
	}
}

func TestRecordAdmissionIsIdempotent(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.RecordAdmission(ctx, "b@bits-pilani.ac.in", time.Now()); err != nil {
		t.Fatalf("first grant failed: %v", err)
	}
	if err := repo.RecordAdmission(ctx, "b@bits-pilani.ac.in", time.Now()); err != nil {
		t.Fatalf("second grant failed: %v", err)
	}

	has, err := repo.HasAdmission(ctx, "b@bits-pilani.ac.in")
	if err != nil {
		t.Fatalf("HasAdmission failed: %v", err)
	}
	if !has {
		t.Fatal("expected admission grant to exist")
	}

	has, err = repo.HasAdmission(ctx, "nobody@bits-pilani.ac.in")
	if err != nil {
		t.Fatalf("HasAdmission failed: %v", err)
	}
	if has {
		t.Fatal("expected no grant for unknown email")
	}
}

func TestUnsyncedLifecycle(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	id1, err := repo.SaveSubmission(ctx, testRecord("c1@bits-pilani.ac.in"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := repo.SaveSubmission(ctx, testRecord("c2@bits-pilani.ac.in")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	unsynced, err := repo.ListUnsynced(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnsynced failed: %v", err)
	}
	if len(unsynced) != 2 {
		t.Fatalf("expected 2 unsynced, got %d", len(unsynced))
	}
	if unsynced[0].Preference[0] != "projects" {
		t.Fatalf("preference round trip broken: %v", unsynced[0].Preference)
	}
	if len(unsynced[0].ChatHistory) != 2 {
		t.Fatalf("chat history round trip broken: %v", unsynced[0].ChatHistory)
	}

	if err := repo.MarkSynced(ctx, id1); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	st, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Total != 2 || st.Synced != 1 || st.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
