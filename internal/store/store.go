// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
)

// ErrDuplicate is returned when a submission already exists for the identity.
// The UNIQUE constraint backing it is the authoritative idempotency check;
// clients only short-circuit as a UX courtesy.
var ErrDuplicate = errors.New("submission already exists for this identity")

// Stats summarizes the candidate table for the admin health endpoint.
type Stats struct {
	Total   int64 `json:"total"`
	Synced  int64 `json:"synced"`
	Pending int64 `json:"pending"`
}

// Repository defines the interface for persisting admissions and submissions.
type Repository interface {
	// SaveSubmission stores a candidate record. Returns ErrDuplicate if a
	// record already exists for the same email.
	SaveSubmission(ctx context.Context, rec *domain.SubmissionRecord) (int64, error)

	// HasSubmission reports whether a submission exists for the email.
	HasSubmission(ctx context.Context, email string) (bool, error)

	// RecordAdmission records that the gatekeeper granted admission to the
	// email. Idempotent; the first grant timestamp is kept.
	RecordAdmission(ctx context.Context, email string, grantedAt time.Time) error

	// HasAdmission reports whether an admission grant exists for the email.
	HasAdmission(ctx context.Context, email string) (bool, error)

	// ListUnsynced returns submissions not yet delivered to the export
	// collaborator, oldest first.
	ListUnsynced(ctx context.Context, limit int) ([]*domain.SubmissionRecord, error)

	// MarkSynced flags a submission as exported.
	MarkSynced(ctx context.Context, id int64) error

	// Stats returns candidate counts.
	Stats(ctx context.Context) (Stats, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
