package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY under load
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS candidates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		student_id TEXT NOT NULL,
		preference TEXT NOT NULL,
		skills TEXT,
		commitments TEXT,
		notes TEXT,
		chat_history TEXT,
		synced INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_candidates_unsynced ON candidates(created_at) WHERE synced = 0;

	CREATE TABLE IF NOT EXISTS admissions (
		email TEXT PRIMARY KEY,
		granted_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSubmission stores a candidate record, enforcing one per email.
func (s *SQLiteStore) SaveSubmission(ctx context.Context, rec *domain.SubmissionRecord) (int64, error) {
	preference, err := json.Marshal(rec.Preference)
	if err != nil {
		return 0, fmt.Errorf("marshal preference: %w", err)
	}
	chatHistory, err := json.Marshal(rec.ChatHistory)
	if err != nil {
		return 0, fmt.Errorf("marshal chat history: %w", err)
	}

	query := `
	INSERT INTO candidates (email, name, student_id, preference, skills, commitments, notes, chat_history, synced, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var result sql.Result
	for attempt := 0; ; attempt++ {
		result, err = s.db.ExecContext(ctx, query,
			rec.Email, rec.Name, rec.StudentID, string(preference),
			rec.Skills, rec.Commitments, rec.Notes, string(chatHistory),
			rec.CreatedAt.Unix(),
		)
		if err == nil {
			break
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicate
		}
		if shared.IsSQLiteConflictError(err) && attempt < 2 {
			time.Sleep(time.Duration(50<<attempt) * time.Millisecond)
			continue
		}
		return 0, fmt.Errorf("insert candidate: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get candidate id: %w", err)
	}
	return id, nil
}

// HasSubmission reports whether a submission exists for the email.
func (s *SQLiteStore) HasSubmission(ctx context.Context, email string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM candidates WHERE email = ?`, email).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count candidates: %w", err)
	}
	return n > 0, nil
}

// RecordAdmission records a gatekeeper grant for the email.
func (s *SQLiteStore) RecordAdmission(ctx context.Context, email string, grantedAt time.Time) error {
	query := `
	INSERT INTO admissions (email, granted_at) VALUES (?, ?)
	ON CONFLICT(email) DO NOTHING`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for attempt := 0; ; attempt++ {
		_, err := s.db.ExecContext(ctx, query, email, grantedAt.Unix())
		if err == nil {
			return nil
		}
		if shared.IsSQLiteConflictError(err) && attempt < 2 {
			time.Sleep(time.Duration(50<<attempt) * time.Millisecond)
			continue
		}
		return fmt.Errorf("record admission: %w", err)
	}
}

// HasAdmission reports whether a grant exists for the email.
func (s *SQLiteStore) HasAdmission(ctx context.Context, email string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM admissions WHERE email = ?`, email).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count admissions: %w", err)
	}
	return n > 0, nil
}

// ListUnsynced returns submissions not yet exported, oldest first.
func (s *SQLiteStore) ListUnsynced(ctx context.Context, limit int) ([]*domain.SubmissionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, email, name, student_id, preference, skills, commitments, notes, chat_history, synced, created_at
		FROM candidates WHERE synced = 0 ORDER BY created_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsynced candidates: %w", err)
	}
	defer rows.Close()

	var out []*domain.SubmissionRecord
	for rows.Next() {
		rec, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

func scanCandidate(rows *sql.Rows) (*domain.SubmissionRecord, error) {
	var rec domain.SubmissionRecord
	var preference, chatHistory string
	var skills, commitments, notes sql.NullString
	var synced int
	var createdAt int64

	err := rows.Scan(
		&rec.ID, &rec.Email, &rec.Name, &rec.StudentID, &preference,
		&skills, &commitments, &notes, &chatHistory, &synced, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan candidate row: %w", err)
	}

	if err := json.Unmarshal([]byte(preference), &rec.Preference); err != nil {
		return nil, fmt.Errorf("unmarshal preference: %w", err)
	}
	if chatHistory != "" {
		if err := json.Unmarshal([]byte(chatHistory), &rec.ChatHistory); err != nil {
			return nil, fmt.Errorf("unmarshal chat history: %w", err)
		}
	}
	rec.Skills = skills.String
	rec.Commitments = commitments.String
	rec.Notes = notes.String
	rec.Synced = synced != 0
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}

// MarkSynced flags a submission as exported.
func (s *SQLiteStore) MarkSynced(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `UPDATE candidates SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("candidate %d not found", id)
	}
	return nil
}

// Stats returns candidate counts.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(synced), 0) FROM candidates`).Scan(&st.Total, &st.Synced)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	st.Pending = st.Total - st.Synced
	return st, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
