package domain

import "time"

// Submission is the end-of-funnel payload sent by an admitted identity.
// Name and email come from the verified identity, not from user input.
type Submission struct {
	Name        string    `json:"name"`
	StudentID   string    `json:"student_id"`
	Preference  []string  `json:"preference"`
	Skills      string    `json:"skills"`
	Commitments string    `json:"commitments"`
	Notes       string    `json:"notes,omitempty"`
	ChatHistory []Message `json:"chat_history"`
}

// SubmissionRecord is the stored form of a submission. At most one exists
// per identity; the store enforces this independently of any client.
type SubmissionRecord struct {
	ID          int64
	Email       string
	Name        string
	StudentID   string
	Preference  []string
	Skills      string
	Commitments string
	Notes       string
	ChatHistory []Message
	Synced      bool
	CreatedAt   time.Time
}
