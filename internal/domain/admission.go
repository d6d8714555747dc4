// Package domain contains core domain types for the gatekeeper funnel.
package domain

// UnlockMarker is the out-of-band token the completion collaborator embeds
// in its streamed reply to grant admission. It must never be rendered to
// the user; the challenge channel strips it before display.
const UnlockMarker = "[[GATE_OPEN]]"

// Status is the admission standing of an identity as known to a client.
// The authoritative copy lives server-side; clients cache it durably and
// must prefer a fresh server read whenever one is obtainable.
type Status int

const (
	// StatusAnonymous means no identity is established.
	StatusAnonymous Status = iota
	// StatusPending means the identity is known but has not passed the challenge.
	StatusPending
	// StatusAdmitted means the challenge produced the unlock marker.
	StatusAdmitted
	// StatusSubmitted means the submission record exists. Terminal.
	StatusSubmitted
)

// String returns the storage representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAdmitted:
		return "admitted"
	case StatusSubmitted:
		return "submitted"
	default:
		return "anonymous"
	}
}

// ParseStatus parses a stored status string. Unknown values map to
// StatusAnonymous so a tampered cache can never elevate standing.
func ParseStatus(v string) Status {
	switch v {
	case "pending":
		return StatusPending
	case "admitted":
		return StatusAdmitted
	case "submitted":
		return StatusSubmitted
	default:
		return StatusAnonymous
	}
}
