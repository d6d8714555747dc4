// Package funnel implements the admission state machine: the single
// source of truth for which funnel phase an identity is in. It reconciles
// server-authoritative status with locally cached state and drives every
// phase transition. The package is transport- and UI-free by design so the
// transition logic is unit-testable on its own.
package funnel

import (
	"context"
	"sync"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
)

// Phase is a mutually exclusive funnel phase.
type Phase int

const (
	// PhaseAnonymous means no identity is established.
	PhaseAnonymous Phase = iota
	// PhaseAwaitingChoice shows the challenge intro; the user has not opted in.
	PhaseAwaitingChoice
	// PhaseInChallenge means the conversational challenge is active.
	PhaseInChallenge
	// PhaseAdmitted means the gatekeeper granted access; the form is open.
	PhaseAdmitted
	// PhaseSubmitted is terminal and absorbing.
	PhaseSubmitted
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingChoice:
		return "awaiting-choice"
	case PhaseInChallenge:
		return "in-challenge"
	case PhaseAdmitted:
		return "admitted"
	case PhaseSubmitted:
		return "submitted"
	default:
		return "anonymous"
	}
}

// StatusReading is a fresh result from the server status oracle.
type StatusReading struct {
	Submitted bool
}

// Oracle queries the external authoritative service for admission status.
type Oracle interface {
	Status(ctx context.Context) (StatusReading, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context) (StatusReading, error)

// Status implements Oracle.
func (f OracleFunc) Status(ctx context.Context) (StatusReading, error) {
	return f(ctx)
}

// Storage keys. The durable cache is scoped per identity; the session flag
// lives in session-scoped storage and records whether the challenge intro
// was already shown this session.
const (
	cacheKeyPrefix = "admission-status-cache/"
	sessionFlagKey = "session-challenge-entered-flag"
)

// Reconcile maps a status reading, the cached status and the session flag
// to a phase. A fresh server reading always wins over the cache; with no
// reading the cache is trusted as a degraded fallback. Cached values can
// only ever come from domain.ParseStatus, so tampered storage degrades to
// anonymous standing rather than elevating it.
func Reconcile(server *StatusReading, cached domain.Status, challengeEntered bool) Phase {
	if server != nil {
		if server.Submitted {
			return PhaseSubmitted
		}
		// The oracle only verifies terminal submission; admitted standing
		// is client knowledge from a past marker detection.
		if cached == domain.StatusAdmitted {
			return PhaseAdmitted
		}
		if challengeEntered {
			return PhaseInChallenge
		}
		return PhaseAwaitingChoice
	}

	switch cached {
	case domain.StatusSubmitted:
		return PhaseSubmitted
	case domain.StatusAdmitted:
		return PhaseAdmitted
	}
	if challengeEntered {
		return PhaseInChallenge
	}
	return PhaseAwaitingChoice
}

// Snapshot is an immutable view of the machine for rendering layers.
type Snapshot struct {
	Phase       Phase
	Verified    bool
	Identity    domain.Identity
	HasIdentity bool
}

// Machine owns the funnel phase for the current identity.
//
// Callbacks may overlap (an identity change can fire while a status query
// is in flight); every query carries a generation number and only the
// latest issued generation may apply a transition. Stale results are
// discarded on arrival.
type Machine struct {
	mu          sync.Mutex
	identity    domain.Identity
	hasIdentity bool
	phase       Phase
	verified    bool
	gen         uint64

	oracle  Oracle
	durable Storage
	session Storage

	onChange func(Snapshot)
}

// New creates a machine. durable survives reloads of the same profile;
// session lives for one session only.
func New(oracle Oracle, durable, session Storage) *Machine {
	return &Machine{
		oracle:  oracle,
		durable: durable,
		session: session,
	}
}

// Subscribe registers a single rendering callback invoked (outside the
// machine lock is not guaranteed; keep it cheap) after every transition.
func (m *Machine) Subscribe(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Snapshot returns the current view.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:       m.phase,
		Verified:    m.verified,
		Identity:    m.identity,
		HasIdentity: m.hasIdentity,
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Verified reports whether the current phase derives from a fresh server
// read. An unverified Admitted still renders its phase, but the submission
// guard must re-validate with the server before any write.
func (m *Machine) Verified() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verified
}

// SetIdentity handles an identity-change notification. A nil identity
// (signed out) resets to Anonymous. Any in-flight status query is
// superseded. Call Refresh afterwards to reconcile against the oracle.
func (m *Machine) SetIdentity(id *domain.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++ // supersede in-flight queries

	if id == nil {
		m.identity = domain.Identity{}
		m.hasIdentity = false
		m.phase = PhaseAnonymous
		m.verified = false
		m.notifyLocked()
		return
	}

	if m.hasIdentity && m.identity.ID() != id.ID() {
		// Session-scoped state belongs to the previous identity.
		_ = m.session.Delete(sessionFlagKey)
	}

	if m.hasIdentity && m.identity.ID() == id.ID() && m.phase == PhaseSubmitted {
		// Terminal for this identity; re-establishing it never re-opens
		// the funnel, whatever the cache now says.
		m.identity = *id
		m.notifyLocked()
		return
	}

	m.identity = *id
	m.hasIdentity = true
	// Render from cache immediately; Refresh reconciles with the server.
	m.phase = Reconcile(nil, m.cachedStatusLocked(), m.sessionEnteredLocked())
	m.verified = false
	m.notifyLocked()
}

// Refresh issues a status query for the current identity and applies the
// result, unless a later SetIdentity or Refresh superseded it.
func (m *Machine) Refresh(ctx context.Context) {
	m.mu.Lock()
	if !m.hasIdentity {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	id := m.identity.ID()
	m.mu.Unlock()

	reading, err := m.oracle.Status(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || !m.hasIdentity || m.identity.ID() != id {
		return // superseded; discard
	}
	if m.phase == PhaseSubmitted {
		// Terminal. A failed or divergent read never moves it.
		m.verified = m.verified || err == nil
		return
	}

	if err != nil {
		// Degrade to cache, mark the session unverified.
		m.phase = Reconcile(nil, m.cachedStatusLocked(), m.sessionEnteredLocked())
		m.verified = false
		m.notifyLocked()
		return
	}

	m.phase = Reconcile(&reading, m.cachedStatusLocked(), m.sessionEnteredLocked())
	m.verified = true
	if reading.Submitted {
		m.persistStatusLocked(domain.StatusSubmitted)
	}
	m.notifyLocked()
}

// EnterChallenge records the user opting into the challenge.
func (m *Machine) EnterChallenge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseAwaitingChoice {
		return
	}
	m.phase = PhaseInChallenge
	_ = m.session.Set(sessionFlagKey, "1")
	m.notifyLocked()
}

// MarkAdmitted transitions to Admitted. The only legitimate caller is the
// challenge channel after detecting the collaborator-issued unlock marker
// in a completed stream; no client-composed text may reach here.
func (m *Machine) MarkAdmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseInChallenge {
		return
	}
	m.phase = PhaseAdmitted
	m.persistStatusLocked(domain.StatusAdmitted)
	m.notifyLocked()
}

// MarkSubmitted transitions to the terminal phase after the storage
// collaborator confirmed the submission (or confirmed a duplicate, which
// proves the terminal state server-side).
func (m *Machine) MarkSubmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasIdentity || m.phase == PhaseSubmitted {
		return
	}
	m.phase = PhaseSubmitted
	m.verified = true
	m.persistStatusLocked(domain.StatusSubmitted)
	m.notifyLocked()
}

func (m *Machine) cachedStatusLocked() domain.Status {
	v, ok := m.durable.Get(cacheKeyPrefix + m.identity.ID())
	if !ok {
		return domain.StatusAnonymous
	}
	return domain.ParseStatus(v)
}

func (m *Machine) persistStatusLocked(s domain.Status) {
	_ = m.durable.Set(cacheKeyPrefix+m.identity.ID(), s.String())
}

func (m *Machine) sessionEnteredLocked() bool {
	v, _ := m.session.Get(sessionFlagKey)
	return v == "1"
}

func (m *Machine) notifyLocked() {
	if m.onChange != nil {
		m.onChange(m.snapshotLocked())
	}
}
