package store

import (
	"errors"
	"time"
)

var (
	// ErrConflict signals that a compare-and-swap guard did not match the
	// stored row; callers re-read and retry.
	ErrConflict = errors.New("conflict")
	// ErrDuplicateFingerprint signals that another case already owns the
	// fingerprint being claimed.
	ErrDuplicateFingerprint = errors.New("duplicate fingerprint")
)

// State is the closed set of case workflow states.
type State string

const (
	StateSubmitted  State = "submitted"
	StateInReview   State = "in_review"
	StateApproved   State = "approved"
	StateRejected   State = "rejected"
	StateMatchFound State = "match_found"
	StateEscalated  State = "escalated"
	StateCompleted  State = "completed"
)

// ActiveStates are the deadline-bearing states a sweep considers.
var ActiveStates = []State{StateSubmitted, StateInReview, StateEscalated, StateMatchFound}

// AllStates lists every workflow state; metrics report all of them even
// when a count is zero.
var AllStates = []State{
	StateSubmitted, StateInReview, StateApproved, StateRejected,
	StateMatchFound, StateEscalated, StateCompleted,
}

func (s State) Valid() bool {
	switch s {
	case StateSubmitted, StateInReview, StateApproved, StateRejected,
		StateMatchFound, StateEscalated, StateCompleted:
		return true
	}
	return false
}

func (s State) Terminal() bool { return s == StateCompleted }

// Role is the closed set of actor roles.
type Role string

const (
	RoleReporter Role = "reporter"
	RoleOfficer  Role = "officer"
	RoleAdmin    Role = "admin"
	// RoleSystem is the automation scheduler's identity. It bypasses the
	// per-edge role gate for auto-escalation but not the transition matrix.
	RoleSystem Role = "system"
)

// Assignable reports whether the role can be granted to a user account.
// The system actor is not a user.
func (r Role) Assignable() bool {
	switch r {
	case RoleReporter, RoleOfficer, RoleAdmin:
		return true
	}
	return false
}

type Case struct {
	ID            string     `json:"id"`
	ContentKey    string     `json:"content_key"`
	NormalizedKey string     `json:"normalized_key"`
	Fingerprint   string     `json:"fingerprint"`
	Description   string     `json:"description,omitempty"`
	State         State      `json:"state"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	AssigneeID    *string    `json:"assignee_id,omitempty"`
	Reporters     []string   `json:"reporters,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (c *Case) Overdue(now time.Time) bool {
	return c.DueAt != nil && c.DueAt.Before(now) && !c.State.Terminal()
}

// CaseEvent is an append-only audit record. Ordering is by TS with the
// autoincrement ID breaking ties in insertion order.
type CaseEvent struct {
	ID        int64     `json:"id"`
	CaseID    string    `json:"case_id"`
	ActorID   string    `json:"actor_id"`
	ActorRole Role      `json:"actor_role"`
	FromState State     `json:"from_state"`
	ToState   State     `json:"to_state"`
	Note      string    `json:"note,omitempty"`
	TS        time.Time `json:"ts"`
}

// CaseMutation carries the fields a state CAS writes alongside the new
// state. DueAt nil clears the deadline; AssigneeID nil leaves the current
// assignee untouched.
type CaseMutation struct {
	State      State
	DueAt      *time.Time
	AssigneeID *string
	UpdatedAt  time.Time
}
