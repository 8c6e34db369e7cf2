package workflow

import (
	"time"

	"takedown/core/store"
)

// Edge is one allowed source -> target transition.
type Edge struct {
	From store.State
	To   store.State
}

// transitions is the full matrix of allowed edges with the roles authorized
// to execute each one. A state is never its own allowed target.
var transitions = map[Edge][]store.Role{
	{store.StateSubmitted, store.StateInReview}:   {store.RoleOfficer, store.RoleAdmin},
	{store.StateSubmitted, store.StateEscalated}:  {store.RoleAdmin},
	{store.StateInReview, store.StateApproved}:    {store.RoleOfficer, store.RoleAdmin},
	{store.StateInReview, store.StateRejected}:    {store.RoleOfficer, store.RoleAdmin},
	{store.StateInReview, store.StateMatchFound}:  {store.RoleOfficer, store.RoleAdmin},
	{store.StateInReview, store.StateEscalated}:   {store.RoleOfficer, store.RoleAdmin},
	{store.StateEscalated, store.StateApproved}:   {store.RoleAdmin},
	{store.StateEscalated, store.StateRejected}:   {store.RoleAdmin},
	{store.StateEscalated, store.StateInReview}:   {store.RoleAdmin},
	{store.StateMatchFound, store.StateCompleted}: {store.RoleOfficer, store.RoleAdmin},
	{store.StateMatchFound, store.StateEscalated}: {store.RoleOfficer, store.RoleAdmin},
	{store.StateApproved, store.StateCompleted}:   {store.RoleOfficer, store.RoleAdmin},
	{store.StateRejected, store.StateCompleted}:   {store.RoleOfficer, store.RoleAdmin},
}

// slaDurations maps each state to the time allowed in it before the case
// counts as overdue. States without an entry carry no deadline.
var slaDurations = map[store.State]time.Duration{
	store.StateSubmitted:  24 * time.Hour,
	store.StateInReview:   72 * time.Hour,
	store.StateEscalated:  48 * time.Hour,
	store.StateMatchFound: 24 * time.Hour,
}

// autoEscalate marks the states the scheduler moves to ESCALATED on SLA
// breach. ESCALATED itself only gets a notification event.
var autoEscalate = map[store.State]bool{
	store.StateSubmitted:  true,
	store.StateInReview:   true,
	store.StateMatchFound: true,
}

// SLAFor returns the deadline for entering state, or nil when the state
// carries none.
func SLAFor(state store.State, now time.Time) *time.Time {
	d, ok := slaDurations[state]
	if !ok {
		return nil
	}
	due := now.Add(d)
	return &due
}

// AutoEscalates reports whether an SLA breach in state triggers an automatic
// move to ESCALATED.
func AutoEscalates(state store.State) bool {
	return autoEscalate[state]
}

// edgeAllowed checks the matrix only, ignoring roles.
func edgeAllowed(from, to store.State) bool {
	_, ok := transitions[Edge{from, to}]
	return ok
}

// roleAllowed layers the permission gate on top of the matrix. The system
// actor is authorized for the auto-escalate edges regardless of the gate.
func roleAllowed(from, to store.State, role store.Role) bool {
	roles, ok := transitions[Edge{from, to}]
	if !ok {
		return false
	}
	if role == store.RoleSystem {
		return to == store.StateEscalated && AutoEscalates(from)
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// targetsFrom lists matrix targets reachable from state in a stable order.
func targetsFrom(state store.State) []store.State {
	var res []store.State
	for _, t := range store.AllStates {
		if edgeAllowed(state, t) {
			res = append(res, t)
		}
	}
	return res
}
