package workflow

import (
	"context"
	"errors"
	"time"

	"takedown/config"
	"takedown/core/store"
	"takedown/core/utils"

	"github.com/gofrs/uuid/v5"
)

// Clock supplies current time; injected so deadline logic is deterministic
// in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return utils.NowUTC() }

func SystemClock() Clock { return systemClock{} }

// Engine executes validated case transitions. It holds only the immutable
// matrix, SLA and permission tables; every mutation is read-modify-write
// against the store with a state-based compare-and-swap guard, so the engine
// never caches case state across operations.
type Engine struct {
	cases  store.CasesStore
	users  store.UsersStore
	clock  Clock
	cfg    config.WorkflowConfig
	logger *utils.Logger
}

func NewEngine(cases store.CasesStore, users store.UsersStore, clock Clock, cfg config.WorkflowConfig, logger *utils.Logger) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{cases: cases, users: users, clock: clock, cfg: cfg, logger: logger}
}

func (e *Engine) Clock() Clock { return e.clock }

// CreateCase persists a new case in SUBMITTED with its SLA deadline set and
// appends the submission event. The store rejects the insert with
// ErrDuplicateFingerprint when the fingerprint is already claimed.
func (e *Engine) CreateCase(ctx context.Context, contentKey, normalizedKey, fingerprint, description, reporterID string) (*store.Case, error) {
	now := e.clock.Now()
	c := &store.Case{
		ID:            uuid.Must(uuid.NewV4()).String(),
		ContentKey:    contentKey,
		NormalizedKey: normalizedKey,
		Fingerprint:   fingerprint,
		Description:   description,
		State:         store.StateSubmitted,
		DueAt:         SLAFor(store.StateSubmitted, now),
		CreatedAt:     now,
	}
	if err := e.cases.CreateCase(ctx, c, reporterID); err != nil {
		return nil, err
	}
	if _, err := e.cases.AppendEvent(ctx, &store.CaseEvent{
		CaseID:    c.ID,
		ActorID:   reporterID,
		ActorRole: store.RoleReporter,
		FromState: store.StateSubmitted,
		ToState:   store.StateSubmitted,
		Note:      "case submitted",
		TS:        now,
	}); err != nil {
		e.logger.Errorf("workflow: submission event for case %s: %v", c.ID, err)
	}
	return c, nil
}

// Transition moves a case along one matrix edge on behalf of an actor.
// Fails with ErrCaseNotFound, ErrInvalidTransition (wrapped in
// TransitionError), ErrPermissionDenied (same), or ErrStaleState when a
// concurrent transition won the CAS.
func (e *Engine) Transition(ctx context.Context, caseID string, target store.State, actorID string, actorRole store.Role, note string) (*store.Case, error) {
	c, err := e.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCaseNotFound
	}
	if !target.Valid() || !edgeAllowed(c.State, target) {
		return nil, &TransitionError{Err: ErrInvalidTransition, From: c.State, To: target, Role: actorRole}
	}
	if !roleAllowed(c.State, target, actorRole) {
		return nil, &TransitionError{Err: ErrPermissionDenied, From: c.State, To: target, Role: actorRole}
	}

	now := e.clock.Now()
	mut := store.CaseMutation{
		State:     target,
		DueAt:     SLAFor(target, now),
		UpdatedAt: now,
	}
	if target == store.StateInReview && c.AssigneeID == nil {
		if assignee := e.pickAssignee(ctx, actorID, actorRole); assignee != "" {
			mut.AssigneeID = &assignee
		}
	}

	ev := &store.CaseEvent{
		CaseID:    caseID,
		ActorID:   actorID,
		ActorRole: actorRole,
		FromState: c.State,
		ToState:   target,
		Note:      note,
		TS:        now,
	}
	if err := e.cases.CompareAndSwapState(ctx, caseID, c.State, mut, ev); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrStaleState
		}
		return nil, err
	}
	e.logger.Infof("workflow: case %s %s -> %s by %s (%s)", caseID, c.State, target, actorID, actorRole)

	updated := *c
	updated.State = target
	updated.DueAt = mut.DueAt
	updated.UpdatedAt = now
	if mut.AssigneeID != nil {
		updated.AssigneeID = mut.AssigneeID
	}
	return &updated, nil
}

// AvailableTransitions returns the matrix targets from the case's current
// state that the given role is authorized to execute.
func (e *Engine) AvailableTransitions(ctx context.Context, caseID string, actorRole store.Role) ([]store.State, error) {
	c, err := e.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCaseNotFound
	}
	var res []store.State
	for _, t := range targetsFrom(c.State) {
		if roleAllowed(c.State, t, actorRole) {
			res = append(res, t)
		}
	}
	return res, nil
}

// UpdateDescription replaces the case description. Only reporters already on
// the case may do so, and only while the case is still in SUBMITTED. The old
// value is kept in the event history.
func (e *Engine) UpdateDescription(ctx context.Context, caseID, actorID string, actorRole store.Role, description string) (*store.Case, error) {
	c, err := e.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCaseNotFound
	}
	if c.State != store.StateSubmitted {
		return nil, &TransitionError{Err: ErrInvalidTransition, From: c.State, To: c.State, Role: actorRole}
	}
	if actorRole != store.RoleReporter || !containsStr(c.Reporters, actorID) {
		return nil, &TransitionError{Err: ErrPermissionDenied, From: c.State, To: c.State, Role: actorRole}
	}
	now := e.clock.Now()
	if err := e.cases.UpdateDescription(ctx, caseID, store.StateSubmitted, description, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrStaleState
		}
		return nil, err
	}
	if _, err := e.cases.AppendEvent(ctx, &store.CaseEvent{
		CaseID:    caseID,
		ActorID:   actorID,
		ActorRole: actorRole,
		FromState: c.State,
		ToState:   c.State,
		Note:      "description updated; previous: " + c.Description,
		TS:        now,
	}); err != nil {
		e.logger.Errorf("workflow: description event for case %s: %v", caseID, err)
	}
	c.Description = description
	c.UpdatedAt = now
	return c, nil
}

// pickAssignee chooses the least-loaded active officer. When the acting user
// is an officer taking the case into review themselves and no better pick
// exists, they get it; the configured default is the last resort.
func (e *Engine) pickAssignee(ctx context.Context, actorID string, actorRole store.Role) string {
	if e.users != nil {
		id, err := e.users.PickLeastLoadedOfficer(ctx)
		if err != nil {
			e.logger.Warnf("workflow: pick assignee: %v", err)
		} else if id != "" {
			return id
		}
	}
	if actorRole == store.RoleOfficer && actorID != "" {
		return actorID
	}
	return e.cfg.DefaultAssignee
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
