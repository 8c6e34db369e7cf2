package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"takedown/config"
	"takedown/core/store"
	"takedown/core/utils"
	"takedown/core/workflow"

	"github.com/robfig/cron/v3"
)

// SystemActorID identifies the scheduler in audit events.
const SystemActorID = "system"

// Scheduler runs the recurring SLA sweep and the assignment reconciliation
// pass. Both entrypoints are also callable directly with an explicit time,
// so tests drive them without sleeping.
type Scheduler struct {
	cfg    config.AutomationConfig
	engine *workflow.Engine
	cases  store.CasesStore
	users  store.UsersStore
	clock  workflow.Clock
	logger *utils.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

func NewScheduler(cfg config.AutomationConfig, engine *workflow.Engine, cases store.CasesStore, users store.UsersStore, clock workflow.Clock, logger *utils.Logger) *Scheduler {
	if clock == nil {
		clock = workflow.SystemClock()
	}
	return &Scheduler{cfg: cfg, engine: engine, cases: cases, users: users, clock: clock, logger: logger}
}

func (s *Scheduler) StartWithContext(ctx context.Context) {
	if s == nil || !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	c := cron.New()
	sweepSpec := s.cfg.SweepSpec
	if sweepSpec == "" {
		sweepSpec = "@every 30m"
	}
	if _, err := c.AddFunc(sweepSpec, func() { s.runScheduled(runCtx, s.RunSweepOnce) }); err != nil {
		s.logger.Errorf("automation: invalid sweep spec %q: %v", sweepSpec, err)
	}
	assignSpec := s.cfg.AssignSpec
	if assignSpec == "" {
		assignSpec = "@every 1h"
	}
	if _, err := c.AddFunc(assignSpec, func() { s.runScheduled(runCtx, s.RunAssignOnce) }); err != nil {
		s.logger.Errorf("automation: invalid assign spec %q: %v", assignSpec, err)
	}
	c.Start()
	s.cron = c
	s.running = true
}

func (s *Scheduler) StopWithContext(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	cancel := s.cancel
	c := s.cron
	wasRunning := s.running
	s.cancel = nil
	s.cron = nil
	s.mu.Unlock()
	if !wasRunning {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runScheduled(ctx context.Context, pass func(context.Context, time.Time) error) {
	if ctx.Err() != nil {
		return
	}
	timeout := s.cfg.SweepTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pass(runCtx, s.clock.Now()); err != nil {
		s.logger.Errorf("automation: pass: %v", err)
	}
}

// RunSweepOnce escalates overdue cases. Each candidate is re-read and
// re-checked before acting, so a human transition between selection and
// action simply drops the case from this sweep; it is picked up again next
// time if still overdue. One case's failure never aborts the sweep.
func (s *Scheduler) RunSweepOnce(ctx context.Context, now time.Time) error {
	overdue, err := s.cases.ListOverdue(ctx, now)
	if err != nil {
		return err
	}
	for i := range overdue {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.sweepCase(ctx, overdue[i].ID, overdue[i].State, now); err != nil {
			s.logger.Warnf("automation: sweep case %s: %v", overdue[i].ID, err)
		}
	}
	return nil
}

func (s *Scheduler) sweepCase(ctx context.Context, caseID string, selectedState store.State, now time.Time) error {
	c, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c == nil || c.State != selectedState || !c.Overdue(now) {
		return nil
	}
	if c.State == store.StateEscalated {
		// No further auto-transition; admins get a notification event.
		_, err := s.cases.AppendEvent(ctx, &store.CaseEvent{
			CaseID:    caseID,
			ActorID:   SystemActorID,
			ActorRole: store.RoleSystem,
			FromState: c.State,
			ToState:   c.State,
			Note:      "SLA breach in escalated state, admin attention required",
			TS:        now,
		})
		return err
	}
	if !workflow.AutoEscalates(c.State) {
		return nil
	}
	_, err = s.engine.Transition(ctx, caseID, store.StateEscalated, SystemActorID, store.RoleSystem, "SLA breach")
	if errors.Is(err, workflow.ErrStaleState) {
		// Re-read and re-check once; a human transition may have landed.
		fresh, getErr := s.cases.GetCase(ctx, caseID)
		if getErr != nil || fresh == nil || fresh.State != selectedState || !fresh.Overdue(now) {
			return getErr
		}
		_, err = s.engine.Transition(ctx, caseID, store.StateEscalated, SystemActorID, store.RoleSystem, "SLA breach")
	}
	return err
}

// RunAssignOnce assigns the least-loaded officer to IN_REVIEW cases that are
// missing an assignee, covering assignments that failed transiently at
// transition time.
func (s *Scheduler) RunAssignOnce(ctx context.Context, now time.Time) error {
	unassigned, err := s.cases.ListUnassignedInReview(ctx)
	if err != nil {
		return err
	}
	for i := range unassigned {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c := &unassigned[i]
		officer, err := s.users.PickLeastLoadedOfficer(ctx)
		if err != nil {
			s.logger.Warnf("automation: pick officer: %v", err)
			continue
		}
		if officer == "" {
			return nil
		}
		mut := store.CaseMutation{
			State:      store.StateInReview,
			DueAt:      c.DueAt,
			AssigneeID: &officer,
			UpdatedAt:  now,
		}
		ev := &store.CaseEvent{
			CaseID:    c.ID,
			ActorID:   SystemActorID,
			ActorRole: store.RoleSystem,
			FromState: store.StateInReview,
			ToState:   store.StateInReview,
			Note:      "auto-assigned to " + officer,
			TS:        now,
		}
		if err := s.cases.CompareAndSwapState(ctx, c.ID, store.StateInReview, mut, ev); err != nil {
			if !errors.Is(err, store.ErrConflict) {
				s.logger.Warnf("automation: assign case %s: %v", c.ID, err)
			}
			continue
		}
	}
	return nil
}
