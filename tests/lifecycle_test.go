package tests

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"takedown/config"
	"takedown/core/automation"
	"takedown/core/dedup"
	"takedown/core/store"
	"takedown/core/utils"
	"takedown/core/workflow"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	cases store.CasesStore
	users store.UsersStore
	eng   *workflow.Engine
	ddp   *dedup.Service
	sched *automation.Scheduler
	clock *testClock
}

func setup(t *testing.T) *env {
	t.Helper()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBURL: filepath.Join(t.TempDir(), "test.db")}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cases := store.NewCasesStore(db)
	users := store.NewUsersStore(db)
	clock := &testClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	eng := workflow.NewEngine(cases, users, clock, cfg.Workflow, logger)
	ddp := dedup.NewService(cases, eng, logger)
	sched := automation.NewScheduler(cfg.Automation, eng, cases, users, clock, logger)
	return &env{cases: cases, users: users, eng: eng, ddp: ddp, sched: sched, clock: clock}
}

// Drives one case through the whole lifecycle, mixing reporter submissions,
// officer decisions and scheduler escalation.
func TestCaseLifecycle(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	officer, err := e.users.Create(ctx, &store.User{Email: "officer@example.com", Role: store.RoleOfficer, Active: true})
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.ddp.Submit(ctx, "http://www.Example.com/abuse?utm_source=mail", "illegal content", "rep-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Created || res.State != store.StateSubmitted {
		t.Fatalf("submit result = %+v", res)
	}

	// A second reporter hits the same page without the tracking noise.
	dup, err := e.ddp.Submit(ctx, "https://example.com/abuse", "same thing", "rep-2")
	if err != nil {
		t.Fatal(err)
	}
	if dup.Created || dup.CaseID != res.CaseID {
		t.Fatalf("dedup result = %+v", dup)
	}

	if _, err := e.eng.Transition(ctx, res.CaseID, store.StateInReview, officer, store.RoleOfficer, "reviewing"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.eng.Transition(ctx, res.CaseID, store.StateMatchFound, officer, store.RoleOfficer, "known content"); err != nil {
		t.Fatal(err)
	}

	// Nobody acts within the match window; the sweep escalates.
	e.clock.Advance(25 * time.Hour)
	if err := e.sched.RunSweepOnce(ctx, e.clock.Now()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	c, err := e.cases.GetCase(ctx, res.CaseID)
	if err != nil {
		t.Fatal(err)
	}
	if c.State != store.StateEscalated {
		t.Fatalf("state = %s after missed match window, want escalated", c.State)
	}

	// Officers cannot close out an escalated case; an admin can.
	if _, err := e.eng.Transition(ctx, res.CaseID, store.StateApproved, officer, store.RoleOfficer, ""); err == nil {
		t.Fatal("officer resolved an escalated case")
	}
	if _, err := e.eng.Transition(ctx, res.CaseID, store.StateApproved, "admin-1", store.RoleAdmin, "takedown confirmed"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.eng.Transition(ctx, res.CaseID, store.StateCompleted, "admin-1", store.RoleAdmin, "done"); err != nil {
		t.Fatal(err)
	}

	c, _ = e.cases.GetCase(ctx, res.CaseID)
	if c.State != store.StateCompleted || c.DueAt != nil {
		t.Fatalf("final case = %+v", c)
	}
	if len(c.Reporters) != 2 {
		t.Fatalf("reporters = %v", c.Reporters)
	}

	events, err := e.cases.ListEvents(ctx, res.CaseID, 0)
	if err != nil {
		t.Fatal(err)
	}
	// submit, link, in_review, match_found, escalate, approve, complete
	if len(events) != 7 {
		t.Fatalf("got %d events, want 7", len(events))
	}
	edges := []struct{ from, to store.State }{
		{store.StateSubmitted, store.StateSubmitted},
		{store.StateSubmitted, store.StateSubmitted},
		{store.StateSubmitted, store.StateInReview},
		{store.StateInReview, store.StateMatchFound},
		{store.StateMatchFound, store.StateEscalated},
		{store.StateEscalated, store.StateApproved},
		{store.StateApproved, store.StateCompleted},
	}
	for i, want := range edges {
		if events[i].FromState != want.from || events[i].ToState != want.to {
			t.Fatalf("event %d = %s -> %s, want %s -> %s",
				i, events[i].FromState, events[i].ToState, want.from, want.to)
		}
	}
	if events[4].ActorRole != store.RoleSystem {
		t.Fatalf("escalation actor role = %s, want system", events[4].ActorRole)
	}
}

func TestRejectionPath(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	officer, err := e.users.Create(ctx, &store.User{Email: "officer@example.com", Role: store.RoleOfficer, Active: true})
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.ddp.Submit(ctx, "https://example.com/benign", "looks fine actually", "rep-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, target := range []store.State{store.StateInReview, store.StateRejected, store.StateCompleted} {
		if _, err := e.eng.Transition(ctx, res.CaseID, target, officer, store.RoleOfficer, ""); err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
	}
	c, _ := e.cases.GetCase(ctx, res.CaseID)
	if c.State != store.StateCompleted {
		t.Fatalf("state = %s", c.State)
	}
}
