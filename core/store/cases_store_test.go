package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"takedown/config"
	"takedown/core/utils"
)

func setupStoreTest(t *testing.T) (CasesStore, *DB) {
	t.Helper()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBURL: filepath.Join(t.TempDir(), "test.db")}
	logger := utils.NewLogger()
	db, err := NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewCasesStore(db), db
}

func newTestCase(id, fingerprint string, state State, dueAt *time.Time) *Case {
	return &Case{
		ID:            id,
		ContentKey:    "https://example.com/" + id,
		NormalizedKey: "https://example.com/" + id,
		Fingerprint:   fingerprint,
		Description:   "spam",
		State:         state,
		DueAt:         dueAt,
		CreatedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateCaseClaimsFingerprint(t *testing.T) {
	cases, _ := setupStoreTest(t)
	ctx := context.Background()

	due := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	if err := cases.CreateCase(ctx, newTestCase("c-1", "fp-1", StateSubmitted, &due), "rep-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := cases.CreateCase(ctx, newTestCase("c-2", "fp-1", StateSubmitted, &due), "rep-2")
	if !errors.Is(err, ErrDuplicateFingerprint) {
		t.Fatalf("err = %v, want ErrDuplicateFingerprint", err)
	}
	// The losing transaction must leave no partial rows behind.
	if c, err := cases.GetCase(ctx, "c-2"); err != nil || c != nil {
		t.Fatalf("loser case persisted: %v, %v", c, err)
	}
	caseID, err := cases.LookupFingerprint(ctx, "fp-1")
	if err != nil || caseID != "c-1" {
		t.Fatalf("fingerprint owner = %q, %v", caseID, err)
	}
}

func TestLookupFingerprintMissing(t *testing.T) {
	cases, _ := setupStoreTest(t)
	caseID, err := cases.LookupFingerprint(context.Background(), "nope")
	if err != nil || caseID != "" {
		t.Fatalf("lookup = %q, %v; want empty, nil", caseID, err)
	}
}

func TestCompareAndSwapStateGuard(t *testing.T) {
	cases, _ := setupStoreTest(t)
	ctx := context.Background()
	if err := cases.CreateCase(ctx, newTestCase("c-1", "fp-1", StateSubmitted, nil), "rep-1"); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	due := now.Add(72 * time.Hour)
	officer := "off-1"
	mut := CaseMutation{State: StateInReview, DueAt: &due, AssigneeID: &officer, UpdatedAt: now}
	if err := cases.CompareAndSwapState(ctx, "c-1", StateSubmitted, mut, nil); err != nil {
		t.Fatalf("cas: %v", err)
	}
	c, err := cases.GetCase(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if c.State != StateInReview || c.AssigneeID == nil || *c.AssigneeID != officer {
		t.Fatalf("case after cas = %+v", c)
	}
	if c.DueAt == nil || !c.DueAt.Equal(due) {
		t.Fatalf("dueAt = %v, want %v", c.DueAt, due)
	}

	// A second swap against the old state loses.
	if err := cases.CompareAndSwapState(ctx, "c-1", StateSubmitted, mut, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale cas err = %v, want ErrConflict", err)
	}

	// Clearing the deadline on a terminal-bound swap.
	mut2 := CaseMutation{State: StateApproved, DueAt: nil, UpdatedAt: now.Add(time.Hour)}
	if err := cases.CompareAndSwapState(ctx, "c-1", StateInReview, mut2, nil); err != nil {
		t.Fatal(err)
	}
	c, _ = cases.GetCase(ctx, "c-1")
	if c.DueAt != nil {
		t.Fatalf("dueAt = %v after clearing, want nil", c.DueAt)
	}
}

func TestCompareAndSwapStateEventAtomicity(t *testing.T) {
	cases, _ := setupStoreTest(t)
	ctx := context.Background()
	if err := cases.CreateCase(ctx, newTestCase("c-1", "fp-1", StateSubmitted, nil), "rep-1"); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	ev := &CaseEvent{
		CaseID: "c-1", ActorID: "off-1", ActorRole: RoleOfficer,
		FromState: StateSubmitted, ToState: StateInReview, Note: "taking it", TS: now,
	}

	mut := CaseMutation{State: StateInReview, UpdatedAt: now}
	if err := cases.CompareAndSwapState(ctx, "c-1", StateSubmitted, mut, ev); err != nil {
		t.Fatalf("cas: %v", err)
	}
	events, err := cases.ListEvents(ctx, "c-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Note != "taking it" {
		t.Fatalf("events after swap = %v, want exactly the swap event", events)
	}

	// A losing swap must leave no event behind.
	loser := &CaseEvent{
		CaseID: "c-1", ActorID: "off-2", ActorRole: RoleOfficer,
		FromState: StateSubmitted, ToState: StateInReview, Note: "too late", TS: now,
	}
	if err := cases.CompareAndSwapState(ctx, "c-1", StateSubmitted, mut, loser); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	events, _ = cases.ListEvents(ctx, "c-1", 0)
	if len(events) != 1 {
		t.Fatalf("losing swap wrote an event: %v", events)
	}
}

func TestUpdateDescriptionStateGuard(t *testing.T) {
	cases, _ := setupStoreTest(t)
	ctx := context.Background()
	if err := cases.CreateCase(ctx, newTestCase("c-1", "fp-1", StateSubmitted, nil), "rep-1"); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if err := cases.UpdateDescription(ctx, "c-1", StateSubmitted, "updated", now); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := cases.UpdateDescription(ctx, "c-1", StateInReview, "wrong state", now); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	c, _ := cases.GetCase(ctx, "c-1")
	if c.Description != "updated" {
		t.Fatalf("description = %q", c.Description)
	}
}

func TestAddReporterIdempotent(t *testing.T) {
	cases, _ := setupStoreTest(t)
	ctx := context.Background()
	if err := cases.CreateCase(ctx, newTestCase("c-1", "fp-1", StateSubmitted, nil), "rep-1"); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	added, err := cases.AddReporter(ctx, "c-1", "rep-2", now)
	if err != nil || !added {
		t.Fatalf("add new reporter = %v, %v", added, err)
	}
	added, err = cases.AddReporter(ctx, "c-1", "rep-2", now)
	if err != nil || added {
		t.Fatalf("re-add reporter = %v, %v; want false, nil", added, err)
	}
	reporters, err := cases.ListReporters(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(reporters) != 2 || reporters[0] != "rep-1" || reporters[1] != "rep-2" {
		t.Fatalf("reporters = %v", reporters)
	}
}

func TestEventsOrderedWithTieBreak(t *testing.T) {
	cases, _ := setupStoreTest(t)
	ctx := context.Background()
	if err := cases.CreateCase(ctx, newTestCase("c-1", "fp-1", StateSubmitted, nil), "rep-1"); err != nil {
		t.Fatal(err)
	}
	// Same timestamp on every event; insertion order must still hold.
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if _, err := cases.AppendEvent(ctx, &CaseEvent{
			CaseID: "c-1", ActorID: "rep-1", ActorRole: RoleReporter,
			FromState: StateSubmitted, ToState: StateSubmitted,
			Note: fmt.Sprintf("note %d", i), TS: ts,
		}); err != nil {
			t.Fatal(err)
		}
	}
	events, err := cases.ListEvents(ctx, "c-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events", len(events))
	}
	for i := range events {
		if events[i].Note != fmt.Sprintf("note %d", i) {
			t.Fatalf("event %d = %q, order broken", i, events[i].Note)
		}
	}

	limited, err := cases.ListEvents(ctx, "c-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited list = %d events, want 2", len(limited))
	}
}

func TestListOverdueFiltersTerminalAndFuture(t *testing.T) {
	cases, _ := setupStoreTest(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if err := cases.CreateCase(ctx, newTestCase("c-past", "fp-1", StateSubmitted, &past), "rep-1"); err != nil {
		t.Fatal(err)
	}
	if err := cases.CreateCase(ctx, newTestCase("c-future", "fp-2", StateSubmitted, &future), "rep-1"); err != nil {
		t.Fatal(err)
	}
	if err := cases.CreateCase(ctx, newTestCase("c-done", "fp-3", StateCompleted, nil), "rep-1"); err != nil {
		t.Fatal(err)
	}

	overdue, err := cases.ListOverdue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(overdue) != 1 || overdue[0].ID != "c-past" {
		t.Fatalf("overdue = %v", overdue)
	}
}

func TestListUnassignedInReview(t *testing.T) {
	cases, _ := setupStoreTest(t)
	ctx := context.Background()
	officer := "off-1"
	c1 := newTestCase("c-1", "fp-1", StateInReview, nil)
	c2 := newTestCase("c-2", "fp-2", StateInReview, nil)
	c2.AssigneeID = &officer
	c3 := newTestCase("c-3", "fp-3", StateSubmitted, nil)
	for _, c := range []*Case{c1, c2, c3} {
		if err := cases.CreateCase(ctx, c, "rep-1"); err != nil {
			t.Fatal(err)
		}
	}
	unassigned, err := cases.ListUnassignedInReview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unassigned) != 1 || unassigned[0].ID != "c-1" {
		t.Fatalf("unassigned = %v", unassigned)
	}
}
