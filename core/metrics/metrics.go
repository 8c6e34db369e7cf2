package metrics

import (
	"context"
	"time"

	"takedown/core/store"
	"takedown/core/workflow"
)

// Metrics is a read-only rollup of the current case set. A snapshot may race
// with in-flight transitions and report either side of one, but every case is
// counted in exactly one state.
type Metrics struct {
	ByState       map[store.State]int `json:"by_state"`
	Overdue       int                 `json:"overdue"`
	AvgCycleHours float64             `json:"avg_cycle_hours"`
	AssigneeOpen  map[string]int      `json:"assignee_open"`
	GeneratedAt   time.Time           `json:"generated_at"`
}

type Aggregator struct {
	cases store.CasesStore
	clock workflow.Clock
}

func NewAggregator(cases store.CasesStore, clock workflow.Clock) *Aggregator {
	if clock == nil {
		clock = workflow.SystemClock()
	}
	return &Aggregator{cases: cases, clock: clock}
}

func (a *Aggregator) Snapshot(ctx context.Context) (*Metrics, error) {
	now := a.clock.Now()
	counts, err := a.cases.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	byState := make(map[store.State]int, len(store.AllStates))
	for _, st := range store.AllStates {
		byState[st] = counts[st]
	}
	overdue, err := a.cases.ListOverdue(ctx, now)
	if err != nil {
		return nil, err
	}
	avgSeconds, err := a.cases.AverageCycleSeconds(ctx)
	if err != nil {
		return nil, err
	}
	loads, err := a.cases.AssigneeOpenCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		ByState:       byState,
		Overdue:       len(overdue),
		AvgCycleHours: avgSeconds / 3600.0,
		AssigneeOpen:  loads,
		GeneratedAt:   now,
	}, nil
}

// Overdue lists the currently overdue, non-terminal cases.
func (a *Aggregator) Overdue(ctx context.Context) ([]store.Case, error) {
	return a.cases.ListOverdue(ctx, a.clock.Now())
}
