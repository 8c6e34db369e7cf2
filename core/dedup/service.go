package dedup

import (
	"context"
	"errors"
	"time"

	"takedown/core/store"
	"takedown/core/utils"
	"takedown/core/workflow"
)

// createRetries bounds the window where a losing submission can observe the
// winner's fingerprint claim before the winner's transaction is visible.
const createRetries = 3

// Service collapses equivalent submissions into a single case. The unique
// fingerprint insert inside the store's create transaction is the one atomic
// decision point between concurrent submissions.
type Service struct {
	cases  store.CasesStore
	engine *workflow.Engine
	logger *utils.Logger
}

func NewService(cases store.CasesStore, engine *workflow.Engine, logger *utils.Logger) *Service {
	return &Service{cases: cases, engine: engine, logger: logger}
}

type SubmitResult struct {
	CaseID  string      `json:"case_id"`
	Created bool        `json:"created"`
	State   store.State `json:"state"`
	DueAt   *time.Time  `json:"due_at,omitempty"`
}

// Submit validates and normalizes the content reference, then either creates
// a new case or links the reporter to the existing one for the same
// fingerprint. Concurrent submissions with the same fingerprint converge on
// exactly one case.
func (s *Service) Submit(ctx context.Context, contentRef, description, reporterID string) (SubmitResult, error) {
	normalized, _, err := Normalize(contentRef)
	if err != nil {
		return SubmitResult{}, err
	}
	fingerprint := Fingerprint(normalized)

	for attempt := 0; attempt < createRetries; attempt++ {
		c, err := s.engine.CreateCase(ctx, contentRef, normalized, fingerprint, description, reporterID)
		if err == nil {
			return SubmitResult{CaseID: c.ID, Created: true, State: c.State, DueAt: c.DueAt}, nil
		}
		if !errors.Is(err, store.ErrDuplicateFingerprint) {
			return SubmitResult{}, err
		}

		caseID, err := s.cases.LookupFingerprint(ctx, fingerprint)
		if err != nil {
			return SubmitResult{}, err
		}
		if caseID == "" {
			// Lost the insert race but the winner is not visible yet;
			// retry the whole decision.
			continue
		}
		return s.link(ctx, caseID, reporterID)
	}
	return SubmitResult{}, errors.New("dedup: submission did not converge")
}

func (s *Service) link(ctx context.Context, caseID, reporterID string) (SubmitResult, error) {
	now := s.engine.Clock().Now()
	added, err := s.cases.AddReporter(ctx, caseID, reporterID, now)
	if err != nil {
		return SubmitResult{}, err
	}
	c, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return SubmitResult{}, err
	}
	if c == nil {
		return SubmitResult{}, workflow.ErrCaseNotFound
	}
	if added {
		if _, err := s.cases.AppendEvent(ctx, &store.CaseEvent{
			CaseID:    caseID,
			ActorID:   reporterID,
			ActorRole: store.RoleReporter,
			FromState: c.State,
			ToState:   c.State,
			Note:      "duplicate submission linked",
			TS:        now,
		}); err != nil {
			s.logger.Errorf("dedup: link event for case %s: %v", caseID, err)
		}
	}
	return SubmitResult{CaseID: caseID, Created: false, State: c.State, DueAt: c.DueAt}, nil
}
