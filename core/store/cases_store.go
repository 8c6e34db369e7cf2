package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"takedown/core/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

type CasesStore interface {
	// CreateCase inserts the fingerprint claim, the case row and the first
	// reporter in one transaction. Returns ErrDuplicateFingerprint when
	// another case already owns the fingerprint.
	CreateCase(ctx context.Context, c *Case, reporterID string) error
	GetCase(ctx context.Context, id string) (*Case, error)
	// CompareAndSwapState applies mut only if the stored state still equals
	// expected; returns ErrConflict otherwise. When ev is non-nil it is
	// appended in the same transaction, so a swap and its audit event land
	// together or not at all.
	CompareAndSwapState(ctx context.Context, id string, expected State, mut CaseMutation, ev *CaseEvent) error
	// UpdateDescription rewrites the description while the case is still in
	// the expected state.
	UpdateDescription(ctx context.Context, id string, expected State, description string, now time.Time) error

	LookupFingerprint(ctx context.Context, fingerprint string) (string, error)
	AddReporter(ctx context.Context, caseID, reporterID string, now time.Time) (bool, error)
	ListReporters(ctx context.Context, caseID string) ([]string, error)

	AppendEvent(ctx context.Context, ev *CaseEvent) (int64, error)
	ListEvents(ctx context.Context, caseID string, limit int) ([]CaseEvent, error)

	ListOverdue(ctx context.Context, now time.Time) ([]Case, error)
	ListUnassignedInReview(ctx context.Context) ([]Case, error)

	CountByState(ctx context.Context) (map[State]int, error)
	AverageCycleSeconds(ctx context.Context) (float64, error)
	AssigneeOpenCounts(ctx context.Context) (map[string]int, error)
}

type casesStore struct {
	db *DB
}

func NewCasesStore(db *DB) CasesStore {
	return &casesStore{db: db}
}

const caseColumns = `id, content_key, normalized_key, fingerprint, description, state, due_at, assignee_id, created_at, updated_at`

const insertEventSQL = `
	INSERT INTO case_events(case_id, actor_id, actor_role, from_state, to_state, note, ts)
	VALUES(?,?,?,?,?,?,?)`

func (s *casesStore) CreateCase(ctx context.Context, c *Case, reporterID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := c.CreatedAt
	if now.IsZero() {
		now = utils.NowUTC()
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO fingerprints(fingerprint, case_id, created_at) VALUES(?,?,?)`),
		c.Fingerprint, c.ID, now); err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return ErrDuplicateFingerprint
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO cases(`+caseColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?)`),
		c.ID, c.ContentKey, c.NormalizedKey, c.Fingerprint, c.Description, string(c.State),
		nullableTime(c.DueAt), nullableStr(c.AssigneeID), now, now); err != nil {
		tx.Rollback()
		return err
	}
	if reporterID != "" {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO case_reporters(case_id, reporter_id, created_at) VALUES(?,?,?)`),
			c.ID, reporterID, now); err != nil {
			tx.Rollback()
			return err
		}
		c.Reporters = []string{reporterID}
	}
	return tx.Commit()
}

func (s *casesStore) GetCase(ctx context.Context, id string) (*Case, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+caseColumns+` FROM cases WHERE id=?`), id)
	c, err := scanCase(row)
	if err != nil || c == nil {
		return c, err
	}
	reporters, err := s.ListReporters(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Reporters = reporters
	return c, nil
}

func (s *casesStore) CompareAndSwapState(ctx context.Context, id string, expected State, mut CaseMutation, ev *CaseEvent) error {
	updatedAt := mut.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = utils.NowUTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var res sql.Result
	if mut.AssigneeID != nil {
		res, err = tx.ExecContext(ctx, s.db.Rebind(`
			UPDATE cases SET state=?, due_at=?, assignee_id=?, updated_at=? WHERE id=? AND state=?`),
			string(mut.State), nullableTime(mut.DueAt), *mut.AssigneeID, updatedAt, id, string(expected))
	} else {
		res, err = tx.ExecContext(ctx, s.db.Rebind(`
			UPDATE cases SET state=?, due_at=?, updated_at=? WHERE id=? AND state=?`),
			string(mut.State), nullableTime(mut.DueAt), updatedAt, id, string(expected))
	}
	if err != nil {
		tx.Rollback()
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return ErrConflict
	}
	if ev != nil {
		if ev.TS.IsZero() {
			ev.TS = updatedAt
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(insertEventSQL),
			ev.CaseID, ev.ActorID, string(ev.ActorRole), string(ev.FromState), string(ev.ToState), ev.Note, ev.TS); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *casesStore) UpdateDescription(ctx context.Context, id string, expected State, description string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE cases SET description=?, updated_at=? WHERE id=? AND state=?`),
		description, now, id, string(expected))
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *casesStore) LookupFingerprint(ctx context.Context, fingerprint string) (string, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT case_id FROM fingerprints WHERE fingerprint=?`), fingerprint)
	var caseID string
	if err := row.Scan(&caseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return caseID, nil
}

func (s *casesStore) AddReporter(ctx context.Context, caseID, reporterID string, now time.Time) (bool, error) {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO case_reporters(case_id, reporter_id, created_at) VALUES(?,?,?)`),
		caseID, reporterID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *casesStore) ListReporters(ctx context.Context, caseID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT reporter_id FROM case_reporters WHERE case_id=? ORDER BY created_at ASC, reporter_id ASC`), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (s *casesStore) AppendEvent(ctx context.Context, ev *CaseEvent) (int64, error) {
	if ev.TS.IsZero() {
		ev.TS = utils.NowUTC()
	}
	if s.db.Dialect == DialectPostgres {
		row := s.db.QueryRowContext(ctx, s.db.Rebind(insertEventSQL)+` RETURNING id`,
			ev.CaseID, ev.ActorID, string(ev.ActorRole), string(ev.FromState), string(ev.ToState), ev.Note, ev.TS)
		if err := row.Scan(&ev.ID); err != nil {
			return 0, err
		}
		return ev.ID, nil
	}
	res, err := s.db.ExecContext(ctx, insertEventSQL,
		ev.CaseID, ev.ActorID, string(ev.ActorRole), string(ev.FromState), string(ev.ToState), ev.Note, ev.TS)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	ev.ID = id
	return id, nil
}

func (s *casesStore) ListEvents(ctx context.Context, caseID string, limit int) ([]CaseEvent, error) {
	query := `
		SELECT id, case_id, actor_id, actor_role, from_state, to_state, note, ts
		FROM case_events WHERE case_id=? ORDER BY ts ASC, id ASC`
	args := []any{caseID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CaseEvent
	for rows.Next() {
		var ev CaseEvent
		var role, from, to string
		if err := rows.Scan(&ev.ID, &ev.CaseID, &ev.ActorID, &role, &from, &to, &ev.Note, &ev.TS); err != nil {
			return nil, err
		}
		ev.ActorRole = Role(role)
		ev.FromState = State(from)
		ev.ToState = State(to)
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *casesStore) ListOverdue(ctx context.Context, now time.Time) ([]Case, error) {
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ActiveStates)), ",")
	args := []any{now}
	for _, st := range ActiveStates {
		args = append(args, string(st))
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT `+caseColumns+` FROM cases
		WHERE due_at IS NOT NULL AND due_at < ? AND state IN (`+placeholders+`)
		ORDER BY due_at ASC`), args...)
	if err != nil {
		return nil, err
	}
	return scanCases(rows)
}

func (s *casesStore) ListUnassignedInReview(ctx context.Context) ([]Case, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT `+caseColumns+` FROM cases
		WHERE state=? AND assignee_id IS NULL ORDER BY created_at ASC`), string(StateInReview))
	if err != nil {
		return nil, err
	}
	return scanCases(rows)
}

func (s *casesStore) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM cases GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[State]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		res[State(state)] = n
	}
	return res, rows.Err()
}

func (s *casesStore) AverageCycleSeconds(ctx context.Context) (float64, error) {
	// Total cycle time of completed cases: last update minus creation.
	query := `
		SELECT COALESCE(AVG((julianday(updated_at) - julianday(created_at)) * 86400.0), 0)
		FROM cases WHERE state=?`
	if s.db.Dialect == DialectPostgres {
		query = `
			SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (updated_at - created_at))), 0)
			FROM cases WHERE state=?`
	}
	row := s.db.QueryRowContext(ctx, s.db.Rebind(query), string(StateCompleted))
	var avg float64
	if err := row.Scan(&avg); err != nil {
		return 0, err
	}
	return avg, nil
}

func (s *casesStore) AssigneeOpenCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT assignee_id, COUNT(*) FROM cases
		WHERE assignee_id IS NOT NULL AND state!=? GROUP BY assignee_id`), string(StateCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		res[id] = n
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row *sql.Row) (*Case, error) {
	c, err := scanCaseFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func scanCases(rows *sql.Rows) ([]Case, error) {
	defer rows.Close()
	var res []Case
	for rows.Next() {
		c, err := scanCaseFrom(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *c)
	}
	return res, rows.Err()
}

func scanCaseFrom(row rowScanner) (*Case, error) {
	var c Case
	var state string
	var dueAt sql.NullTime
	var assignee sql.NullString
	if err := row.Scan(&c.ID, &c.ContentKey, &c.NormalizedKey, &c.Fingerprint, &c.Description,
		&state, &dueAt, &assignee, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.State = State(state)
	if dueAt.Valid {
		t := dueAt.Time
		c.DueAt = &t
	}
	if assignee.Valid {
		v := assignee.String
		c.AssigneeID = &v
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
