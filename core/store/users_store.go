package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"takedown/core/utils"

	"github.com/gofrs/uuid/v5"
)

// ErrDuplicateEmail signals that another user already owns the email.
var ErrDuplicateEmail = errors.New("duplicate email")

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UsersStore interface {
	Create(ctx context.Context, u *User) (string, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// List returns every user, newest first.
	List(ctx context.Context) ([]User, error)
	// UpdateRole rewrites a user's role; false when no such user exists.
	UpdateRole(ctx context.Context, id string, role Role) (bool, error)
	ListOfficers(ctx context.Context) ([]User, error)
	// PickLeastLoadedOfficer returns the active officer with the fewest
	// open assigned cases, or "" when none exists.
	PickLeastLoadedOfficer(ctx context.Context) (string, error)
}

type usersStore struct {
	db *DB
}

func NewUsersStore(db *DB) UsersStore {
	return &usersStore{db: db}
}

func (s *usersStore) Create(ctx context.Context, u *User) (string, error) {
	if u.ID == "" {
		u.ID = uuid.Must(uuid.NewV4()).String()
	}
	if u.Role == "" {
		u.Role = RoleReporter
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = utils.NowUTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO users(id, email, role, active, created_at) VALUES(?,?,?,?,?)`),
		u.ID, u.Email, string(u.Role), boolToInt(u.Active), u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicateEmail
		}
		return "", err
	}
	return u.ID, nil
}

func (s *usersStore) GetByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT id, email, role, active, created_at FROM users WHERE id=?`), id)
	return scanUser(row)
}

func (s *usersStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT id, email, role, active, created_at FROM users WHERE email=?`), email)
	return scanUser(row)
}

func (s *usersStore) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, role, active, created_at FROM users ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func (s *usersStore) UpdateRole(ctx context.Context, id string, role Role) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET role=? WHERE id=?`), string(role), id)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *usersStore) ListOfficers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, email, role, active, created_at FROM users
		WHERE role=? AND active=1 ORDER BY created_at ASC`), string(RoleOfficer))
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func (s *usersStore) PickLeastLoadedOfficer(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT u.id FROM users u
		LEFT JOIN cases c ON c.assignee_id = u.id AND c.state != ?
		WHERE u.role = ? AND u.active = 1
		GROUP BY u.id
		ORDER BY COUNT(c.id) ASC, u.created_at ASC
		LIMIT 1`), string(StateCompleted), string(RoleOfficer))
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var role string
	var active int
	if err := row.Scan(&u.ID, &u.Email, &role, &active, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = Role(role)
	u.Active = active == 1
	return &u, nil
}

func scanUsers(rows *sql.Rows) ([]User, error) {
	defer rows.Close()
	var res []User
	for rows.Next() {
		var u User
		var role string
		var active int
		if err := rows.Scan(&u.ID, &u.Email, &role, &active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		u.Active = active == 1
		res = append(res, u)
	}
	return res, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
