// Package user stores accounts and their roles.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

const bcryptCost = 12

var (
	ErrNotFound           = errors.New("user not found")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func ValidRole(r string) bool {
	return r == RoleStudent || r == RoleTeacher || r == RoleAdmin
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store { return &Store{db: db, now: time.Now} }

const userCols = `id, username, role, password_hash, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		u       User
		hash    sql.NullString
		created int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Role, &hash, &created); err != nil {
		return User{}, err
	}
	u.PasswordHash = hash.String
	u.CreatedAt = time.UnixMicro(created).UTC()
	return u, nil
}

func (s *Store) get(ctx context.Context, where string, arg string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE `+where+`=$1`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) Get(ctx context.Context, id string) (User, error) { return s.get(ctx, "id", id) }

func (s *Store) GetByUsername(ctx context.Context, username string) (User, error) {
	return s.get(ctx, "username", username)
}

// List returns users ordered by username, optionally filtered by role.
func (s *Store) List(ctx context.Context, role string) ([]User, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if role == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+userCols+` FROM users ORDER BY username`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+userCols+` FROM users WHERE role=$1 ORDER BY username`, role)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Upsert inserts or updates a user by id. An empty password keeps the stored hash.
func (s *Store) Upsert(ctx context.Context, u User, password string) (User, error) {
	if !ValidRole(u.Role) {
		return User{}, fmt.Errorf("%w: %q", ErrInvalidRole, u.Role)
	}
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
		if err != nil {
			return User{}, err
		}
		u.PasswordHash = string(h)
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	var hash sql.NullString
	if u.PasswordHash != "" {
		hash = sql.NullString{String: u.PasswordHash, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (`+userCols+`) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
		  username=excluded.username,
		  role=excluded.role,
		  password_hash=COALESCE(excluded.password_hash, users.password_hash)`,
		u.ID, u.Username, u.Role, hash, now.UnixMicro())
	if err != nil {
		return User{}, err
	}
	return s.Get(ctx, u.ID)
}

// Authenticate checks a username/password pair against the bcrypt hash.
func (s *Store) Authenticate(ctx context.Context, username, password string) (User, error) {
	u, err := s.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

var (
	ErrLastAdmin        = errors.New("cannot demote the last admin")
	ErrPasswordRequired = errors.New("password required for new user")
)

// SetRole changes a user's role, found by id or username. The last admin
// cannot be demoted.
func (s *Store) SetRole(ctx context.Context, idOrUsername, role string) (User, error) {
	if !ValidRole(role) {
		return User{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	u, err := scanUser(tx.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE id=$1 OR username=$1`, idOrUsername))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if u.Role == RoleAdmin && role != RoleAdmin {
		var admins int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE role=$1`, RoleAdmin).Scan(&admins); err != nil {
			return User{}, err
		}
		if admins <= 1 {
			return User{}, ErrLastAdmin
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET role=$1 WHERE id=$2`, role, u.ID); err != nil {
		return User{}, err
	}
	if err := tx.Commit(); err != nil {
		return User{}, err
	}
	u.Role = role
	return u, nil
}

// ChangePassword replaces the hash after checking the current password.
func (s *Store) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.PasswordHash != "" && bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}
	h, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE users SET password_hash=$1 WHERE id=$2`, string(h), id)
	return err
}

// Import is one row of a bulk roster upload.
type Import struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Password string `json:"password,omitempty"`
}

// BulkUpsert applies a roster in one transaction. Existing users (by id or
// username) are updated, keeping their hash when no password is given; new
// users need a password. Any bad row aborts the whole batch.
func (s *Store) BulkUpsert(ctx context.Context, rows []Import) (inserted, updated int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			inserted, updated = 0, 0
		} else {
			err = tx.Commit()
		}
	}()

	now := s.now().UTC().Truncate(time.Microsecond).UnixMicro()
	for _, r := range rows {
		if r.Role == "" {
			r.Role = RoleStudent
		}
		if !ValidRole(r.Role) {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRole, r.Role)
		}
		var hash string
		if r.Password != "" {
			b, e := bcrypt.GenerateFromPassword([]byte(r.Password), bcryptCost)
			if e != nil {
				return 0, 0, e
			}
			hash = string(b)
		}

		var existingID string
		err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id=$1 OR username=$2`, r.ID, r.Username).Scan(&existingID)
		switch {
		case err == nil:
			if hash != "" {
				_, err = tx.ExecContext(ctx, `UPDATE users SET username=$1, role=$2, password_hash=$3 WHERE id=$4`,
					r.Username, r.Role, hash, existingID)
			} else {
				_, err = tx.ExecContext(ctx, `UPDATE users SET username=$1, role=$2 WHERE id=$3`,
					r.Username, r.Role, existingID)
			}
			if err != nil {
				return 0, 0, err
			}
			updated++
		case errors.Is(err, sql.ErrNoRows):
			if hash == "" {
				return 0, 0, fmt.Errorf("%w: %s", ErrPasswordRequired, r.Username)
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO users (`+userCols+`) VALUES ($1,$2,$3,$4,$5)`,
				r.ID, r.Username, r.Role, hash, now)
			if err != nil {
				return 0, 0, err
			}
			inserted++
		default:
			return 0, 0, err
		}
	}
	return inserted, updated, nil
}
