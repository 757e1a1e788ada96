package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	dbpkg "github.com/xaitan80/darts-planner/internal/db"
)

const (
	RolePlayer = "giocatore"
	RoleAdmin  = "admin"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username already exists")
)

type Repository struct {
	db    *sql.DB
	retry dbpkg.RetryPolicy
}

func NewRepository(db *sql.DB, retry dbpkg.RetryPolicy) *Repository {
	return &Repository{db: db, retry: retry}
}

type User struct {
	ID                  int64     `json:"id"`
	Username            string    `json:"username"`
	PasswordHash        string    `json:"-"`
	Nickname            *string   `json:"nickname"`
	Role                string    `json:"role"`
	ForcePasswordChange bool      `json:"force_password_change"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// DisplayName is the nickname when set, else the username.
func (u User) DisplayName() string {
	if u.Nickname != nil && strings.TrimSpace(*u.Nickname) != "" {
		return *u.Nickname
	}
	return u.Username
}

const userColumns = `id, username, password_hash, nickname, role, force_password_change, created_at, updated_at`

func scanUser(s interface{ Scan(...any) error }) (User, error) {
	var u User
	err := s.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Nickname, &u.Role, &u.ForcePasswordChange, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	return dbpkg.Retry(ctx, r.retry, func() (int64, error) {
		var n int64
		err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users`).Scan(&n)
		return n, err
	})
}

// CreateUser inserts a new user. Returns ErrUsernameTaken if the username exists.
func (r *Repository) CreateUser(ctx context.Context, username, passwordHash, role string) (User, error) {
	now := time.Now().UTC()
	u, err := dbpkg.Retry(ctx, r.retry, func() (User, error) {
		return scanUser(r.db.QueryRowContext(ctx,
			`INSERT INTO users (username, password_hash, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
			 RETURNING `+userColumns,
			username, passwordHash, role, now, now,
		))
	})
	if dbpkg.IsUniqueViolation(err) {
		return User{}, ErrUsernameTaken
	}
	return u, err
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return dbpkg.Retry(ctx, r.retry, func() (User, error) {
		return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	})
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (User, error) {
	return dbpkg.Retry(ctx, r.retry, func() (User, error) {
		return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	})
}

func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	return dbpkg.Retry(ctx, r.retry, func() ([]User, error) {
		rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []User
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, u)
		}
		return out, rows.Err()
	})
}

// SetPassword stores a new hash. force marks the password as temporary.
func (r *Repository) SetPassword(ctx context.Context, userID int64, hash string, force bool) error {
	return dbpkg.WithRetry(ctx, r.retry, func() error {
		_, err := r.db.ExecContext(ctx,
			`UPDATE users SET password_hash = ?, force_password_change = ?, updated_at = ? WHERE id = ?`,
			hash, force, time.Now().UTC(), userID)
		return err
	})
}

func (r *Repository) SetNickname(ctx context.Context, userID int64, nickname *string) error {
	return dbpkg.WithRetry(ctx, r.retry, func() error {
		_, err := r.db.ExecContext(ctx, `UPDATE users SET nickname = ?, updated_at = ? WHERE id = ?`,
			nickname, time.Now().UTC(), userID)
		return err
	})
}

func (r *Repository) CountAdmins(ctx context.Context) (int64, error) {
	return dbpkg.Retry(ctx, r.retry, func() (int64, error) {
		var n int64
		err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE role = ?`, RoleAdmin).Scan(&n)
		return n, err
	})
}

// DeleteUser removes the user with their sessions and attendance rows.
func (r *Repository) DeleteUser(ctx context.Context, userID int64) error {
	return dbpkg.WithRetry(ctx, r.retry, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		for _, q := range []string{
			`DELETE FROM sessions WHERE user_id = ?`,
			`DELETE FROM attendance WHERE user_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, userID); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return tx.Commit()
	})
}

// -------- Sessions --------

type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewToken returns a cryptographically secure random token (hex-64)
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewTempPassword returns a random URL-safe password of length n.
func NewTempPassword(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}

func (r *Repository) CreateSession(ctx context.Context, userID int64, ttl time.Duration) (Session, error) {
	tok, err := NewToken()
	if err != nil {
		return Session{}, err
	}
	now := time.Now().UTC()
	s := Session{Token: tok, UserID: userID, ExpiresAt: now.Add(ttl), CreatedAt: now}
	err = dbpkg.WithRetry(ctx, r.retry, func() error {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
			s.Token, s.UserID, s.ExpiresAt, s.CreatedAt)
		return err
	})
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

func (r *Repository) DeleteSession(ctx context.Context, token string) error {
	return dbpkg.WithRetry(ctx, r.retry, func() error {
		_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
		return err
	})
}

func (r *Repository) GetUserBySession(ctx context.Context, token string) (User, error) {
	now := time.Now().UTC()
	// Clean up expired while checking; failure here is non-fatal
	_, _ = r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now)

	return dbpkg.Retry(ctx, r.retry, func() (User, error) {
		return scanUser(r.db.QueryRowContext(ctx, `
			SELECT u.id, u.username, u.password_hash, u.nickname, u.role, u.force_password_change, u.created_at, u.updated_at
			FROM sessions s
			JOIN users u ON u.id = s.user_id
			WHERE s.token = ? AND s.expires_at > ?`, token, now))
	})
}

// -------- Audit --------

type AuditEntry struct {
	ID           int64     `json:"id"`
	AdminID      *int64    `json:"admin_id"`
	TargetUserID int64     `json:"target_user_id"`
	Action       string    `json:"action"`
	Details      string    `json:"details"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	AuditCreateUser    = "create_user"
	AuditPasswordReset = "password_reset"
	AuditDeleteUser    = "delete_user"
)

func (r *Repository) AddAudit(ctx context.Context, adminID *int64, targetID int64, action, details string) error {
	return dbpkg.WithRetry(ctx, r.retry, func() error {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO user_audit (admin_id, target_user_id, action, details, created_at) VALUES (?, ?, ?, ?, ?)`,
			adminID, targetID, action, details, time.Now().UTC())
		return err
	})
}

func (r *Repository) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	return dbpkg.Retry(ctx, r.retry, func() ([]AuditEntry, error) {
		rows, err := r.db.QueryContext(ctx,
			`SELECT id, admin_id, target_user_id, action, details, created_at FROM user_audit ORDER BY id DESC LIMIT ?`, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []AuditEntry
		for rows.Next() {
			var e AuditEntry
			if err := rows.Scan(&e.ID, &e.AdminID, &e.TargetUserID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, rows.Err()
	})
}
