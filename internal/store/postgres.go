package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUsernameTaken   = errors.New("username already taken")
	ErrEmailTaken      = errors.New("email already registered")
	ErrAlreadyApproved = errors.New("user already approved")
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, username, email, password_hash, display_name, profile_pic_path, is_approved, is_admin, created_at`

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	var created User
	err := sqlscan.Get(ctx, s.db, &created, `
		INSERT INTO users (id, username, email, password_hash, display_name, is_approved, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+userColumns,
		user.ID, user.Username, user.Email, user.PasswordHash, user.DisplayName, user.IsApproved, user.IsAdmin, user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if strings.Contains(pgErr.ConstraintName, "email") {
				return User{}, ErrEmailTaken
			}
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := sqlscan.Get(ctx, s.db, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if err != nil {
		return User{}, notFound(err, "get user")
	}
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := sqlscan.Get(ctx, s.db, &user, `SELECT `+userColumns+` FROM users WHERE LOWER(username)=LOWER($1)`, username)
	if err != nil {
		return User{}, notFound(err, "get user by username")
	}
	return user, nil
}

func (s *PostgresStore) UsernameOrEmailTaken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM users WHERE LOWER(username)=LOWER($1)),
			EXISTS(SELECT 1 FROM users WHERE LOWER(email)=LOWER($2))
	`, username, email).Scan(&usernameTaken, &emailTaken)
	if err != nil {
		return false, false, fmt.Errorf("check user uniqueness: %w", err)
	}
	return usernameTaken, emailTaken, nil
}

// FindUserIDsByDisplayName matches display names exactly, ignoring case.
func (s *PostgresStore) FindUserIDsByDisplayName(ctx context.Context, displayName string) ([]string, error) {
	var ids []string
	err := sqlscan.Select(ctx, s.db, &ids, `SELECT id FROM users WHERE LOWER(display_name)=LOWER($1)`, displayName)
	if err != nil {
		return nil, fmt.Errorf("find users by display name: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ListUsersByApproval(ctx context.Context, approved bool) ([]User, error) {
	users := []User{}
	err := sqlscan.Select(ctx, s.db, &users, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_approved=$1
		ORDER BY created_at ASC, username ASC
	`, approved)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// SetApproved marks the user approved. changed is false when it already was.
func (s *PostgresStore) SetApproved(ctx context.Context, userID string) (User, bool, error) {
	return s.updateFlag(ctx, userID, `UPDATE users SET is_approved=TRUE WHERE id=$1 AND NOT is_approved RETURNING `+userColumns)
}

// SetAdmin sets is_admin. changed is false when the flag already matched.
func (s *PostgresStore) SetAdmin(ctx context.Context, userID string, admin bool) (User, bool, error) {
	return s.updateFlag(ctx, userID, `UPDATE users SET is_admin=$2 WHERE id=$1 AND is_admin<>$2 RETURNING `+userColumns, admin)
}

func (s *PostgresStore) updateFlag(ctx context.Context, userID, query string, args ...any) (User, bool, error) {
	var user User
	err := sqlscan.Get(ctx, s.db, &user, query, append([]any{userID}, args...)...)
	if err == nil {
		return user, true, nil
	}
	if !sqlscan.NotFound(err) {
		return User{}, false, fmt.Errorf("update user: %w", err)
	}
	current, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return User{}, false, err
	}
	return current, false, nil
}

// DeletePendingUser removes a user that has not been approved yet.
func (s *PostgresStore) DeletePendingUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1 AND NOT is_approved`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return ErrAlreadyApproved
}

// UpdateProfile changes the fields that are non-nil.
func (s *PostgresStore) UpdateProfile(ctx context.Context, userID string, displayName, profilePicPath *string) (User, error) {
	var user User
	err := sqlscan.Get(ctx, s.db, &user, `
		UPDATE users SET
			display_name = COALESCE($2, display_name),
			profile_pic_path = COALESCE($3, profile_pic_path)
		WHERE id=$1
		RETURNING `+userColumns,
		userID, displayName, profilePicPath,
	)
	if err != nil {
		return User{}, notFound(err, "update profile")
	}
	return user, nil
}

func (s *PostgresStore) DenyToken(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO denylisted_tokens (token_hash, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (token_hash) DO NOTHING
	`, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("deny token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsTokenDenied(ctx context.Context, tokenHash string) (bool, error) {
	var denied bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM denylisted_tokens WHERE token_hash=$1 AND expires_at > NOW())
	`, tokenHash).Scan(&denied)
	if err != nil {
		return false, fmt.Errorf("check denied token: %w", err)
	}
	return denied, nil
}

// PurgeExpiredTokens deletes denylist rows whose token has expired anyway.
func (s *PostgresStore) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM denylisted_tokens WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge denied tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func notFound(err error, op string) error {
	if sqlscan.NotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
