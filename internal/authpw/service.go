// Package authpw provides username/password registration and login.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"agora/api/internal/store"
	"agora/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 6

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotApproved        = errors.New("account is awaiting approval")
)

// Service provides username/password authentication
type Service struct {
	store UserStore
	cost  int
	now   func() time.Time
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	UsernameOrEmailTaken(ctx context.Context, username, email string) (bool, bool, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	SetApproved(ctx context.Context, userID string) (store.User, bool, error)
	SetAdmin(ctx context.Context, userID string, admin bool) (store.User, bool, error)
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost, now: time.Now}
}

// WithCost returns a copy using the given bcrypt cost. Tests use MinCost.
func (s *Service) WithCost(cost int) *Service {
	cp := *s
	cp.cost = cost
	return &cp
}

// RegisterRequest contains registration parameters
type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

func (r RegisterRequest) normalize() (RegisterRequest, error) {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Username == "" || r.Email == "" || r.Password == "" {
		return r, fmt.Errorf("%w: username, email and password are required", ErrInvalidInput)
	}
	if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		return r, fmt.Errorf("%w: email address is not valid", ErrInvalidInput)
	}
	if len(r.Password) < MinPasswordLength {
		return r, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	return r, nil
}

// Register creates an unapproved, non-admin account. No session is issued.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	req, err := req.normalize()
	if err != nil {
		return store.User{}, err
	}

	usernameTaken, emailTaken, err := s.store.UsernameOrEmailTaken(ctx, req.Username, req.Email)
	if err != nil {
		return store.User{}, err
	}
	if usernameTaken {
		return store.User{}, store.ErrUsernameTaken
	}
	if emailTaken {
		return store.User{}, store.ErrEmailTaken
	}

	return s.create(ctx, req, false)
}

func (s *Service) create(ctx context.Context, req RegisterRequest, admin bool) (store.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	// The unique indexes still decide races between concurrent registrations.
	return s.store.CreateUser(ctx, store.User{
		ID:           util.NewID(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		DisplayName:  req.Username,
		IsApproved:   admin,
		IsAdmin:      admin,
		CreatedAt:    s.now().UTC(),
	})
}

// Authenticate checks credentials and approval.
func (s *Service) Authenticate(ctx context.Context, username, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	if !user.IsApproved {
		return store.User{}, ErrNotApproved
	}
	return user, nil
}

// EnsureAdmin creates an approved admin, or promotes the existing account
// with that username. Used to bootstrap a fresh installation.
func (s *Service) EnsureAdmin(ctx context.Context, req RegisterRequest) (store.User, error) {
	req, err := req.normalize()
	if err != nil {
		return store.User{}, err
	}

	existing, err := s.store.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return s.create(ctx, req, true)
	}
	if err != nil {
		return store.User{}, err
	}

	if _, _, err := s.store.SetApproved(ctx, existing.ID); err != nil {
		return store.User{}, err
	}
	user, _, err := s.store.SetAdmin(ctx, existing.ID, true)
	return user, err
}
