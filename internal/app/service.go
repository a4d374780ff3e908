package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"agora/api/internal/auth"
	"agora/api/internal/authpw"
	"agora/api/internal/config"
	"agora/api/internal/oops"
	"agora/api/internal/rbac"
	"agora/api/internal/search"
	"agora/api/internal/session"
	"agora/api/internal/store"
	"agora/api/internal/upload"
	"agora/api/internal/util"
	"github.com/golang-jwt/jwt/v5"
)

type dataStore interface {
	authpw.UserStore
	Ping(context.Context) error
	GetUserByID(context.Context, string) (store.User, error)
	ListUsersByApproval(context.Context, bool) ([]store.User, error)
	DeletePendingUser(context.Context, string) error
	UpdateProfile(context.Context, string, *string, *string) (store.User, error)
	CreateThread(context.Context, store.Thread) (store.Thread, error)
	GetThread(context.Context, string) (store.Thread, error)
	ListThreadSummaries(context.Context, store.ForumType) ([]store.ThreadSummary, error)
	TouchThread(context.Context, string, time.Time) error
	CreateMessage(context.Context, store.Message) (store.Message, error)
	GetMessage(context.Context, string) (store.AuthoredMessage, error)
	ThreadMessages(context.Context, string) ([]store.MessageView, error)
	ToggleReaction(context.Context, string, string, store.ReactionAction) (store.MessageView, error)
	DeleteMessage(context.Context, string) error
	MessagesByAuthor(context.Context, string, bool) ([]store.AuthoredMessage, error)
}

type searcher interface {
	Search(context.Context, search.Query) ([]search.Result, error)
	IndexMessage(search.MessageRecord)
	DeleteMessage(string)
}

type mailer interface {
	IsConfigured() bool
	SendApprovalEmail(to, userName, loginURL string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	passwords *authpw.Service
	denylist  session.Denylist
	search    searcher
	uploads   upload.Sink
	mailer    mailer
	now       func() time.Time
}

func New(
	cfg config.Config,
	dataStore dataStore,
	denylist session.Denylist,
	searchService searcher,
	uploads upload.Sink,
	mail mailer,
) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		passwords: authpw.NewService(dataStore),
		denylist:  denylist,
		search:    searchService,
		uploads:   uploads,
		mailer:    mail,
		now:       time.Now,
	}
}

// Uploads serves stored files; nil when no sink is configured.
func (s *Service) Uploads() upload.Sink {
	return s.uploads
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingDenylist checks the denylist backend when it is not the database.
func (s *Service) PingDenylist(ctx context.Context) error {
	if s.denylist == nil {
		return nil
	}
	return s.denylist.Ping(ctx)
}

type LoginResult struct {
	Token string           `json:"token"`
	User  store.PublicUser `json:"user"`
}

// Register creates a pending account. The user cannot log in until an
// admin approves it.
func (s *Service) Register(ctx context.Context, username, email, password string) (store.PublicUser, error) {
	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return store.PublicUser{}, err
	}
	return user.Public(), nil
}

func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	user, err := s.passwords.Authenticate(ctx, username, password)
	if err != nil {
		return LoginResult{}, err
	}

	now := s.now()
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		UserID:     user.ID,
		Username:   user.Username,
		IsAdmin:    user.IsAdmin,
		IsApproved: user.IsApproved,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        util.NewID(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	})
	if err != nil {
		return LoginResult{}, oops.New(err, "issue session token")
	}
	return LoginResult{Token: token, User: user.Public()}, nil
}

// SessionFromToken authenticates a bearer token. Revoked tokens are rejected
// before the signature is checked.
func (s *Service) SessionFromToken(ctx context.Context, token string) (*rbac.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, rbac.ErrUnauthenticated
	}
	denied, err := s.denylist.IsDenied(ctx, auth.HashToken(token))
	if err != nil {
		return nil, oops.New(err, "check token denylist")
	}
	if denied {
		return nil, errDenylisted
	}

	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return nil, err
	}
	return &rbac.Principal{
		UserID:     claims.UserID,
		Username:   claims.Username,
		IsApproved: claims.IsApproved,
		IsAdmin:    claims.IsAdmin,
	}, nil
}

// Logout denylists token until its own expiry. Revoking twice succeeds.
func (s *Service) Logout(ctx context.Context, token string) error {
	expiresAt, err := auth.ExpiryOf([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return err
	}
	if err := s.denylist.Deny(ctx, auth.HashToken(strings.TrimSpace(token)), expiresAt); err != nil {
		return oops.New(err, "deny token")
	}
	return nil
}

func (s *Service) Me(ctx context.Context, p *rbac.Principal) (store.PublicUser, error) {
	if err := rbac.Check(p, rbac.Authenticated); err != nil {
		return store.PublicUser{}, err
	}
	user, err := s.store.GetUserByID(ctx, p.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return store.PublicUser{}, notFound("User not found")
	}
	if err != nil {
		return store.PublicUser{}, oops.New(err, "load user %s", p.UserID)
	}
	return user.Public(), nil
}

// CreateAdmin bootstraps an approved admin account, promoting an existing
// user with the same username.
func (s *Service) CreateAdmin(ctx context.Context, username, email, password string) (store.PublicUser, error) {
	user, err := s.passwords.EnsureAdmin(ctx, authpw.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return store.PublicUser{}, err
	}
	return user.Public(), nil
}

// parseID validates a path or body id.
func parseID(raw, what string) (string, error) {
	id, err := util.ParseID(raw)
	if err != nil {
		return "", badRequest("Invalid " + what + " id")
	}
	return id, nil
}

// authorOf resolves the current display fields of a user. A missing user
// reads as Unknown.
func (s *Service) authorOf(ctx context.Context, userID string) (string, *string, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, oops.New(err, "load author %s", userID)
	}
	return user.DisplayName, user.ProfilePicPath, nil
}
