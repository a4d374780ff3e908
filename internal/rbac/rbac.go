// Package rbac holds the authorization chain applied to every protected
// operation: authenticated, then approved, then admin.
package rbac

import (
	"errors"

	"agora/api/internal/store"
)

var (
	ErrUnauthenticated  = errors.New("authentication required")
	ErrNotApproved      = errors.New("account is awaiting approval")
	ErrAdminRequired    = errors.New("admin access required")
	ErrSelfModification = errors.New("cannot change your own account")
	ErrNotOwner         = errors.New("only the author may do that")
)

// Principal is the caller as described by its session token.
type Principal struct {
	UserID     string
	Username   string
	IsApproved bool
	IsAdmin    bool
}

// Stage passes the principal through or fails.
type Stage func(p *Principal) (*Principal, error)

func Authenticated(p *Principal) (*Principal, error) {
	if p == nil || p.UserID == "" {
		return nil, ErrUnauthenticated
	}
	return p, nil
}

func Approved(p *Principal) (*Principal, error) {
	if !p.IsApproved {
		return nil, ErrNotApproved
	}
	return p, nil
}

func Admin(p *Principal) (*Principal, error) {
	if !p.IsAdmin {
		return nil, ErrAdminRequired
	}
	return p, nil
}

// Chain runs stages left to right and stops at the first failure.
func Chain(stages ...Stage) Stage {
	return func(p *Principal) (*Principal, error) {
		var err error
		for _, stage := range stages {
			if p, err = stage(p); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
}

var (
	Member    = Chain(Authenticated, Approved)
	AdminOnly = Chain(Authenticated, Approved, Admin)
)

// Check runs the chain for callers that only need the error.
func Check(p *Principal, stage Stage) error {
	_, err := stage(p)
	return err
}

// ForForum returns the chain that guards reading or writing in forumType.
func ForForum(forumType store.ForumType) Stage {
	if forumType == store.ForumClosed {
		return AdminOnly
	}
	return Member
}

// NotSelf rejects admin actions aimed at the caller's own account.
func NotSelf(p *Principal, targetUserID string) error {
	if p != nil && p.UserID == targetUserID {
		return ErrSelfModification
	}
	return nil
}

// Owns rejects callers acting on content they did not author.
func Owns(p *Principal, authorID string) error {
	if p == nil || p.UserID != authorID {
		return ErrNotOwner
	}
	return nil
}
