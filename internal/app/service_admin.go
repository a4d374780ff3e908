package app

import (
	"context"
	"errors"

	"agora/api/internal/logging"
	"agora/api/internal/oops"
	"agora/api/internal/rbac"
	"agora/api/internal/store"
)

// AdminResult reports an admin change. Changed is false when the user was
// already in the requested state.
type AdminResult struct {
	User    store.PublicUser `json:"user"`
	Changed bool             `json:"changed"`
}

func (s *Service) ListPending(ctx context.Context, p *rbac.Principal) ([]store.PublicUser, error) {
	return s.listUsers(ctx, p, false)
}

func (s *Service) ListMembers(ctx context.Context, p *rbac.Principal) ([]store.PublicUser, error) {
	return s.listUsers(ctx, p, true)
}

func (s *Service) listUsers(ctx context.Context, p *rbac.Principal, approved bool) ([]store.PublicUser, error) {
	if err := rbac.Check(p, rbac.AdminOnly); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsersByApproval(ctx, approved)
	if err != nil {
		return nil, oops.New(err, "list users")
	}
	out := make([]store.PublicUser, 0, len(users))
	for _, user := range users {
		out = append(out, user.Public())
	}
	return out, nil
}

func (s *Service) Approve(ctx context.Context, p *rbac.Principal, rawUserID string) (AdminResult, error) {
	if err := rbac.Check(p, rbac.AdminOnly); err != nil {
		return AdminResult{}, err
	}
	userID, err := parseID(rawUserID, "user")
	if err != nil {
		return AdminResult{}, err
	}

	user, changed, err := s.store.SetApproved(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return AdminResult{}, notFound("User not found")
	}
	if err != nil {
		return AdminResult{}, oops.New(err, "approve user %s", userID)
	}
	if changed {
		s.notifyApproved(user)
	}
	return AdminResult{User: user.Public(), Changed: changed}, nil
}

func (s *Service) notifyApproved(user store.User) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	if err := s.mailer.SendApprovalEmail(user.Email, user.DisplayName, s.cfg.PublicURL+"/login"); err != nil {
		logging.Warn().Err(err).Str("user_id", user.ID).Msg("approval email failed")
	}
}

// Reject deletes a pending registration.
func (s *Service) Reject(ctx context.Context, p *rbac.Principal, rawUserID string) error {
	if err := rbac.Check(p, rbac.AdminOnly); err != nil {
		return err
	}
	userID, err := parseID(rawUserID, "user")
	if err != nil {
		return err
	}
	if err := rbac.NotSelf(p, userID); err != nil {
		return err
	}

	err = s.store.DeletePendingUser(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound("User not found")
	case errors.Is(err, store.ErrAlreadyApproved):
		return badRequest("Approved members cannot be rejected")
	case err != nil:
		return oops.New(err, "reject user %s", userID)
	}
	return nil
}

func (s *Service) GrantAdmin(ctx context.Context, p *rbac.Principal, rawUserID string) (AdminResult, error) {
	return s.setAdmin(ctx, p, rawUserID, true)
}

func (s *Service) RevokeAdmin(ctx context.Context, p *rbac.Principal, rawUserID string) (AdminResult, error) {
	return s.setAdmin(ctx, p, rawUserID, false)
}

func (s *Service) setAdmin(ctx context.Context, p *rbac.Principal, rawUserID string, admin bool) (AdminResult, error) {
	if err := rbac.Check(p, rbac.AdminOnly); err != nil {
		return AdminResult{}, err
	}
	userID, err := parseID(rawUserID, "user")
	if err != nil {
		return AdminResult{}, err
	}
	if err := rbac.NotSelf(p, userID); err != nil {
		return AdminResult{}, err
	}

	user, changed, err := s.store.SetAdmin(ctx, userID, admin)
	if errors.Is(err, store.ErrNotFound) {
		return AdminResult{}, notFound("User not found")
	}
	if err != nil {
		return AdminResult{}, oops.New(err, "set admin=%t on %s", admin, userID)
	}
	return AdminResult{User: user.Public(), Changed: changed}, nil
}
