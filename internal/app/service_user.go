package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"agora/api/internal/oops"
	"agora/api/internal/rbac"
	"agora/api/internal/store"
	"agora/api/internal/upload"
)

const maxDisplayNameLength = 50

type UpdateProfileInput struct {
	DisplayName *string
	Picture     io.Reader
}

// UserMessage is a message listed on its author's profile.
type UserMessage struct {
	ID           string          `json:"id"`
	ThreadID     string          `json:"threadId"`
	ThreadTitle  string          `json:"threadTitle"`
	ForumType    store.ForumType `json:"forumType"`
	Content      string          `json:"content"`
	ImageURL     *string         `json:"imageUrl"`
	ParentID     *string         `json:"parentId"`
	CreatedAt    time.Time       `json:"createdAt"`
	LikeCount    int             `json:"likeCount"`
	DislikeCount int             `json:"dislikeCount"`
}

func (s *Service) UpdateProfile(ctx context.Context, p *rbac.Principal, in UpdateProfileInput) (store.PublicUser, error) {
	if err := rbac.Check(p, rbac.Member); err != nil {
		return store.PublicUser{}, err
	}

	var displayName *string
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLength {
			return store.PublicUser{}, badRequest("Display name must be 1 to 50 characters")
		}
		displayName = &name
	}
	if displayName == nil && in.Picture == nil {
		return store.PublicUser{}, badRequest("Nothing to update")
	}

	var picture *string
	if in.Picture != nil {
		if s.uploads == nil {
			return store.PublicUser{}, badRequest("Uploads are not enabled")
		}
		path, err := s.uploads.Save(ctx, upload.KindProfile, in.Picture, upload.ProfileLimit)
		if err != nil {
			if errors.Is(err, upload.ErrTooLarge) || errors.Is(err, upload.ErrNotImage) {
				return store.PublicUser{}, err
			}
			return store.PublicUser{}, oops.New(err, "store profile picture")
		}
		picture = &path
	}

	user, err := s.store.UpdateProfile(ctx, p.UserID, displayName, picture)
	if errors.Is(err, store.ErrNotFound) {
		return store.PublicUser{}, notFound("User not found")
	}
	if err != nil {
		return store.PublicUser{}, oops.New(err, "update profile of %s", p.UserID)
	}
	return user.Public(), nil
}

// UserMessages lists a member's messages, newest first. Closed-forum
// messages are only visible to admins.
func (s *Service) UserMessages(ctx context.Context, p *rbac.Principal, rawUserID string) ([]UserMessage, error) {
	if err := rbac.Check(p, rbac.Member); err != nil {
		return nil, err
	}
	userID, err := parseID(rawUserID, "user")
	if err != nil {
		return nil, err
	}

	msgs, err := s.store.MessagesByAuthor(ctx, userID, p.IsAdmin)
	if err != nil {
		return nil, oops.New(err, "list messages of %s", userID)
	}
	out := make([]UserMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, UserMessage{
			ID:           m.ID,
			ThreadID:     m.ThreadID,
			ThreadTitle:  m.ThreadTitle,
			ForumType:    m.ForumType,
			Content:      m.Content,
			ImageURL:     m.ImageURL,
			ParentID:     m.ParentID,
			CreatedAt:    m.CreatedAt,
			LikeCount:    m.LikeCount,
			DislikeCount: m.DislikeCount,
		})
	}
	return out, nil
}
