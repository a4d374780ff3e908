package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type ForumType string

const (
	ForumOpen   ForumType = "open"
	ForumClosed ForumType = "closed"
)

func ParseForumType(value string) (ForumType, error) {
	switch ForumType(strings.ToLower(strings.TrimSpace(value))) {
	case ForumOpen:
		return ForumOpen, nil
	case ForumClosed:
		return ForumClosed, nil
	default:
		return "", fmt.Errorf("unknown forum type %q", value)
	}
}

type User struct {
	ID             string    `db:"id"`
	Username       string    `db:"username"`
	Email          string    `db:"email"`
	PasswordHash   string    `db:"password_hash"`
	DisplayName    string    `db:"display_name"`
	ProfilePicPath *string   `db:"profile_pic_path"`
	IsApproved     bool      `db:"is_approved"`
	IsAdmin        bool      `db:"is_admin"`
	CreatedAt      time.Time `db:"created_at"`
}

// PublicUser is the user shape returned to clients; it never carries the hash.
type PublicUser struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"displayName"`
	ProfilePicPath *string   `json:"profilePic"`
	IsApproved     bool      `json:"isApproved"`
	IsAdmin        bool      `json:"isAdmin"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		DisplayName:    u.DisplayName,
		ProfilePicPath: u.ProfilePicPath,
		IsApproved:     u.IsApproved,
		IsAdmin:        u.IsAdmin,
		CreatedAt:      u.CreatedAt,
	}
}

type Thread struct {
	ID           string    `db:"id" json:"id"`
	Title        string    `db:"title" json:"title"`
	ForumType    ForumType `db:"forum_type" json:"forumType"`
	AuthorID     string    `db:"author_id" json:"authorId"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	LastActivity time.Time `db:"last_activity" json:"lastActivity"`
	MessageCount int       `db:"message_count" json:"messageCount"`
}

// NewThread validates the fields a caller controls.
func NewThread(id, title string, forumType ForumType, authorID string, now time.Time) (Thread, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Thread{}, errors.New("title is required")
	}
	if forumType != ForumOpen && forumType != ForumClosed {
		return Thread{}, fmt.Errorf("unknown forum type %q", forumType)
	}
	if authorID == "" {
		return Thread{}, errors.New("author is required")
	}
	return Thread{
		ID:           id,
		Title:        title,
		ForumType:    forumType,
		AuthorID:     authorID,
		CreatedAt:    now,
		LastActivity: now,
	}, nil
}

type Message struct {
	ID           string    `db:"id"`
	ThreadID     string    `db:"thread_id"`
	AuthorID     string    `db:"author_id"`
	Content      string    `db:"content"`
	ImageURL     *string   `db:"image_url"`
	ParentID     *string   `db:"parent_id"`
	CreatedAt    time.Time `db:"created_at"`
	Likes        IDSet     `db:"likes"`
	Dislikes     IDSet     `db:"dislikes"`
	LikeCount    int       `db:"like_count"`
	DislikeCount int       `db:"dislike_count"`
}

// NewMessage validates the fields a caller controls. Reaction sets start empty.
func NewMessage(id, threadID, authorID, content string, parentID, imageURL *string, now time.Time) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, errors.New("content is required")
	}
	if threadID == "" || authorID == "" {
		return Message{}, errors.New("thread and author are required")
	}
	if parentID != nil && *parentID == id {
		return Message{}, errors.New("message cannot reply to itself")
	}
	return Message{
		ID:        id,
		ThreadID:  threadID,
		AuthorID:  authorID,
		Content:   content,
		ImageURL:  imageURL,
		ParentID:  parentID,
		CreatedAt: now,
		Likes:     IDSet{},
		Dislikes:  IDSet{},
	}, nil
}

// MessageView is a message joined with its author's current profile.
type MessageView struct {
	Message
	AuthorName       string  `db:"author_name"`
	AuthorProfilePic *string `db:"author_profile_pic"`
}

// ThreadSummary is a thread joined with its author, live message count and
// earliest message. Initial* fields are nil when the thread has no messages.
type ThreadSummary struct {
	Thread
	AuthorName          string     `db:"author_name"`
	AuthorProfilePic    *string    `db:"author_profile_pic"`
	LiveMessageCount    int        `db:"live_message_count"`
	InitialID           *string    `db:"initial_id"`
	InitialContent      *string    `db:"initial_content"`
	InitialImageURL     *string    `db:"initial_image_url"`
	InitialAuthorID     *string    `db:"initial_author_id"`
	InitialCreatedAt    *time.Time `db:"initial_created_at"`
	InitialLikes        IDSet      `db:"initial_likes"`
	InitialDislikes     IDSet      `db:"initial_dislikes"`
	InitialLikeCount    int        `db:"initial_like_count"`
	InitialDislikeCount int        `db:"initial_dislike_count"`
}

// AuthoredMessage is a message listed on its author's profile.
type AuthoredMessage struct {
	Message
	ThreadTitle string    `db:"thread_title"`
	ForumType   ForumType `db:"forum_type"`
}

// IDSet is a set of user ids stored as a uuid[] column. It is read through
// to_json so it scans without driver-specific array types.
type IDSet []string

func (s *IDSet) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = IDSet{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan IDSet: unsupported type %T", src)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("scan IDSet: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	*s = ids
	return nil
}

// Value encodes the set as a Postgres array literal.
func (s IDSet) Value() (driver.Value, error) {
	return "{" + strings.Join(s, ",") + "}", nil
}

func (s IDSet) Contains(id string) bool {
	for _, item := range s {
		if item == id {
			return true
		}
	}
	return false
}

type ReactionAction string

const (
	ReactionLike    ReactionAction = "like"
	ReactionDislike ReactionAction = "dislike"
)

func ParseReactionAction(value string) (ReactionAction, error) {
	switch ReactionAction(strings.ToLower(strings.TrimSpace(value))) {
	case ReactionLike:
		return ReactionLike, nil
	case ReactionDislike:
		return ReactionDislike, nil
	default:
		return "", fmt.Errorf("actionType must be 'like' or 'dislike'")
	}
}
