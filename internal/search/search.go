package search

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"agora/api/internal/store"
)

// MaxResults caps every search response.
const MaxResults = 100

const dateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date")

// Query is a search request as received from a caller.
type Query struct {
	Text      string
	Author    string
	StartDate string
	EndDate   string
	Fuzzy     bool
	IsAdmin   bool
}

// Criteria is a parsed Query. Until is exclusive.
type Criteria struct {
	Words         []string
	AuthorIDs     []string
	From          *time.Time
	Until         *time.Time
	IncludeClosed bool
}

// ParseQuery splits the text into words and parses the date range. Dates are
// calendar days in UTC; the end date covers its whole day.
func ParseQuery(q Query) (Criteria, error) {
	c := Criteria{
		Words:         strings.Fields(q.Text),
		IncludeClosed: q.IsAdmin,
	}
	if v := strings.TrimSpace(q.StartDate); v != "" {
		from, err := time.ParseInLocation(dateLayout, v, time.UTC)
		if err != nil {
			return Criteria{}, fmt.Errorf("%w: startDate %q", ErrInvalidDate, v)
		}
		c.From = &from
	}
	if v := strings.TrimSpace(q.EndDate); v != "" {
		end, err := time.ParseInLocation(dateLayout, v, time.UTC)
		if err != nil {
			return Criteria{}, fmt.Errorf("%w: endDate %q", ErrInvalidDate, v)
		}
		until := end.AddDate(0, 0, 1)
		c.Until = &until
	}
	return c, nil
}

// MatchesWords reports whether content contains every word, ignoring case.
func (c Criteria) MatchesWords(content string) bool {
	lower := strings.ToLower(content)
	for _, w := range c.Words {
		if !strings.Contains(lower, strings.ToLower(w)) {
			return false
		}
	}
	return true
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID               string          `json:"id" db:"id"`
	ThreadID         string          `json:"threadId" db:"thread_id"`
	ThreadTitle      string          `json:"threadTitle" db:"thread_title"`
	ForumType        store.ForumType `json:"forumType" db:"forum_type"`
	AuthorID         string          `json:"authorId" db:"author_id"`
	AuthorName       string          `json:"authorName" db:"author_name"`
	AuthorProfilePic *string         `json:"authorProfilePic" db:"author_profile_pic"`
	Content          string          `json:"content" db:"content"`
	ImageURL         *string         `json:"imageUrl" db:"image_url"`
	ParentID         *string         `json:"parentId" db:"parent_id"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
	LikeCount        int             `json:"likeCount" db:"like_count"`
	DislikeCount     int             `json:"dislikeCount" db:"dislike_count"`
}

// MessageRecord is the data we index for a message.
type MessageRecord struct {
	ID        string `json:"id" db:"id"`
	ThreadID  string `json:"threadId" db:"thread_id"`
	AuthorID  string `json:"authorId" db:"author_id"`
	ForumType string `json:"forumType" db:"forum_type"`
	Content   string `json:"content" db:"content"`
	CreatedAt int64  `json:"createdAt" db:"created_at"`
}

// RecordFor builds the index record of a stored message.
func RecordFor(msg store.Message, forumType store.ForumType) MessageRecord {
	return MessageRecord{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		AuthorID:  msg.AuthorID,
		ForumType: string(forumType),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.Unix(),
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
