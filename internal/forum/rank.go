package forum

import (
	"sort"
	"time"

	"agora/api/internal/store"
)

// InitialPost is the earliest message of a thread as shown in listings.
type InitialPost struct {
	ID           string     `json:"id"`
	Content      string     `json:"content"`
	ImageURL     *string    `json:"imageUrl"`
	AuthorID     string     `json:"authorId"`
	CreatedAt    *time.Time `json:"createdAt"`
	Likes        []string   `json:"likes"`
	Dislikes     []string   `json:"dislikes"`
	LikeCount    int        `json:"likeCount"`
	DislikeCount int        `json:"dislikeCount"`
}

func emptyInitialPost() InitialPost {
	return InitialPost{Likes: []string{}, Dislikes: []string{}}
}

// ThreadListing is a thread enriched for forum pages.
type ThreadListing struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	ForumType        store.ForumType `json:"forumType"`
	AuthorID         string          `json:"authorId"`
	AuthorName       string          `json:"authorName"`
	AuthorProfilePic *string         `json:"authorProfilePic"`
	CreatedAt        time.Time       `json:"createdAt"`
	LastActivity     time.Time       `json:"lastActivity"`
	MessageCount     int             `json:"messageCount"`
	InitialPost      InitialPost     `json:"initialPost"`
}

// Listing projects a stored summary. MessageCount is the live count.
func Listing(s store.ThreadSummary) ThreadListing {
	authorName := s.AuthorName
	if authorName == "" {
		authorName = UnknownAuthor
	}
	listing := ThreadListing{
		ID:               s.ID,
		Title:            s.Title,
		ForumType:        s.ForumType,
		AuthorID:         s.AuthorID,
		AuthorName:       authorName,
		AuthorProfilePic: s.AuthorProfilePic,
		CreatedAt:        s.CreatedAt,
		LastActivity:     s.LastActivity,
		MessageCount:     s.LiveMessageCount,
		InitialPost:      emptyInitialPost(),
	}
	if s.InitialID == nil {
		return listing
	}
	listing.InitialPost = InitialPost{
		ID:           *s.InitialID,
		Content:      deref(s.InitialContent),
		ImageURL:     s.InitialImageURL,
		AuthorID:     deref(s.InitialAuthorID),
		CreatedAt:    s.InitialCreatedAt,
		Likes:        nonNil(s.InitialLikes),
		Dislikes:     nonNil(s.InitialDislikes),
		LikeCount:    s.InitialLikeCount,
		DislikeCount: s.InitialDislikeCount,
	}
	return listing
}

// RankThreads projects summaries and orders them by the initial post's like
// count, then most recent activity.
func RankThreads(summaries []store.ThreadSummary) []ThreadListing {
	listings := make([]ThreadListing, 0, len(summaries))
	for _, s := range summaries {
		listings = append(listings, Listing(s))
	}
	sort.SliceStable(listings, func(i, j int) bool {
		a, b := listings[i], listings[j]
		return ranksBefore(a.InitialPost.LikeCount, a.LastActivity, b.InitialPost.LikeCount, b.LastActivity)
	})
	return listings
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
