package app

import (
	"context"
	"errors"
	"io"
	"strings"

	"agora/api/internal/forum"
	"agora/api/internal/oops"
	"agora/api/internal/rbac"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"agora/api/internal/upload"
	"agora/api/internal/util"
)

type CreateThreadInput struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	ImageURL *string `json:"imageUrl"`
	// Image, when set, is stored through the upload sink and replaces ImageURL.
	Image io.Reader `json:"-"`
}

type PostMessageInput struct {
	Content  string    `json:"content"`
	ParentID *string   `json:"parentId"`
	ImageURL *string   `json:"imageUrl"`
	Image    io.Reader `json:"-"`
}

type ThreadPage struct {
	Thread   store.Thread  `json:"thread"`
	Messages []*forum.Node `json:"messages"`
}

type CreatedThread struct {
	Thread      forum.ThreadListing `json:"thread"`
	InitialPost *forum.Node         `json:"initialPost"`
}

func (s *Service) ListThreads(ctx context.Context, p *rbac.Principal, forumType store.ForumType) ([]forum.ThreadListing, error) {
	if err := rbac.Check(p, rbac.ForForum(forumType)); err != nil {
		return nil, err
	}
	summaries, err := s.store.ListThreadSummaries(ctx, forumType)
	if err != nil {
		return nil, oops.New(err, "list %s threads", forumType)
	}
	return forum.RankThreads(summaries), nil
}

func (s *Service) CreateThread(ctx context.Context, p *rbac.Principal, forumType store.ForumType, in CreateThreadInput) (CreatedThread, error) {
	if err := rbac.Check(p, rbac.ForForum(forumType)); err != nil {
		return CreatedThread{}, err
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Content) == "" {
		return CreatedThread{}, badRequest("Title and content are required")
	}

	now := s.now().UTC()
	thread, err := store.NewThread(util.NewID(), in.Title, forumType, p.UserID, now)
	if err != nil {
		return CreatedThread{}, badRequest(err.Error())
	}
	imageURL, err := s.saveImage(ctx, in.Image, in.ImageURL)
	if err != nil {
		return CreatedThread{}, err
	}
	initial, err := store.NewMessage(util.NewID(), thread.ID, p.UserID, in.Content, nil, imageURL, now)
	if err != nil {
		return CreatedThread{}, badRequest(err.Error())
	}

	if thread, err = s.store.CreateThread(ctx, thread); err != nil {
		return CreatedThread{}, oops.New(err, "create thread")
	}
	if initial, err = s.store.CreateMessage(ctx, initial); err != nil {
		return CreatedThread{}, oops.New(err, "create initial message of %s", thread.ID)
	}
	if err := s.store.TouchThread(ctx, thread.ID, initial.CreatedAt); err != nil {
		return CreatedThread{}, oops.New(err, "touch thread %s", thread.ID)
	}
	thread.MessageCount = 1
	s.search.IndexMessage(search.RecordFor(initial, forumType))

	authorName, authorPic, err := s.authorOf(ctx, p.UserID)
	if err != nil {
		return CreatedThread{}, err
	}
	summary := store.ThreadSummary{
		Thread:              thread,
		AuthorName:          authorName,
		AuthorProfilePic:    authorPic,
		LiveMessageCount:    1,
		InitialID:           &initial.ID,
		InitialContent:      &initial.Content,
		InitialImageURL:     initial.ImageURL,
		InitialAuthorID:     &initial.AuthorID,
		InitialCreatedAt:    &initial.CreatedAt,
		InitialLikes:        initial.Likes,
		InitialDislikes:     initial.Dislikes,
		InitialLikeCount:    initial.LikeCount,
		InitialDislikeCount: initial.DislikeCount,
	}
	return CreatedThread{
		Thread: forum.Listing(summary),
		InitialPost: forum.NodeFromView(store.MessageView{
			Message:          initial,
			AuthorName:       authorName,
			AuthorProfilePic: authorPic,
		}),
	}, nil
}

// ThreadMessages returns the thread with its ranked reply tree. The message
// count is the number of messages actually loaded.
func (s *Service) ThreadMessages(ctx context.Context, p *rbac.Principal, rawThreadID string) (ThreadPage, error) {
	if err := rbac.Check(p, rbac.Member); err != nil {
		return ThreadPage{}, err
	}
	thread, err := s.loadThread(ctx, p, rawThreadID)
	if err != nil {
		return ThreadPage{}, err
	}

	views, err := s.store.ThreadMessages(ctx, thread.ID)
	if err != nil {
		return ThreadPage{}, oops.New(err, "load messages of %s", thread.ID)
	}
	thread.MessageCount = len(views)
	return ThreadPage{Thread: thread, Messages: forum.BuildTree(views)}, nil
}

func (s *Service) PostMessage(ctx context.Context, p *rbac.Principal, rawThreadID string, in PostMessageInput) (*forum.Node, error) {
	if err := rbac.Check(p, rbac.Member); err != nil {
		return nil, err
	}
	thread, err := s.loadThread(ctx, p, rawThreadID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, badRequest("Content is required")
	}

	var parentID *string
	if in.ParentID != nil && strings.TrimSpace(*in.ParentID) != "" {
		id, err := parseID(*in.ParentID, "parent message")
		if err != nil {
			return nil, err
		}
		parent, err := s.store.GetMessage(ctx, id)
		if errors.Is(err, store.ErrNotFound) || (err == nil && parent.ThreadID != thread.ID) {
			return nil, badRequest("Parent message does not belong to this thread")
		}
		if err != nil {
			return nil, oops.New(err, "load parent message %s", id)
		}
		parentID = &id
	}

	imageURL, err := s.saveImage(ctx, in.Image, in.ImageURL)
	if err != nil {
		return nil, err
	}
	msg, err := store.NewMessage(util.NewID(), thread.ID, p.UserID, in.Content, parentID, imageURL, s.now().UTC())
	if err != nil {
		return nil, badRequest(err.Error())
	}
	if msg, err = s.store.CreateMessage(ctx, msg); err != nil {
		return nil, oops.New(err, "create message in %s", thread.ID)
	}
	if err := s.store.TouchThread(ctx, thread.ID, msg.CreatedAt); err != nil {
		return nil, oops.New(err, "touch thread %s", thread.ID)
	}
	s.search.IndexMessage(search.RecordFor(msg, thread.ForumType))

	authorName, authorPic, err := s.authorOf(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return forum.NodeFromView(store.MessageView{Message: msg, AuthorName: authorName, AuthorProfilePic: authorPic}), nil
}

// React toggles the caller's like or dislike and returns the message as stored.
func (s *Service) React(ctx context.Context, p *rbac.Principal, rawMessageID, actionType string) (*forum.Node, error) {
	if err := rbac.Check(p, rbac.Member); err != nil {
		return nil, err
	}
	messageID, err := parseID(rawMessageID, "message")
	if err != nil {
		return nil, err
	}
	action, err := store.ParseReactionAction(actionType)
	if err != nil {
		return nil, badRequest("actionType must be 'like' or 'dislike'")
	}

	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := rbac.Check(p, rbac.ForForum(msg.ForumType)); err != nil {
		return nil, err
	}

	view, err := s.store.ToggleReaction(ctx, messageID, p.UserID, action)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Message not found")
	}
	if err != nil {
		return nil, oops.New(err, "toggle %s on %s", action, messageID)
	}
	reactionsTotal.WithLabelValues(string(action)).Inc()
	return forum.NodeFromView(view), nil
}

// DeleteMessage removes one of the caller's messages. Replies stay and are
// shown under a placeholder.
func (s *Service) DeleteMessage(ctx context.Context, p *rbac.Principal, rawMessageID string) error {
	if err := rbac.Check(p, rbac.Member); err != nil {
		return err
	}
	messageID, err := parseID(rawMessageID, "message")
	if err != nil {
		return err
	}
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := rbac.Owns(p, msg.AuthorID); err != nil {
		return err
	}

	err = s.store.DeleteMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("Message not found")
	}
	if err != nil {
		return oops.New(err, "delete message %s", messageID)
	}
	s.search.DeleteMessage(messageID)
	return nil
}

func (s *Service) Search(ctx context.Context, p *rbac.Principal, q search.Query) ([]search.Result, error) {
	if err := rbac.Check(p, rbac.Member); err != nil {
		return nil, err
	}
	q.IsAdmin = p.IsAdmin
	return s.search.Search(ctx, q)
}

// loadThread parses the id, loads the thread and checks the caller may see
// its forum.
func (s *Service) loadThread(ctx context.Context, p *rbac.Principal, rawThreadID string) (store.Thread, error) {
	threadID, err := parseID(rawThreadID, "thread")
	if err != nil {
		return store.Thread{}, err
	}
	thread, err := s.store.GetThread(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Thread{}, notFound("Thread not found")
	}
	if err != nil {
		return store.Thread{}, oops.New(err, "load thread %s", threadID)
	}
	if err := rbac.Check(p, rbac.ForForum(thread.ForumType)); err != nil {
		return store.Thread{}, err
	}
	return thread, nil
}

func (s *Service) loadMessage(ctx context.Context, messageID string) (store.AuthoredMessage, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return store.AuthoredMessage{}, notFound("Message not found")
	}
	if err != nil {
		return store.AuthoredMessage{}, oops.New(err, "load message %s", messageID)
	}
	return msg, nil
}

// saveImage stores an uploaded content image, or passes through a URL the
// client already has.
func (s *Service) saveImage(ctx context.Context, image io.Reader, imageURL *string) (*string, error) {
	if image == nil {
		if imageURL != nil && strings.TrimSpace(*imageURL) == "" {
			return nil, nil
		}
		return imageURL, nil
	}
	if s.uploads == nil {
		return nil, badRequest("Uploads are not enabled")
	}
	path, err := s.uploads.Save(ctx, upload.KindContent, image, upload.ContentLimit)
	if err != nil {
		if errors.Is(err, upload.ErrTooLarge) || errors.Is(err, upload.ErrNotImage) {
			return nil, err
		}
		return nil, oops.New(err, "store content image")
	}
	return &path, nil
}
