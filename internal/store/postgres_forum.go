package store

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
)

// Arrays are read as JSON text so they scan into IDSet.
const messageColumns = `
	m.id, m.thread_id, m.author_id, m.content, m.image_url, m.parent_id, m.created_at,
	to_json(m.likes)::text AS likes, to_json(m.dislikes)::text AS dislikes,
	m.like_count, m.dislike_count`

const threadColumns = `t.id, t.title, t.forum_type, t.author_id, t.created_at, t.last_activity, t.message_count`

func (s *PostgresStore) CreateThread(ctx context.Context, thread Thread) (Thread, error) {
	var created Thread
	err := sqlscan.Get(ctx, s.db, &created, `
		INSERT INTO threads AS t (id, title, forum_type, author_id, created_at, last_activity, message_count)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		RETURNING `+threadColumns,
		thread.ID, thread.Title, string(thread.ForumType), thread.AuthorID, thread.CreatedAt, thread.LastActivity,
	)
	if err != nil {
		return Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID string) (Thread, error) {
	var thread Thread
	err := sqlscan.Get(ctx, s.db, &thread, `SELECT `+threadColumns+` FROM threads t WHERE t.id=$1`, threadID)
	if err != nil {
		return Thread{}, notFound(err, "get thread")
	}
	return thread, nil
}

// ListThreadSummaries returns every thread of forumType with its current
// author profile, live message count and earliest message. Order is left to
// the caller.
func (s *PostgresStore) ListThreadSummaries(ctx context.Context, forumType ForumType) ([]ThreadSummary, error) {
	summaries := []ThreadSummary{}
	err := sqlscan.Select(ctx, s.db, &summaries, `
		SELECT `+threadColumns+`,
			COALESCE(u.display_name, 'Unknown') AS author_name,
			u.profile_pic_path AS author_profile_pic,
			(SELECT COUNT(*) FROM messages c WHERE c.thread_id = t.id) AS live_message_count,
			im.id AS initial_id,
			im.content AS initial_content,
			im.image_url AS initial_image_url,
			im.author_id AS initial_author_id,
			im.created_at AS initial_created_at,
			to_json(COALESCE(im.likes, '{}'::uuid[]))::text AS initial_likes,
			to_json(COALESCE(im.dislikes, '{}'::uuid[]))::text AS initial_dislikes,
			COALESCE(im.like_count, 0) AS initial_like_count,
			COALESCE(im.dislike_count, 0) AS initial_dislike_count
		FROM threads t
		LEFT JOIN users u ON u.id = t.author_id
		LEFT JOIN LATERAL (
			SELECT m.id, m.content, m.image_url, m.author_id, m.created_at, m.likes, m.dislikes, m.like_count, m.dislike_count
			FROM messages m
			WHERE m.thread_id = t.id
			ORDER BY m.created_at ASC, m.id ASC
			LIMIT 1
		) im ON TRUE
		WHERE t.forum_type = $1
		ORDER BY t.last_activity DESC
	`, string(forumType))
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return summaries, nil
}

// TouchThread records a new reply on the thread.
func (s *PostgresStore) TouchThread(ctx context.Context, threadID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE threads
		SET last_activity = GREATEST(last_activity, $2), message_count = message_count + 1
		WHERE id=$1
	`, threadID, at)
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg Message) (Message, error) {
	var created Message
	err := sqlscan.Get(ctx, s.db, &created, `
		INSERT INTO messages AS m (id, thread_id, author_id, content, image_url, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+messageColumns,
		msg.ID, msg.ThreadID, msg.AuthorID, msg.Content, msg.ImageURL, msg.ParentID, msg.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return created, nil
}

// GetMessage returns the message with its thread's title and forum type.
// Messages whose thread is gone are reported as not found.
func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (AuthoredMessage, error) {
	var msg AuthoredMessage
	err := sqlscan.Get(ctx, s.db, &msg, `
		SELECT `+messageColumns+`, t.title AS thread_title, t.forum_type
		FROM messages m
		JOIN threads t ON t.id = m.thread_id
		WHERE m.id=$1
	`, messageID)
	if err != nil {
		return AuthoredMessage{}, notFound(err, "get message")
	}
	return msg, nil
}

// ThreadMessages returns the flat message set of a thread, oldest first.
func (s *PostgresStore) ThreadMessages(ctx context.Context, threadID string) ([]MessageView, error) {
	views := []MessageView{}
	err := sqlscan.Select(ctx, s.db, &views, `
		SELECT `+messageColumns+`,
			COALESCE(u.display_name, 'Unknown') AS author_name,
			u.profile_pic_path AS author_profile_pic
		FROM messages m
		LEFT JOIN users u ON u.id = m.author_id
		WHERE m.thread_id=$1
		ORDER BY m.created_at ASC, m.id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread messages: %w", err)
	}
	return views, nil
}

// ToggleReaction applies a like or dislike toggle for userID in a single
// statement. The opposite set always loses userID; the requested set gains it
// unless it was already there. Counts are generated columns.
func (s *PostgresStore) ToggleReaction(ctx context.Context, messageID, userID string, action ReactionAction) (MessageView, error) {
	var view MessageView
	err := sqlscan.Get(ctx, s.db, &view, `
		WITH m AS (
			UPDATE messages SET
				likes = CASE
					WHEN $3::text = 'like' AND NOT ($2::uuid = ANY(likes)) THEN array_append(likes, $2::uuid)
					ELSE array_remove(likes, $2::uuid)
				END,
				dislikes = CASE
					WHEN $3::text = 'dislike' AND NOT ($2::uuid = ANY(dislikes)) THEN array_append(dislikes, $2::uuid)
					ELSE array_remove(dislikes, $2::uuid)
				END
			WHERE id=$1
			RETURNING *
		)
		SELECT `+messageColumns+`,
			COALESCE(u.display_name, 'Unknown') AS author_name,
			u.profile_pic_path AS author_profile_pic
		FROM m
		LEFT JOIN users u ON u.id = m.author_id
	`, messageID, userID, string(action))
	if err != nil {
		return MessageView{}, notFound(err, "toggle reaction")
	}
	return view, nil
}

// DeleteMessage removes one message. Replies keep their parent_id.
func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MessagesByAuthor lists an author's messages newest first. Closed-forum
// messages are included only when includeClosed is set.
func (s *PostgresStore) MessagesByAuthor(ctx context.Context, authorID string, includeClosed bool) ([]AuthoredMessage, error) {
	msgs := []AuthoredMessage{}
	err := sqlscan.Select(ctx, s.db, &msgs, `
		SELECT `+messageColumns+`, t.title AS thread_title, t.forum_type
		FROM messages m
		JOIN threads t ON t.id = m.thread_id
		WHERE m.author_id=$1 AND ($2 OR t.forum_type <> 'closed')
		ORDER BY m.created_at DESC
	`, authorID, includeClosed)
	if err != nil {
		return nil, fmt.Errorf("list messages by author: %w", err)
	}
	return msgs, nil
}
