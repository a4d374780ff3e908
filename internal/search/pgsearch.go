package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/georgysavva/scany/v2/sqlscan"

	"agora/api/internal/store"
)

// PgSearch runs the exact keyword pipeline on PostgreSQL.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Search returns messages matching c, newest first, at most MaxResults.
func (p *PgSearch) Search(ctx context.Context, c Criteria) ([]Result, error) {
	return p.run(ctx, c, nil, true)
}

// Hydrate loads the given message ids, applying every rule of c except the
// keyword match.
func (p *PgSearch) Hydrate(ctx context.Context, c Criteria, ids []string) ([]Result, error) {
	if len(ids) == 0 {
		return []Result{}, nil
	}
	return p.run(ctx, c, ids, false)
}

func (p *PgSearch) run(ctx context.Context, c Criteria, ids []string, matchWords bool) ([]Result, error) {
	where, args := buildWhere(c, ids, matchWords)
	query := `
		SELECT m.id, m.thread_id, t.title AS thread_title, t.forum_type, m.author_id,
			COALESCE(u.display_name, 'Unknown') AS author_name,
			u.profile_pic_path AS author_profile_pic,
			m.content, m.image_url, m.parent_id, m.created_at, m.like_count, m.dislike_count
		FROM messages m
		JOIN threads t ON t.id = m.thread_id
		LEFT JOIN users u ON u.id = m.author_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf("\n\t\tORDER BY m.created_at DESC, m.id DESC\n\t\tLIMIT %d", MaxResults)

	results := []Result{}
	if err := sqlscan.Select(ctx, p.db, &results, query, args...); err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return results, nil
}

func buildWhere(c Criteria, ids []string, matchWords bool) ([]string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if ids != nil {
		where = append(where, "m.id = ANY("+arg(store.IDSet(ids))+"::uuid[])")
	}
	if matchWords {
		for _, w := range c.Words {
			where = append(where, "m.content ILIKE "+arg("%"+escapeLike(w)+"%")+` ESCAPE '\'`)
		}
	}
	if len(c.AuthorIDs) > 0 {
		where = append(where, "m.author_id = ANY("+arg(store.IDSet(c.AuthorIDs))+"::uuid[])")
	}
	if c.From != nil {
		where = append(where, "m.created_at >= "+arg(*c.From))
	}
	if c.Until != nil {
		where = append(where, "m.created_at < "+arg(*c.Until))
	}
	if !c.IncludeClosed {
		where = append(where, "t.forum_type <> 'closed'")
	}
	return where, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// LoadAllRecords reads every message whose thread still exists, for reindexing.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]MessageRecord, error) {
	records := []MessageRecord{}
	err := sqlscan.Select(ctx, p.db, &records, `
		SELECT m.id, m.thread_id, m.author_id, t.forum_type, m.content,
			EXTRACT(EPOCH FROM m.created_at)::bigint AS created_at
		FROM messages m
		JOIN threads t ON t.id = m.thread_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load search records: %w", err)
	}
	return records, nil
}
