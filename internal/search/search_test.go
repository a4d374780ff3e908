package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueryDates(t *testing.T) {
	c, err := ParseQuery(Query{Text: "  budget   report ", StartDate: "2024-01-10", EndDate: "2024-01-12"})
	require.NoError(t, err)
	assert.Equal(t, []string{"budget", "report"}, c.Words)
	require.NotNil(t, c.From)
	require.NotNil(t, c.Until)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), *c.From)
	assert.Equal(t, time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC), *c.Until, "end date is inclusive through the whole day")
	assert.False(t, c.IncludeClosed)
}

func TestParseQueryRejectsInvalidDates(t *testing.T) {
	for _, q := range []Query{
		{StartDate: "yesterday"},
		{EndDate: "2024-13-01"},
		{StartDate: "2024-02-30"},
	} {
		_, err := ParseQuery(q)
		assert.ErrorIs(t, err, ErrInvalidDate, "%+v", q)
	}
}

func TestParseQueryAdminSeesClosed(t *testing.T) {
	c, err := ParseQuery(Query{IsAdmin: true})
	require.NoError(t, err)
	assert.True(t, c.IncludeClosed)
	assert.Empty(t, c.Words)
	assert.Nil(t, c.From)
}

func TestMatchesWords(t *testing.T) {
	c := Criteria{Words: []string{"Budget", "q3"}}
	assert.True(t, c.MatchesWords("The Q3 budget is final"))
	assert.True(t, c.MatchesWords("overbudgeting in q35"), "substring match")
	assert.False(t, c.MatchesWords("budget only"))
	assert.True(t, Criteria{}.MatchesWords("anything"))
}

func TestBuildWhere(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, 1)
	where, args := buildWhere(Criteria{
		Words:     []string{"50%", "a_b"},
		AuthorIDs: []string{"u1", "u2"},
		From:      &from,
		Until:     &until,
	}, nil, true)

	joined := strings.Join(where, " AND ")
	assert.Contains(t, joined, "m.content ILIKE $1")
	assert.Contains(t, joined, "m.content ILIKE $2")
	assert.Contains(t, joined, "m.author_id = ANY($3::uuid[])")
	assert.Contains(t, joined, "m.created_at >= $4")
	assert.Contains(t, joined, "m.created_at < $5")
	assert.Contains(t, joined, "t.forum_type <> 'closed'")
	require.Len(t, args, 5)
	assert.Equal(t, `%50\%%`, args[0])
	assert.Equal(t, `%a\_b%`, args[1])
}

func TestBuildWhereHydrateSkipsWords(t *testing.T) {
	where, args := buildWhere(Criteria{Words: []string{"x"}, IncludeClosed: true}, []string{"m1"}, false)
	assert.Equal(t, []string{"m.id = ANY($1::uuid[])"}, where)
	assert.Len(t, args, 1)
}

func TestMeiliFilters(t *testing.T) {
	from := time.Unix(1700000000, 0).UTC()
	filters := meiliFilters(Criteria{AuthorIDs: []string{"a", "b"}, From: &from})
	assert.Equal(t, []string{
		`forumType != "closed"`,
		`authorId IN ["a", "b"]`,
		"createdAt >= 1700000000",
	}, filters)
	assert.Empty(t, meiliFilters(Criteria{IncludeClosed: true}))
}

type fakeBackend struct {
	searchFn  func(c Criteria) ([]Result, error)
	calls     int
	lastQuery Criteria
}

func (f *fakeBackend) Search(_ context.Context, c Criteria) ([]Result, error) {
	f.calls++
	f.lastQuery = c
	if f.searchFn != nil {
		return f.searchFn(c)
	}
	return nil, nil
}

func (f *fakeBackend) Hydrate(context.Context, Criteria, []string) ([]Result, error) {
	return nil, nil
}

func (f *fakeBackend) LoadAllRecords(context.Context) ([]MessageRecord, error) {
	return nil, nil
}

type fakeAuthors map[string][]string

func (f fakeAuthors) FindUserIDsByDisplayName(_ context.Context, name string) ([]string, error) {
	return f[strings.ToLower(name)], nil
}

func TestServiceUnknownAuthorShortCircuits(t *testing.T) {
	backend := &fakeBackend{}
	svc := NewService(nil, backend, fakeAuthors{})

	results, err := svc.Search(context.Background(), Query{Text: "budget", Author: "Nobody"})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Zero(t, backend.calls, "must not fall through to an unfiltered search")
}

func TestServiceResolvesAuthor(t *testing.T) {
	backend := &fakeBackend{}
	svc := NewService(nil, backend, fakeAuthors{"alice": {"u1", "u9"}})

	_, err := svc.Search(context.Background(), Query{Author: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u9"}, backend.lastQuery.AuthorIDs)
}

func TestServiceFailsOpen(t *testing.T) {
	backend := &fakeBackend{searchFn: func(Criteria) ([]Result, error) {
		return nil, errors.New("connection reset")
	}}
	svc := NewService(nil, backend, fakeAuthors{})

	results, err := svc.Search(context.Background(), Query{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, []Result{}, results)
}

func TestServiceInvalidDateIsAnError(t *testing.T) {
	svc := NewService(nil, &fakeBackend{}, fakeAuthors{})
	_, err := svc.Search(context.Background(), Query{StartDate: "01/02/2024"})
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestServiceFuzzyWithoutMeiliUsesPostgres(t *testing.T) {
	backend := &fakeBackend{}
	svc := NewService(nil, backend, fakeAuthors{})
	_, err := svc.Search(context.Background(), Query{Text: "budgte", Fuzzy: true})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls)
}
