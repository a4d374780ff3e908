package search

import (
	"context"
	"strings"

	"agora/api/internal/logging"
)

// AuthorResolver maps a display name to the ids of users carrying it.
type AuthorResolver interface {
	FindUserIDsByDisplayName(ctx context.Context, displayName string) ([]string, error)
}

// Backend runs a parsed search. PgSearch is the production implementation.
type Backend interface {
	Search(ctx context.Context, c Criteria) ([]Result, error)
	Hydrate(ctx context.Context, c Criteria, ids []string) ([]Result, error)
	LoadAllRecords(ctx context.Context) ([]MessageRecord, error)
}

// Service is the facade over the Postgres pipeline and the optional
// Meilisearch fuzzy mode.
type Service struct {
	meili   *Meili
	pg      Backend
	authors AuthorResolver
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg Backend, authors AuthorResolver) *Service {
	return &Service{meili: meili, pg: pg, authors: authors}
}

// Search validates q and runs it. Only invalid dates are reported as errors;
// every backend failure yields an empty result.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	c, err := ParseQuery(q)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(q.Author); name != "" {
		ids, err := s.authors.FindUserIDsByDisplayName(ctx, name)
		if err != nil {
			logging.Error().Err(err).Msg("search: resolve author")
			return []Result{}, nil
		}
		if len(ids) == 0 {
			return []Result{}, nil
		}
		c.AuthorIDs = ids
	}

	if q.Fuzzy && len(c.Words) > 0 && s.meiliReady() {
		results, err := s.fuzzy(ctx, c)
		if err == nil {
			return results, nil
		}
		logging.Warn().Err(err).Msg("search: meilisearch error, falling back to postgres")
	}

	results, err := s.pg.Search(ctx, c)
	if err != nil {
		logging.Error().Err(err).Msg("search: postgres error")
		return []Result{}, nil
	}
	return nonNil(results), nil
}

func (s *Service) fuzzy(ctx context.Context, c Criteria) ([]Result, error) {
	ids, err := s.meili.Candidates(c)
	if err != nil {
		return nil, err
	}
	results, err := s.pg.Hydrate(ctx, c, ids)
	if err != nil {
		return nil, err
	}
	return nonNil(results), nil
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// IndexMessage indexes a message (fire-and-forget to Meilisearch).
func (s *Service) IndexMessage(rec MessageRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexMessage(rec); err != nil {
			logging.Warn().Err(err).Str("message_id", rec.ID).Msg("search: index message")
		}
	}()
}

// DeleteMessage removes a message from the search index (fire-and-forget).
func (s *Service) DeleteMessage(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteMessage(id); err != nil {
			logging.Warn().Err(err).Str("message_id", id).Msg("search: delete message")
		}
	}()
}

// ReindexAllFromPG pushes every stored message into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.meiliReady() {
		return
	}
	records, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("search: reindex load failed")
		return
	}
	if err := s.meili.IndexMessages(records); err != nil {
		logging.Error().Err(err).Msg("search: reindex messages")
		return
	}
	logging.Info().Int("messages", len(records)).Msg("search: reindexed")
}

// Close stops the Meilisearch health monitor, if any.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
