package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"agora/api/internal/logging"
)

const idxMessages = "agora_messages"

// candidateLimit bounds the ids requested from Meilisearch before Postgres
// re-applies the visibility rules.
const candidateLimit = 4 * MaxResults

// Meili delegates keyword matching to Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the message index.
// An unreachable server is not an error; the health loop keeps probing.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logging.Warn().Err(err).Str("url", url).Msg("search: meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxMessages,
		PrimaryKey: "id",
	}); err != nil {
		logging.Debug().Err(err).Msg("search: create index (may already exist)")
	}

	index := m.client.Index(idxMessages)
	filterable := []interface{}{"forumType", "authorId", "createdAt", "threadId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		logging.Warn().Err(err).Msg("search: update filterable attributes")
	}
	sortable := []string{"createdAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		logging.Warn().Err(err).Msg("search: update sortable attributes")
	}
	searchable := []string{"content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		logging.Warn().Err(err).Msg("search: update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				logging.Info().Msg("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Candidates returns ids of messages matching c, newest first.
func (m *Meili) Candidates(c Criteria) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.Index(idxMessages).Search(strings.Join(c.Words, " "), &meili.SearchRequest{
		Filter:               meiliFilters(c),
		Sort:                 []string{"createdAt:desc"},
		Limit:                candidateLimit,
		AttributesToRetrieve: []string{"id"},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	ids := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if id := decodeString(hit, "id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// meiliFilters expresses the non-keyword rules of c. The returned slice is
// ANDed by Meilisearch.
func meiliFilters(c Criteria) []string {
	var filters []string
	if !c.IncludeClosed {
		filters = append(filters, `forumType != "closed"`)
	}
	if len(c.AuthorIDs) > 0 {
		quoted := make([]string, 0, len(c.AuthorIDs))
		for _, id := range c.AuthorIDs {
			quoted = append(quoted, fmt.Sprintf("%q", id))
		}
		filters = append(filters, "authorId IN ["+strings.Join(quoted, ", ")+"]")
	}
	if c.From != nil {
		filters = append(filters, fmt.Sprintf("createdAt >= %d", c.From.Unix()))
	}
	if c.Until != nil {
		filters = append(filters, fmt.Sprintf("createdAt < %d", c.Until.Unix()))
	}
	return filters
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexMessage adds or updates a message in the search index.
func (m *Meili) IndexMessage(rec MessageRecord) error {
	_, err := m.client.Index(idxMessages).AddDocuments([]MessageRecord{rec}, nil)
	return err
}

// DeleteMessage removes a message from the search index.
func (m *Meili) DeleteMessage(id string) error {
	_, err := m.client.Index(idxMessages).DeleteDocument(id, nil)
	return err
}

// IndexMessages bulk-indexes messages.
func (m *Meili) IndexMessages(records []MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMessages).AddDocuments(records, nil)
	return err
}
