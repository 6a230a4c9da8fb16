package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxScraps = "corkboard_scraps"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the scrap index. A
// failed initial connection is tolerated; the health loop keeps probing.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
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
		Uid:        idxScraps,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxScraps, err)
	}

	index := m.client.Index(idxScraps)
	filterable := []interface{}{"userId", "visible"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxScraps, err)
	}
	searchable := []string{"code", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxScraps, err)
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
				log.Println("search: meilisearch recovered, reconfiguring index")
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

// Search queries the scrap index. Visibility is enforced in the filter so
// private scraps of other users never leave Meilisearch.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}

	var filters []string
	switch {
	case q.OwnedOnly && q.ViewerID != "":
		filters = append(filters, fmt.Sprintf("userId = %q", q.ViewerID))
	case q.ViewerID != "":
		filters = append(filters, fmt.Sprintf("(visible = true OR userId = %q)", q.ViewerID))
	default:
		filters = append(filters, "visible = true")
	}
	sr.Filter = filters

	resp, err := m.client.Index(idxScraps).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:     decodeString(hit, "id"),
		UserID: decodeString(hit, "userId"),
	}
	r.Code = firstNonBlank(decodeFormattedString(hit, "code"), decodeString(hit, "code"))
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))

	if raw, ok := hit["visible"]; ok {
		_ = json.Unmarshal(raw, &r.Visible)
	}
	return r
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

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexScrap adds or updates a scrap in the search index.
func (m *Meili) IndexScrap(rec ScrapRecord) error {
	_, err := m.client.Index(idxScraps).AddDocuments([]ScrapRecord{rec}, nil)
	return err
}

// IndexScraps bulk-indexes scraps.
func (m *Meili) IndexScraps(recs []ScrapRecord) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := m.client.Index(idxScraps).AddDocuments(recs, nil)
	return err
}

// DeleteScrap removes a scrap from the search index.
func (m *Meili) DeleteScrap(id string) error {
	_, err := m.client.Index(idxScraps).DeleteDocument(id, nil)
	return err
}

// DeleteAllScraps clears the scrap index, mirroring a destructive board
// import.
func (m *Meili) DeleteAllScraps() error {
	_, err := m.client.Index(idxScraps).DeleteAllDocuments(nil)
	return err
}
