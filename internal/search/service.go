package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG
// FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS. Both
// backends filter by viewer already; the facade filters once more so a stale
// index can never surface a private scrap.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: sanitizeResults(nonNil(results), q.ViewerID), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: sanitizeResults(nonNil(results), q.ViewerID), Total: total, Query: q.Text}
}

// IndexScrap pushes a scrap into Meilisearch, fire-and-forget.
func (s *Service) IndexScrap(rec ScrapRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexScrap(rec); err != nil {
			log.Printf("search: index scrap %s: %v", rec.ID, err)
		}
	}()
}

// DeleteScrap removes a scrap from the index, fire-and-forget.
func (s *Service) DeleteScrap(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteScrap(id); err != nil {
			log.Printf("search: delete scrap %s: %v", id, err)
		}
	}()
}

// ResetIndex clears the index and repopulates it from the given records,
// used after a mirror import replaces the board.
func (s *Service) ResetIndex(recs []ScrapRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteAllScraps(); err != nil {
			log.Printf("search: clear index: %v", err)
			return
		}
		if err := s.meili.IndexScraps(recs); err != nil {
			log.Printf("search: rebuild index: %v", err)
		}
	}()
}

// ReindexAllFromPG reloads every scrap from PostgreSQL into Meilisearch.
// Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.meili.IndexScraps(records); err != nil {
		log.Printf("search: reindex scraps: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

func sanitizeResults(results []Result, viewerID string) []Result {
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if !r.Visible && (viewerID == "" || r.UserID != viewerID) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}
