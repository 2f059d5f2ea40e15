package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPhrase indexes a phrase (fire-and-forget to Meilisearch).
func (s *Service) IndexPhrase(record PhraseRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPhrase(record); err != nil {
			log.Printf("search: index phrase %s: %v", record.ID, err)
		}
	}()
}

// IndexIssue indexes an issue (fire-and-forget to Meilisearch).
func (s *Service) IndexIssue(record IssueRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexIssue(record); err != nil {
			log.Printf("search: index issue %s: %v", record.ID, err)
		}
	}()
}

// DeletePhrase removes a phrase from the search index (fire-and-forget).
func (s *Service) DeletePhrase(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeletePhrase(id); err != nil {
			log.Printf("search: delete phrase %s: %v", id, err)
		}
	}()
}

// DeleteIssue removes an issue from the search index (fire-and-forget).
func (s *Service) DeleteIssue(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteIssue(id); err != nil {
			log.Printf("search: delete issue %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reads every phrase and issue from PostgreSQL and
// pushes them to Meilisearch. Called during bootstrap so the index
// catches up with rows written while Meilisearch was down.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	phrases, issues, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexPhrases(phrases); err != nil {
		log.Printf("search: reindex phrases: %v", err)
	}
	if err := s.meili.IndexIssues(issues); err != nil {
		log.Printf("search: reindex issues: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
