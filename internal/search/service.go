package search

import (
	"context"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back
// to PG FTS.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if
// Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, pgfts: pgfts, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMessage pushes one message into Meilisearch, fire-and-forget.
// Sends never block or fail on indexing problems.
func (s *Service) IndexMessage(record MessageRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMessage(record); err != nil {
			s.logger.Warn("index message", zap.String("message_id", record.ID), zap.Error(err))
		}
	}()
}

// DeleteMessage removes a deleted message from the index,
// fire-and-forget.
func (s *Service) DeleteMessage(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteMessage(id); err != nil {
			s.logger.Warn("delete message from index", zap.String("message_id", id), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG reads every live message from Postgres and pushes
// the batch into Meilisearch. Called during bootstrap so the index
// catches up on anything sent while Meilisearch was down.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllMessages(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.meili.IndexMessages(records); err != nil {
		s.logger.Warn("reindex messages", zap.Error(err))
		return
	}
	s.logger.Info("reindexed messages", zap.Int("count", len(records)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
