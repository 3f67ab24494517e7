package memory

import (
	"context"

	"github.com/taskweave/recall/internal/models"
	"github.com/taskweave/recall/internal/search"
)

// maxBackfillScan caps how many embedding-less memories one backfill run
// will consider.
const maxBackfillScan = 1000

// CleanupExpired hard-deletes memories whose expiry has passed. The
// full-text index follows via the delete triggers.
func (s *Service) CleanupExpired() (int64, error) {
	n, err := s.memories.DeleteExpired()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired memories removed", "count", n)
	}
	return n, nil
}

// RebuildIndex rebuilds the full-text index from the memories table. Used
// after bulk imports or suspected index corruption.
func (s *Service) RebuildIndex() error {
	if err := s.db.RebuildIndex(); err != nil {
		return err
	}
	s.logger.Info("full-text index rebuilt")
	return nil
}

// BackfillEmbeddings embeds active memories that lack a vector, in batches.
// A failed batch is counted and skipped; it never aborts the run, so one bad
// batch doesn't starve the rest.
func (s *Service) BackfillEmbeddings(ctx context.Context, batchSize int) (*models.BackfillResult, error) {
	if batchSize <= 0 {
		batchSize = 32
	}

	pending, err := s.memories.ActiveWithoutEmbedding(maxBackfillScan)
	if err != nil {
		return nil, err
	}

	result := &models.BackfillResult{Scanned: len(pending)}
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, m := range batch {
			texts[i] = m.Content
		}

		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			s.logger.Warn("backfill batch failed", "size", len(batch), "error", err)
			result.FailedBatches++
			continue
		}

		for i, m := range batch {
			if err := s.memories.SetEmbedding(m.ID, search.Float32ToBytes(vecs[i]), len(vecs[i])); err != nil {
				return nil, err
			}
			result.Embedded++
		}
	}

	s.logger.Info("embedding backfill done",
		"scanned", result.Scanned, "embedded", result.Embedded,
		"failedBatches", result.FailedBatches)
	return result, nil
}
