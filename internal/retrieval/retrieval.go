// Package retrieval turns a question into ranked context passages by
// searching the persisted vector index. The decoded index is cached in
// memory and revalidated against the artifact's version counter on every
// call, so a freshly indexed document becomes visible without a restart.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/artifact"
	"github.com/hyperjump/kotae/internal/blobstore"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/provider"
	"github.com/hyperjump/kotae/internal/vecindex"
)

// Retriever searches the persisted index for passages relevant to a question.
type Retriever struct {
	artifacts *artifact.Manager
	embedder  provider.Embedder
	mode      vecindex.Mode
	k         int
	fetchK    int
	logger    *zap.Logger

	mu            sync.Mutex
	cached        *vecindex.Index
	cachedVersion uint64
}

// New builds a retriever from the configured search parameters.
func New(artifacts *artifact.Manager, embedder provider.Embedder, search config.SearchConfig, logger *zap.Logger) *Retriever {
	mode := vecindex.ModeDiversity
	if search.Mode == "similarity" {
		mode = vecindex.ModeSimilarity
	}
	return &Retriever{
		artifacts: artifacts,
		embedder:  embedder,
		mode:      mode,
		k:         search.K,
		fetchK:    search.FetchK,
		logger:    logger,
	}
}

// Retrieve embeds the question and returns up to k context items ordered by
// rank. k <= 0 falls back to the configured default. Returns
// vecindex.ErrEmptyIndex when no documents have been indexed yet.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]models.ContextItem, error) {
	if k <= 0 {
		k = r.k
	}
	idx, err := r.index(ctx)
	if err != nil {
		return nil, err
	}
	query, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	results, err := idx.Search(query, k, r.mode, r.fetchK)
	if err != nil {
		return nil, err
	}
	items := make([]models.ContextItem, len(results))
	for i, res := range results {
		items[i] = models.ContextItem{
			Content:    res.Text,
			DocumentID: res.Meta.DocumentID,
			Page:       res.Meta.Page,
			Rank:       i + 1,
			Score:      res.Score,
		}
	}
	return items, nil
}

// Invalidate drops the cached index. The next Retrieve reloads from the
// artifact regardless of the version counter.
func (r *Retriever) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
	r.cachedVersion = 0
}

// index returns the cached index when its version still matches the
// persisted artifact, reloading otherwise.
func (r *Retriever) index(ctx context.Context) (*vecindex.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.artifacts.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("check artifact version: %w", err)
	}
	if r.cached != nil && r.cachedVersion == current {
		return r.cached, nil
	}

	// The artifact's two parts are replaced by separate atomic puts, so a
	// load overlapping a save can read a mismatched pair. One retry sees the
	// finished pair; a genuinely corrupt artifact fails the same way twice.
	idx, version, err := r.artifacts.Load(ctx)
	var corrupt *vecindex.CorruptError
	if errors.As(err, &corrupt) {
		r.logger.Warn("index artifact read mid-save, retrying", zap.Error(err))
		idx, version, err = r.artifacts.Load(ctx)
	}
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, vecindex.ErrEmptyIndex
		}
		return nil, fmt.Errorf("load index artifact: %w", err)
	}
	r.logger.Info("index cache refreshed",
		zap.Uint64("version", version),
		zap.Int("vectors", idx.Size()))
	r.cached = idx
	r.cachedVersion = version
	return idx, nil
}
