// Package pipeline runs the per-document indexing workflow:
// download → chunk → embed → build → merge with the persisted index → persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/artifact"
	"github.com/hyperjump/kotae/internal/blobstore"
	"github.com/hyperjump/kotae/internal/docstore"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pdf"
	"github.com/hyperjump/kotae/internal/provider"
	"github.com/hyperjump/kotae/internal/splitter"
	"github.com/hyperjump/kotae/internal/vecindex"
)

// PageLoader turns raw document bytes into pages. The default parses PDF;
// tests inject their own.
type PageLoader func(content []byte, docID string) ([]models.Page, error)

// Pipeline indexes one document per Run. Runs against the same artifact must
// not execute concurrently; use Queue to serialize them.
type Pipeline struct {
	blobs     blobstore.Store
	artifacts *artifact.Manager
	embedder  provider.Embedder
	splitter  *splitter.Splitter
	docs      *docstore.Store // optional; when set, run status is recorded
	loadPages PageLoader
	logger    *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDocstore records per-step run status in the document registry.
func WithDocstore(docs *docstore.Store) Option {
	return func(p *Pipeline) { p.docs = docs }
}

// WithPageLoader replaces the PDF page loader.
func WithPageLoader(loader PageLoader) Option {
	return func(p *Pipeline) { p.loadPages = loader }
}

// New creates a pipeline with the given dependencies.
func New(blobs blobstore.Store, artifacts *artifact.Manager, embedder provider.Embedder, split *splitter.Splitter, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		blobs:     blobs,
		artifacts: artifacts,
		embedder:  embedder,
		splitter:  split,
		loadPages: pdf.Load,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one indexing run. On any failure the run ends in StateFailed
// and the previously persisted artifact is left untouched. The returned
// RunResult reports this run's vector count and the artifact total after
// the merge.
func (p *Pipeline) Run(ctx context.Context, job models.IndexJob) (models.RunResult, error) {
	fail := func(state models.RunState, err error) (models.RunResult, error) {
		wrapped := fmt.Errorf("%s: %w", state, err)
		p.logger.Error("indexing run failed",
			zap.String("document_id", job.DocumentID),
			zap.String("step", string(state)),
			zap.Error(err))
		p.recordResult(ctx, job.DocumentID, models.StateFailed, 0, wrapped.Error())
		return models.RunResult{State: models.StateFailed}, wrapped
	}

	p.setState(ctx, job.DocumentID, models.StateDownloading)
	content, err := p.blobs.Get(ctx, job.BlobKey)
	if err != nil {
		return fail(models.StateDownloading, err)
	}
	pages, err := p.loadPages(content, job.DocumentID)
	if err != nil {
		return fail(models.StateDownloading, err)
	}
	p.logger.Info("document loaded",
		zap.String("document_id", job.DocumentID),
		zap.Int("pages", len(pages)))

	p.setState(ctx, job.DocumentID, models.StateChunking)
	chunks := p.splitter.SplitPages(pages)
	if len(chunks) == 0 {
		return fail(models.StateChunking, fmt.Errorf("document produced no chunks"))
	}
	p.logger.Info("document chunked",
		zap.String("document_id", job.DocumentID),
		zap.Int("chunks", len(chunks)))

	p.setState(ctx, job.DocumentID, models.StateEmbedding)
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fail(models.StateEmbedding, err)
	}

	p.setState(ctx, job.DocumentID, models.StateIndexBuilding)
	built, err := vecindex.Build(chunks, vectors)
	if err != nil {
		return fail(models.StateIndexBuilding, err)
	}

	p.setState(ctx, job.DocumentID, models.StateMerging)
	merged, version, err := p.mergeWithExisting(ctx, built)
	if err != nil {
		return fail(models.StateMerging, err)
	}

	p.setState(ctx, job.DocumentID, models.StatePersisting)
	if err := p.artifacts.Save(ctx, merged, version+1); err != nil {
		return fail(models.StatePersisting, err)
	}

	result := models.RunResult{
		State:        models.StateDone,
		VectorsTotal: built.Size(),
		IndexTotal:   merged.Size(),
	}
	p.recordResult(ctx, job.DocumentID, models.StateDone, result.VectorsTotal, "")
	p.logger.Info("document indexed",
		zap.String("document_id", job.DocumentID),
		zap.Int("vectors_total", result.VectorsTotal),
		zap.Int("index_total", result.IndexTotal),
		zap.Uint64("version", version+1))
	return result, nil
}

// mergeWithExisting loads the persisted artifact and merges it with the
// newly built index. An absent artifact means this is the first run; a
// corrupt artifact is recovered by starting fresh, logged loudly since the
// prior corpus is abandoned. Storage failures abort the run.
func (p *Pipeline) mergeWithExisting(ctx context.Context, built *vecindex.Index) (*vecindex.Index, uint64, error) {
	existing, version, err := p.artifacts.Load(ctx)
	if err != nil {
		var corrupt *vecindex.CorruptError
		switch {
		case errors.Is(err, blobstore.ErrNotFound):
			p.logger.Warn("no existing index artifact, starting fresh")
			return built, 0, nil
		case errors.As(err, &corrupt):
			p.logger.Warn("existing index artifact is corrupt, starting fresh; prior corpus is lost",
				zap.String("reason", corrupt.Reason))
			return built, 0, nil
		default:
			return nil, 0, err
		}
	}
	merged, err := existing.Merge(built)
	if err != nil {
		return nil, 0, err
	}
	p.logger.Info("merged with existing index",
		zap.Int("existing", existing.Size()),
		zap.Int("added", built.Size()),
		zap.Int("total", merged.Size()))
	return merged, version, nil
}

func (p *Pipeline) setState(ctx context.Context, docID string, state models.RunState) {
	p.logger.Debug("indexing step", zap.String("document_id", docID), zap.String("state", string(state)))
	if p.docs == nil {
		return
	}
	if err := p.docs.SetStatus(ctx, docID, state); err != nil {
		p.logger.Warn("failed to record run status", zap.String("document_id", docID), zap.Error(err))
	}
}

func (p *Pipeline) recordResult(ctx context.Context, docID string, state models.RunState, vectorsTotal int, errMsg string) {
	if p.docs == nil {
		return
	}
	if err := p.docs.SetResult(ctx, docID, state, vectorsTotal, errMsg); err != nil {
		p.logger.Warn("failed to record run result", zap.String("document_id", docID), zap.Error(err))
	}
}
