package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/artifact"
	"github.com/hyperjump/kotae/internal/blobstore"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/provider"
	"github.com/hyperjump/kotae/internal/splitter"
)

// textPages parses plain text into one page per line, standing in for the
// PDF loader.
func textPages(content []byte, docID string) ([]models.Page, error) {
	lines := strings.Split(string(content), "\n")
	pages := make([]models.Page, 0, len(lines))
	for i, line := range lines {
		pages = append(pages, models.Page{DocumentID: docID, Number: i + 1, Text: line})
	}
	return pages, nil
}

type testEnv struct {
	blobs     *blobstore.MemStore
	artifacts *artifact.Manager
	pipeline  *Pipeline
}

func newEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	blobs := blobstore.NewMemStore()
	artifacts := artifact.NewManager(blobs, "indexes/")
	split, err := splitter.New(50, 10)
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithPageLoader(textPages)}, opts...)
	p := New(blobs, artifacts, provider.NewMockEmbedder(8), split, zap.NewNop(), opts...)
	return &testEnv{blobs: blobs, artifacts: artifacts, pipeline: p}
}

func putDoc(t *testing.T, env *testEnv, key, content string) {
	t.Helper()
	if err := env.blobs.Put(context.Background(), key, []byte(content)); err != nil {
		t.Fatal(err)
	}
}

func TestRun_FirstDocument(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	putDoc(t, env, "documents/doc1.pdf", "leave policy page one\nannual leave is twenty days\ncarry over is capped")

	result, err := env.pipeline.Run(ctx, models.IndexJob{DocumentID: "doc1", BlobKey: "documents/doc1.pdf"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != models.StateDone {
		t.Errorf("state: %s", result.State)
	}
	if result.VectorsTotal == 0 {
		t.Error("expected vectors")
	}
	split, _ := splitter.New(50, 10)
	pages, _ := textPages([]byte("leave policy page one\nannual leave is twenty days\ncarry over is capped"), "doc1")
	if want := len(split.SplitPages(pages)); result.VectorsTotal != want {
		t.Errorf("vectors_total %d, want chunk count %d", result.VectorsTotal, want)
	}

	idx, version, err := env.artifacts.Load(ctx)
	if err != nil {
		t.Fatalf("artifact load: %v", err)
	}
	if idx.Size() != result.VectorsTotal {
		t.Errorf("artifact size %d, want %d", idx.Size(), result.VectorsTotal)
	}
	if version != 1 {
		t.Errorf("version: %d", version)
	}
}

func TestRun_SequentialMergeAccumulates(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	putDoc(t, env, "documents/a.pdf", "first document first page\nfirst document second page")
	putDoc(t, env, "documents/b.pdf", "second document only page")

	ra, err := env.pipeline.Run(ctx, models.IndexJob{DocumentID: "a", BlobKey: "documents/a.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	rb, err := env.pipeline.Run(ctx, models.IndexJob{DocumentID: "b", BlobKey: "documents/b.pdf"})
	if err != nil {
		t.Fatal(err)
	}

	idx, version, err := env.artifacts.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := ra.VectorsTotal + rb.VectorsTotal; idx.Size() != want {
		t.Errorf("artifact size %d, want %d", idx.Size(), want)
	}
	if rb.IndexTotal != ra.VectorsTotal+rb.VectorsTotal {
		t.Errorf("second run index_total %d", rb.IndexTotal)
	}
	if version != 2 {
		t.Errorf("version: %d", version)
	}
}

func TestRun_ReindexingDuplicates(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	putDoc(t, env, "documents/a.pdf", "same document")

	r1, _ := env.pipeline.Run(ctx, models.IndexJob{DocumentID: "a", BlobKey: "documents/a.pdf"})
	_, err := env.pipeline.Run(ctx, models.IndexJob{DocumentID: "a", BlobKey: "documents/a.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	idx, _, _ := env.artifacts.Load(ctx)
	if idx.Size() != 2*r1.VectorsTotal {
		t.Errorf("re-indexing should duplicate entries: size %d", idx.Size())
	}
}

func TestRun_MissingDocumentFails(t *testing.T) {
	env := newEnv(t)
	result, err := env.pipeline.Run(context.Background(), models.IndexJob{DocumentID: "x", BlobKey: "documents/x.pdf"})
	if err == nil {
		t.Fatal("expected error")
	}
	if result.State != models.StateFailed {
		t.Errorf("state: %s", result.State)
	}
}

func TestRun_EmptyDocumentFails(t *testing.T) {
	env := newEnv(t)
	putDoc(t, env, "documents/e.pdf", "   \n  \n ")
	_, err := env.pipeline.Run(context.Background(), models.IndexJob{DocumentID: "e", BlobKey: "documents/e.pdf"})
	if err == nil {
		t.Fatal("expected error for document with no text")
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, &provider.Error{Op: "embeddings", Err: fmt.Errorf("boom")}
}
func (f failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, &provider.Error{Op: "embeddings", Err: fmt.Errorf("boom")}
}
func (failingEmbedder) Dimensions() int { return 8 }

func TestRun_FailureLeavesPriorArtifactIntact(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	putDoc(t, env, "documents/a.pdf", "good document")
	first, err := env.pipeline.Run(ctx, models.IndexJob{DocumentID: "a", BlobKey: "documents/a.pdf"})
	if err != nil {
		t.Fatal(err)
	}

	// Second run fails during embedding; the artifact must be unchanged.
	badBlobs := env.blobs
	bad := New(badBlobs, env.artifacts, failingEmbedder{}, mustSplitter(t), zap.NewNop(), WithPageLoader(textPages))
	putDoc(t, env, "documents/b.pdf", "another document")
	if _, err := bad.Run(ctx, models.IndexJob{DocumentID: "b", BlobKey: "documents/b.pdf"}); err == nil {
		t.Fatal("expected embedding failure")
	}

	idx, version, err := env.artifacts.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Size() != first.VectorsTotal {
		t.Errorf("artifact changed after failed run: size %d, want %d", idx.Size(), first.VectorsTotal)
	}
	if version != 1 {
		t.Errorf("version changed after failed run: %d", version)
	}
}

func mustSplitter(t *testing.T) *splitter.Splitter {
	t.Helper()
	s, err := splitter.New(50, 10)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRun_CorruptArtifactStartsFresh(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	// Plant a corrupt artifact: parts that disagree.
	_ = env.blobs.Put(ctx, "indexes/index.vec", []byte("garbage"))
	_ = env.blobs.Put(ctx, "indexes/index.meta", []byte(`{"dimensions":8,"count":3,"entries":[]}`))
	_ = env.blobs.Put(ctx, "indexes/index.version", []byte("7"))

	putDoc(t, env, "documents/a.pdf", "fresh start document")
	result, err := env.pipeline.Run(ctx, models.IndexJob{DocumentID: "a", BlobKey: "documents/a.pdf"})
	if err != nil {
		t.Fatalf("expected recovery from corrupt artifact, got %v", err)
	}
	idx, version, err := env.artifacts.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Size() != result.VectorsTotal {
		t.Errorf("fresh index size %d, want %d", idx.Size(), result.VectorsTotal)
	}
	// Version restarts from 1: the prior corpus was abandoned.
	if version != 1 {
		t.Errorf("version: %d", version)
	}
}

func TestQueue_SerializesConcurrentSubmissions(t *testing.T) {
	env := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	putDoc(t, env, "documents/a.pdf", "document a page one\ndocument a page two")
	putDoc(t, env, "documents/b.pdf", "document b page one")

	q := NewQueue(env.pipeline, 8, zap.NewNop())
	q.Start(ctx)

	var wg sync.WaitGroup
	for _, job := range []models.IndexJob{
		{DocumentID: "a", BlobKey: "documents/a.pdf"},
		{DocumentID: "b", BlobKey: "documents/b.pdf"},
	} {
		wg.Add(1)
		go func(j models.IndexJob) {
			defer wg.Done()
			if err := q.Submit(j); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}(job)
	}
	wg.Wait()
	q.Stop()

	// Both runs went through the single worker, so neither overwrote the
	// other's vectors.
	idx, _, err := env.artifacts.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	split := mustSplitter(t)
	pagesA, _ := textPages([]byte("document a page one\ndocument a page two"), "a")
	pagesB, _ := textPages([]byte("document b page one"), "b")
	want := len(split.SplitPages(pagesA)) + len(split.SplitPages(pagesB))
	if idx.Size() != want {
		t.Errorf("artifact size %d, want %d", idx.Size(), want)
	}
}

func TestQueue_SubmitAfterFull(t *testing.T) {
	env := newEnv(t)
	q := NewQueue(env.pipeline, 1, zap.NewNop())
	// Worker not started: second submit must fail fast, not block.
	if err := q.Submit(models.IndexJob{DocumentID: "a"}); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- q.Submit(models.IndexJob{DocumentID: "b"}) }()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected queue-full error")
		}
	case <-time.After(time.Second):
		t.Error("Submit blocked on full queue")
	}
}
