package vecindex

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/provider"
)

func buildTestIndex(t *testing.T, texts ...string) *Index {
	t.Helper()
	embedder := provider.NewMockEmbedder(16)
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{DocumentID: "doc1", Page: i + 1, Text: text}
	}
	vectors, err := embedder.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := Build(chunks, vectors)
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestBuild_CountMismatch(t *testing.T) {
	chunks := []models.Chunk{{Text: "a"}, {Text: "b"}}
	vectors := [][]float32{{1, 0}}
	if _, err := Build(chunks, vectors); err == nil {
		t.Error("expected error on chunk/vector count mismatch")
	}
}

func TestBuild_DimensionMismatch(t *testing.T) {
	chunks := []models.Chunk{{Text: "a"}, {Text: "b"}}
	vectors := [][]float32{{1, 0}, {1, 0, 0}}
	if _, err := Build(chunks, vectors); err == nil {
		t.Error("expected error on inconsistent vector dimensions")
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := &Index{}
	_, err := idx.Search([]float32{1, 0}, 4, ModeDiversity, 8)
	if !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("expected ErrEmptyIndex, got %v", err)
	}
}

func TestSearch_SimilarityFindsVerbatimChunk(t *testing.T) {
	texts := []string{
		"employees receive twenty days of annual leave",
		"the office is closed on public holidays",
		"expense reports are due by the fifth",
	}
	idx := buildTestIndex(t, texts...)

	embedder := provider.NewMockEmbedder(16)
	query, _ := embedder.Embed(context.Background(), texts[0])
	results, err := idx.Search(query, 1, ModeSimilarity, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Text != texts[0] {
		t.Errorf("top result %q, want %q", results[0].Text, texts[0])
	}
	if results[0].Meta.Page != 1 || results[0].Meta.DocumentID != "doc1" {
		t.Errorf("metadata not carried: %+v", results[0].Meta)
	}
}

func TestSearch_DiversityReturnsKDistinct(t *testing.T) {
	texts := make([]string, 20)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk number %d about topic %d", i, i%7)
	}
	idx := buildTestIndex(t, texts...)

	embedder := provider.NewMockEmbedder(16)
	query, _ := embedder.Embed(context.Background(), "topic")
	results, err := idx.Search(query, 4, ModeDiversity, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	seen := make(map[string]bool)
	for _, r := range results {
		if seen[r.Text] {
			t.Errorf("duplicate chunk in diversity results: %q", r.Text)
		}
		seen[r.Text] = true
	}
}

func TestSearch_KLargerThanIndex(t *testing.T) {
	idx := buildTestIndex(t, "one", "two")
	embedder := provider.NewMockEmbedder(16)
	query, _ := embedder.Embed(context.Background(), "one")
	results, err := idx.Search(query, 10, ModeDiversity, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestMerge_DoesNotDeduplicate(t *testing.T) {
	idx := buildTestIndex(t, "alpha", "beta", "gamma")
	doubled, err := idx.Merge(idx)
	if err != nil {
		t.Fatal(err)
	}
	if doubled.Size() != 6 {
		t.Errorf("self-merge size: got %d, want 6", doubled.Size())
	}
	if idx.Size() != 3 {
		t.Errorf("merge mutated input: size %d", idx.Size())
	}
}

func TestMerge_ContentAssociative(t *testing.T) {
	a := buildTestIndex(t, "one", "two")
	b := buildTestIndex(t, "three")
	ab, err := a.Merge(b)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := b.Merge(a)
	if err != nil {
		t.Fatal(err)
	}
	if ab.Size() != 3 || ba.Size() != 3 {
		t.Fatalf("sizes: %d, %d", ab.Size(), ba.Size())
	}
	countTexts := func(x *Index) map[string]int {
		m := make(map[string]int)
		for _, e := range x.entries {
			m[e.Text]++
		}
		return m
	}
	ma, mb := countTexts(ab), countTexts(ba)
	for k, v := range ma {
		if mb[k] != v {
			t.Errorf("entry sets differ for %q: %d vs %d", k, v, mb[k])
		}
	}
}

func TestMerge_DimensionMismatch(t *testing.T) {
	a, _ := Build([]models.Chunk{{Text: "a"}}, [][]float32{{1, 0}})
	b, _ := Build([]models.Chunk{{Text: "b"}}, [][]float32{{1, 0, 0}})
	if _, err := a.Merge(b); err == nil {
		t.Error("expected error merging different dimensions")
	}
}

func TestMerge_WithEmpty(t *testing.T) {
	idx := buildTestIndex(t, "alpha")
	merged, err := idx.Merge(&Index{})
	if err != nil {
		t.Fatal(err)
	}
	if merged.Size() != 1 {
		t.Errorf("size: %d", merged.Size())
	}
}

func TestCodec_RoundTripPreservesSearchResults(t *testing.T) {
	idx := buildTestIndex(t, "alpha", "beta", "gamma", "delta", "epsilon")

	vec, meta, err := idx.Encode()
	if err != nil {
		t.Fatal(err)
	}
	restored, err := Decode(vec, meta)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Size() != idx.Size() || restored.Dimensions() != idx.Dimensions() {
		t.Fatalf("size/dimensions changed: %d/%d", restored.Size(), restored.Dimensions())
	}

	embedder := provider.NewMockEmbedder(16)
	query, _ := embedder.Embed(context.Background(), "beta")
	want, err := idx.Search(query, 3, ModeDiversity, 5)
	if err != nil {
		t.Fatal(err)
	}
	got, err := restored.Search(query, 3, ModeDiversity, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("result counts differ: %d vs %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Text != want[i].Text || got[i].Meta != want[i].Meta {
			t.Errorf("result %d differs: %+v vs %+v", i, got[i], want[i])
		}
	}
}

func TestDecode_CorruptParts(t *testing.T) {
	idx := buildTestIndex(t, "alpha", "beta")
	vec, meta, err := idx.Encode()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		vec  []byte
		meta []byte
	}{
		{"truncated vector data", vec[:len(vec)-4], meta},
		{"garbage metadata", vec, []byte("not json")},
		{"metadata count mismatch", vec, []byte(`{"dimensions":16,"count":5,"entries":[]}`)},
		{"empty vector part", nil, meta},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.vec, tt.meta)
			var ce *CorruptError
			if !errors.As(err, &ce) {
				t.Errorf("expected CorruptError, got %v", err)
			}
		})
	}
}
