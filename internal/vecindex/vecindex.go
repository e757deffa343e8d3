// Package vecindex provides an in-memory, persistable vector index over
// embedded chunks, with similarity and diversity (MMR) search.
package vecindex

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrEmptyIndex is returned by Search when the index holds zero entries.
// Callers should surface it as "no knowledge base yet", not a generic failure.
var ErrEmptyIndex = errors.New("vector index is empty")

// CorruptError reports that the two parts of a persisted index are
// inconsistent with each other.
type CorruptError struct {
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt index artifact: %s", e.Reason)
}

// Metadata is the provenance carried by every index entry.
type Metadata struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
}

// Entry is one (vector, text, metadata) triple.
type Entry struct {
	Vector []float32
	Text   string
	Meta   Metadata
}

// Index holds all entries accumulated across indexing runs plus the search
// structure over their vectors. An Index is immutable after construction;
// Merge returns a new Index rather than mutating either input.
type Index struct {
	dimensions int
	entries    []Entry
}

// Mode selects the search strategy.
type Mode string

const (
	// ModeSimilarity is pure nearest-neighbor by cosine similarity.
	ModeSimilarity Mode = "similarity"
	// ModeDiversity is maximal-marginal-relevance: over-fetch fetchK nearest
	// candidates, then greedily balance relevance against dissimilarity to
	// already-selected picks.
	ModeDiversity Mode = "diversity"
)

// Result is a single search hit.
type Result struct {
	Text  string
	Meta  Metadata
	Score float64
}

// Build constructs a fresh index from chunks and their vectors (1:1, same
// order). Returns an error if counts mismatch or dimensions are inconsistent.
func Build(chunks []models.Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunk/vector count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}
	idx := &Index{}
	for i, ch := range chunks {
		vec := vectors[i]
		if len(vec) == 0 {
			return nil, fmt.Errorf("empty vector at position %d", i)
		}
		if idx.dimensions == 0 {
			idx.dimensions = len(vec)
		} else if len(vec) != idx.dimensions {
			return nil, fmt.Errorf("vector dimension mismatch at position %d: got %d, expected %d", i, len(vec), idx.dimensions)
		}
		v := make([]float32, len(vec))
		copy(v, vec)
		idx.entries = append(idx.entries, Entry{
			Vector: v,
			Text:   ch.Text,
			Meta:   Metadata{DocumentID: ch.DocumentID, Page: ch.Page},
		})
	}
	return idx, nil
}

// Size returns the number of entries.
func (x *Index) Size() int { return len(x.entries) }

// Dimensions returns the vector dimension, 0 for an empty index.
func (x *Index) Dimensions() int { return x.dimensions }

// Merge returns an index containing the union of both indexes' entries.
// Entries are not deduplicated: merging an index with itself doubles the
// entry count. Dimension mismatch is an error.
func (x *Index) Merge(other *Index) (*Index, error) {
	if other == nil || other.Size() == 0 {
		return x.clone(), nil
	}
	if x.Size() == 0 {
		return other.clone(), nil
	}
	if x.dimensions != other.dimensions {
		return nil, fmt.Errorf("cannot merge indexes with dimensions %d and %d", x.dimensions, other.dimensions)
	}
	merged := &Index{dimensions: x.dimensions}
	merged.entries = append(merged.entries, x.entries...)
	merged.entries = append(merged.entries, other.entries...)
	return merged, nil
}

func (x *Index) clone() *Index {
	c := &Index{dimensions: x.dimensions}
	c.entries = append(c.entries, x.entries...)
	return c
}

// Search returns at most k entries ranked by the given mode. fetchK bounds
// the candidate pool for diversity mode and is ignored for similarity mode;
// fetchK < k is raised to k. Returns ErrEmptyIndex on an empty index.
func (x *Index) Search(query []float32, k int, mode Mode, fetchK int) ([]Result, error) {
	if len(x.entries) == 0 {
		return nil, ErrEmptyIndex
	}
	if len(query) != x.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), x.dimensions)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	switch mode {
	case ModeSimilarity:
		return x.nearest(query, k), nil
	case ModeDiversity:
		if fetchK < k {
			fetchK = k
		}
		candidates := x.candidateIndexes(query, fetchK)
		picked := x.maximalMarginalRelevance(query, candidates, k)
		results := make([]Result, len(picked))
		for i, c := range picked {
			e := x.entries[c.index]
			results[i] = Result{Text: e.Text, Meta: e.Meta, Score: c.score}
		}
		return results, nil
	default:
		return nil, fmt.Errorf("unknown search mode: %s", mode)
	}
}

type candidate struct {
	index int
	score float64 // cosine similarity to the query
}

// nearest returns the top-k entries by cosine similarity.
func (x *Index) nearest(query []float32, k int) []Result {
	cands := x.candidateIndexes(query, k)
	results := make([]Result, len(cands))
	for i, c := range cands {
		e := x.entries[c.index]
		results[i] = Result{Text: e.Text, Meta: e.Meta, Score: c.score}
	}
	return results
}

// candidateIndexes scores every entry against the query and returns the top
// n as (entry index, score) pairs, best first.
func (x *Index) candidateIndexes(query []float32, n int) []candidate {
	cands := make([]candidate, len(x.entries))
	for i, e := range x.entries {
		cands[i] = candidate{index: i, score: CosineSimilarity(query, e.Vector)}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if n > len(cands) {
		n = len(cands)
	}
	return cands[:n]
}

const mmrLambda = 0.5

// maximalMarginalRelevance greedily selects k candidates balancing relevance
// to the query against dissimilarity to already-selected picks.
func (x *Index) maximalMarginalRelevance(query []float32, candidates []candidate, k int) []candidate {
	if k > len(candidates) {
		k = len(candidates)
	}
	selected := make([]candidate, 0, k)
	remaining := append([]candidate(nil), candidates...)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, c := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				sim := CosineSimilarity(x.entries[c.index].Vector, x.entries[s.index].Vector)
				if sim > maxSim {
					maxSim = sim
				}
			}
			score := mmrLambda*c.score - (1-mmrLambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// CosineSimilarity returns the cosine similarity of two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
