// Package splitter splits page text into overlapping character-bounded chunks.
package splitter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/models"
)

// defaultSeparators is the boundary priority order: paragraph break, line
// break, word boundary, hard character cut. The first separator that yields
// pieces within the size budget is used.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter splits text into chunks of at most chunkSize characters with
// chunkOverlap trailing characters carried into the next chunk.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// New creates a splitter. chunkOverlap must be smaller than chunkSize.
func New(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, chunk size), got %d", chunkOverlap)
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}, nil
}

// SplitPages splits each page independently, preserving document and page
// order. Chunks inherit the page's document ID and page number. Pages with
// no text produce no chunks; no chunk is ever empty.
func (s *Splitter) SplitPages(pages []models.Page) []models.Chunk {
	var chunks []models.Chunk
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		for _, text := range s.SplitText(p.Text) {
			chunks = append(chunks, models.Chunk{
				DocumentID: p.DocumentID,
				Page:       p.Number,
				Text:       text,
			})
		}
	}
	return chunks
}

// SplitText splits text into chunks of at most chunkSize characters,
// preferring paragraph, line, and word boundaries over hard cuts.
func (s *Splitter) SplitText(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	// Pick the first separator present in the text; "" always matches and
	// falls back to splitting on characters.
	sep := separators[len(separators)-1]
	var remaining []string
	for i, sp := range separators {
		if sp == "" {
			sep = ""
			remaining = nil
			break
		}
		if strings.Contains(text, sp) {
			sep = sp
			remaining = separators[i+1:]
			break
		}
	}

	var splits []string
	if sep == "" {
		splits = splitChars(text)
	} else {
		splits = strings.Split(text, sep)
	}

	var final []string
	var good []string
	for _, piece := range splits {
		if utf8.RuneCountInString(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		// Piece is too large on its own: flush accumulated pieces, then
		// split it further with the lower-priority separators.
		if len(good) > 0 {
			final = append(final, s.merge(good, sep)...)
			good = nil
		}
		if len(remaining) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.split(piece, remaining)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good, sep)...)
	}
	return final
}

// merge greedily joins pieces with sep into chunks of at most chunkSize
// characters. When a chunk is emitted, trailing pieces totalling at most
// chunkOverlap characters are retained as the start of the next chunk.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := utf8.RuneCountInString(sep)
	var chunks []string
	var current []string
	total := 0

	joinLen := func(n int) int {
		// Separator cost of appending to a buffer of n pieces.
		if n > 0 {
			return sepLen
		}
		return 0
	}

	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)
		if total+pieceLen+joinLen(len(current)) > s.chunkSize && len(current) > 0 {
			if chunk := s.join(current, sep); chunk != "" {
				chunks = append(chunks, chunk)
			}
			// Drop pieces from the front until the retained tail fits the
			// overlap budget and leaves room for the incoming piece.
			for len(current) > 0 &&
				(total > s.chunkOverlap ||
					total+pieceLen+joinLen(len(current)) > s.chunkSize) {
				total -= utf8.RuneCountInString(current[0]) + joinLen(len(current)-1)
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += pieceLen + joinLen(len(current)-1)
	}
	if chunk := s.join(current, sep); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func (s *Splitter) join(pieces []string, sep string) string {
	return strings.TrimSpace(strings.Join(pieces, sep))
}

// splitChars splits text into individual characters (runes).
func splitChars(text string) []string {
	out := make([]string, 0, len(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}
