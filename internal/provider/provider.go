// Package provider holds clients for the external model APIs: text
// embeddings and chat-based answer generation.
package provider

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Generator produces an answer for a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Error reports a failed external model call. Calls are not retried at this
// layer; a failed call aborts the current indexing or retrieval operation.
type Error struct {
	Op     string // "embeddings" or "chat"
	Status int    // HTTP status, 0 on transport errors
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s call failed (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s call failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
