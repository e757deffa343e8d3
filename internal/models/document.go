// Package models defines core data structures for documents, chunks, and Q&A requests.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Page is one unit of a source document's native pagination.
// Pages are produced once at load time and never mutated.
type Page struct {
	DocumentID string
	Number     int // 1-based page number
	Text       string
}

// Chunk is a bounded-length text window extracted from a page for embedding.
// It inherits the originating page's document ID and page number.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
	Text       string `json:"text"`
}

// DocumentRecord is the registry entry for an uploaded document.
type DocumentRecord struct {
	ID           string    `json:"document_id" db:"id"`
	Filename     string    `json:"filename" db:"filename"`
	OwnerID      string    `json:"owner_id,omitempty" db:"owner_id"`
	BlobKey      string    `json:"blob_key" db:"blob_key"`
	Size         int64     `json:"size" db:"size"`
	Status       RunState  `json:"status" db:"status"`
	VectorsTotal int       `json:"vectors_total" db:"vectors_total"`
	Error        string    `json:"error,omitempty" db:"error"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NewDocumentID returns a fresh document identifier.
func NewDocumentID() string {
	return uuid.New().String()
}

// IndexJob is the unit of work handed to the indexing queue.
type IndexJob struct {
	DocumentID string `json:"document_id"`
	BlobKey    string `json:"document_key"`
	OwnerID    string `json:"user_id,omitempty"`
}
