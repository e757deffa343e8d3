package models

import "fmt"

// ContextItem is one retrieved chunk with its 1-based rank within a single
// retrieval call. Constructed per query, never persisted.
type ContextItem struct {
	Content    string  `json:"content"`
	DocumentID string  `json:"document_id,omitempty"`
	Page       int     `json:"page"`
	Rank       int     `json:"rank"`
	Score      float64 `json:"score"`
}

// AskRequest is a user question with optional session continuity and result count.
type AskRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
	K         int    `json:"k,omitempty"`
}

const maxK = 50

// Validate checks required fields and normalizes K.
// Returns an error if the question is empty.
func (r *AskRequest) Validate() error {
	if r.Question == "" {
		return fmt.Errorf("question cannot be empty")
	}
	if r.K < 0 {
		return fmt.Errorf("k must be positive")
	}
	if r.K > maxK {
		r.K = maxK
	}
	return nil
}

// AskResponse is the answer to a question with its source attribution.
type AskResponse struct {
	Answer    string        `json:"answer"`
	Sources   []ContextItem `json:"sources"`
	SessionID string        `json:"session_id"`
}
