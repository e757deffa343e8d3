// Package answer composes retrieved context and a question into a grounded
// prompt and generates the final answer.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/provider"
)

// promptTemplate instructs the model to answer strictly from the supplied
// passages. The refusal sentence is fixed so callers can detect it.
const promptTemplate = `Use the following context to answer the question. If the answer is not
contained in the context, say "I don't have enough information to answer
that question based on the provided document."

Context:
%s

Question: %s

Answer:`

// contextSeparator joins retrieved passages inside the prompt.
const contextSeparator = "\n\n---\n\n"

// Retriever yields ranked context passages for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]models.ContextItem, error)
}

// Service answers questions over the indexed corpus.
type Service struct {
	retriever Retriever
	generator provider.Generator
	logger    *zap.Logger
}

// NewService wires a retriever and a text generator into an answer service.
func NewService(retriever Retriever, generator provider.Generator, logger *zap.Logger) *Service {
	return &Service{retriever: retriever, generator: generator, logger: logger}
}

// Ask validates the request, retrieves context, and generates an answer.
// A missing session id gets a fresh one; the id is echoed back untouched
// otherwise.
func (s *Service) Ask(ctx context.Context, req models.AskRequest) (*models.AskResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	items, err := s.retriever.Retrieve(ctx, req.Question, req.K)
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(req.Question, items)
	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	s.logger.Info("question answered",
		zap.String("session_id", req.SessionID),
		zap.Int("sources", len(items)),
		zap.Int("answer_len", len(answer)))

	return &models.AskResponse{
		Answer:    strings.TrimSpace(answer),
		Sources:   items,
		SessionID: req.SessionID,
	}, nil
}

// BuildPrompt renders the grounded prompt for a question and its context
// passages, in rank order.
func BuildPrompt(question string, items []models.ContextItem) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.Content
	}
	return fmt.Sprintf(promptTemplate, strings.Join(parts, contextSeparator), question)
}
