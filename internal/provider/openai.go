package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Client talks to an OpenAI-compatible API for embeddings and chat
// completions. It implements both Embedder and Generator.
type Client struct {
	baseURL        string
	apiKey         string
	embeddingModel string
	chatModel      string
	httpClient     *http.Client

	// dimensions is written by whichever EmbedBatch call completes first;
	// the client is shared across the indexing worker and request handlers.
	dimensions atomic.Int32
}

// NewClient creates a client from provider config. The API key is read from
// the environment variable named by cfg.APIKeyEnv.
func NewClient(cfg config.ProviderConfig) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		apiKey:         key,
		embeddingModel: cfg.EmbeddingModel,
		chatModel:      cfg.ChatModel,
		httpClient:     &http.Client{Timeout: timeout},
	}, nil
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds all texts in one call, returning one vector per input in
// the same order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqBody := struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}{Input: texts, Model: c.embeddingModel}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, "embeddings", "/embeddings", reqBody, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, &Error{Op: "embeddings", Err: fmt.Errorf("got %d embeddings for %d inputs", len(out.Data), len(texts))}
	}
	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &Error{Op: "embeddings", Err: fmt.Errorf("embedding index %d out of range", d.Index)}
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, &Error{Op: "embeddings", Err: fmt.Errorf("no embedding returned for input %d", i)}
		}
	}
	c.dimensions.CompareAndSwap(0, int32(len(vectors[0])))
	return vectors, nil
}

// Dimensions returns the embedding dimension, 0 before the first call.
func (c *Client) Dimensions() int { return int(c.dimensions.Load()) }

// Generate sends the prompt as a single user message and returns the
// accumulated answer text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	reqBody := struct {
		Model       string    `json:"model"`
		Messages    []message `json:"messages"`
		MaxTokens   int       `json:"max_tokens"`
		Temperature float64   `json:"temperature"`
		TopP        float64   `json:"top_p"`
	}{
		Model:       c.chatModel,
		Messages:    []message{{Role: "user", Content: prompt}},
		MaxTokens:   3000,
		Temperature: 0.1,
		TopP:        0.9,
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "chat", "/chat/completions", reqBody, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &Error{Op: "chat", Err: fmt.Errorf("no choices returned")}
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, op, path string, reqBody, out interface{}) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= 300 {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", utils.Truncate(string(payload), 200))}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
