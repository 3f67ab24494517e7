package embedding

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder is the async boundary to the external embedding service.
// Implementations may fail (service down, timeout); callers on the store
// path must treat a failure as a degraded write, not a fatal error.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Health(ctx context.Context) HealthStatus
}

// HealthStatus reports embedding service availability.
type HealthStatus struct {
	Available  bool
	ModelReady bool
	Error      string
}

// Client generates text embeddings via any OpenAI-compatible endpoint
// (OpenAI, Ollama, siliconflow, ...).
type Client struct {
	api     *openai.Client
	model   string
	dim     int
	timeout time.Duration
}

func NewClient(baseURL, apiKey, model string, dim int, timeout time.Duration) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		api:     openai.NewClientWithConfig(cfg),
		model:   model,
		dim:     dim,
		timeout: timeout,
	}
}

// Embed generates an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Output order matches
// input order so batched persistence can zip vectors back to their sources.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(resp.Data))
	}

	// The API tags each vector with its input index; sort rather than trust
	// response ordering.
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Dimensions returns the configured vector dimension.
func (c *Client) Dimensions() int {
	return c.dim
}

// Health verifies the embedding endpoint is reachable and the configured
// model is listed.
func (c *Client) Health(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	models, err := c.api.ListModels(ctx)
	if err != nil {
		return HealthStatus{Available: false, Error: err.Error()}
	}

	status := HealthStatus{Available: true}
	for _, m := range models.Models {
		if m.ID == c.model {
			status.ModelReady = true
			break
		}
	}
	if !status.ModelReady {
		status.Error = fmt.Sprintf("model %q not listed by endpoint", c.model)
	}
	return status
}

// ContentHash computes a SHA-256 hash of text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
