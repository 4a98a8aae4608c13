// Package embed wraps an HTTP sentence-embedding server. The model is
// loaded once by the server and reused; this client is cheap to share.
//
// The retrieval model is asymmetric: queries are prepended with an
// instruction prefix, documents are encoded as-is. All vectors are
// L2-normalized so cosine similarity reduces to a dot product.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/hexalog/xarchive/pkg/fn"
)

// Dimension is the embedding width of the retrieval model.
const Dimension = 384

// DefaultModel is the sentence-embedding model served by the backend.
const DefaultModel = "bge-small-en-v1.5"

// queryPrefix is the retrieval instruction the model was trained with.
const queryPrefix = "Represent this sentence for searching relevant passages: "

// Client talks to an Ollama-compatible embedding endpoint.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates an embedding client for the given server.
func NewClient(baseURL, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Dimension returns the embedding width.
func (c *Client) Dimension() int { return Dimension }

// Model returns the model name in use.
func (c *Client) Model() string { return c.model }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Generate embeds a document text.
func (c *Client) Generate(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text)
}

// GenerateForQuery embeds a search query with the retrieval prefix.
func (c *Client) GenerateForQuery(ctx context.Context, query string) ([]float32, error) {
	return c.embed(ctx, queryPrefix+query)
}

// batchWorkers bounds concurrent requests so a batch cannot saturate
// the embedding server.
const batchWorkers = 4

// GenerateBatch embeds multiple documents with bounded concurrency,
// preserving input order. The first failure fails the whole batch.
func (c *Client) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := fn.ParMapResult(texts, batchWorkers, func(text string) fn.Result[[]float32] {
		return fn.FromPair(c.embed(ctx, text))
	})
	vecs, err := fn.Collect(results).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	return vecs, nil
}

func (c *Client) embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embed: empty input")
	}

	body, _ := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embed decode: %w", err)
	}
	if len(result.Embedding) != Dimension {
		return nil, fmt.Errorf("embed: got %d dimensions, want %d", len(result.Embedding), Dimension)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return Normalize(out), nil
}

// Normalize scales v to unit L2 norm. The zero vector is returned as-is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
