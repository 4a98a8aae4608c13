// Package vision extracts searchable descriptions from post images with
// a vision model. Failures never block archiving: any error on the way
// to a description yields a nil result and a logged warning.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Image categories. Each gets its own extraction prompt.
const (
	CategoryTextHeavy = "text_heavy"
	CategoryChart     = "chart"
	CategoryGeneral   = "general"
)

// DefaultModel is the vision model used for classification and extraction.
const DefaultModel = "claude-3-5-sonnet-20241022"

// MaxImageBytes is the largest image fetched for description.
const MaxImageBytes = 5 << 20

const (
	defaultBaseURL  = "https://api.anthropic.com"
	apiVersion      = "2023-06-01"
	requestTimeout  = 30 * time.Second
	classifyTokens  = 50
	extractTokens   = 1024
)

// textKeywords in the post context suggest a screenshot or text capture.
var textKeywords = []string{
	"screenshot", "code", "terminal", "snippet", "documentation",
	"article", "tweet", "post", "message",
}

// chartKeywords in the post context suggest a data visualization.
var chartKeywords = []string{
	"chart", "graph", "data", "visualization", "metrics", "stats",
	"statistics", "trend", "growth", "decline", "percentage",
	"diagram", "flowchart",
}

// Description is the extracted result for one image.
type Description struct {
	Description string `json:"description"`
	Category    string `json:"category"`
	Model       string `json:"extraction_model"`
}

// Options configures a Describer.
type Options struct {
	APIKey     string
	BaseURL    string // override for tests
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Describer talks to an Anthropic-style messages API.
type Describer struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	log     *slog.Logger
}

// New creates a Describer. A missing API key is a configuration error.
func New(opts Options) (*Describer, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("vision: API key required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Describer{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		model:   opts.Model,
		http:    opts.HTTPClient,
		log:     opts.Logger,
	}, nil
}

// imageSource is the base64 image block of the messages API.
type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// DescribeImage fetches an image and extracts a description. The category
// resolves in order: caller hint, keyword inference from the post text,
// model classification, then "general". Returns nil when the image cannot
// be fetched or is too large.
func (d *Describer) DescribeImage(ctx context.Context, imageURL, postContext, categoryHint string) (*Description, error) {
	src, err := d.fetchImage(ctx, imageURL)
	if err != nil {
		d.log.Warn("image fetch failed", "url", imageURL, "error", err)
		return nil, nil
	}

	category := categoryHint
	if category == "" {
		category = InferCategory(postContext)
	}
	if category == "" {
		category = d.classify(ctx, src)
	}

	text, err := d.complete(ctx, src, extractionPrompt(category, postContext), extractTokens)
	if err != nil {
		d.log.Warn("description extraction failed", "url", imageURL, "category", category, "error", err)
		return nil, nil
	}

	return &Description{
		Description: strings.TrimSpace(text),
		Category:    category,
		Model:       d.model,
	}, nil
}

// InferCategory guesses an image category from the post text. Empty when
// no keyword matches.
func InferCategory(postContext string) string {
	if postContext == "" {
		return ""
	}
	lower := strings.ToLower(postContext)
	for _, kw := range textKeywords {
		if strings.Contains(lower, kw) {
			return CategoryTextHeavy
		}
	}
	for _, kw := range chartKeywords {
		if strings.Contains(lower, kw) {
			return CategoryChart
		}
	}
	return ""
}

func (d *Describer) fetchImage(ctx context.Context, url string) (*imageSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	// Read one byte past the limit so oversized images are detected
	// without buffering arbitrarily large bodies.
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	}

	return &imageSource{
		Type:      "base64",
		MediaType: mediaType(resp.Header.Get("Content-Type")),
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

func mediaType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.TrimSpace(contentType) {
	case "image/jpeg", "image/jpg":
		return "image/jpeg"
	case "image/png":
		return "image/png"
	case "image/gif":
		return "image/gif"
	case "image/webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// classify asks the model for a category; any failure falls back to general.
func (d *Describer) classify(ctx context.Context, src *imageSource) string {
	text, err := d.complete(ctx, src, categoryDetectionPrompt, classifyTokens)
	if err != nil {
		d.log.Warn("category detection failed, defaulting to general", "error", err)
		return CategoryGeneral
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(lower, CategoryTextHeavy):
		return CategoryTextHeavy
	case strings.Contains(lower, CategoryChart):
		return CategoryChart
	default:
		return CategoryGeneral
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Source *imageSource `json:"source,omitempty"`
	Text   string       `json:"text,omitempty"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

func (d *Describer) complete(ctx context.Context, src *imageSource, prompt string, maxTokens int) (string, error) {
	body, _ := json.Marshal(messagesRequest{
		Model:     d.model,
		MaxTokens: maxTokens,
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{
				{Type: "image", Source: src},
				{Type: "text", Text: prompt},
			},
		}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", d.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("vision: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("vision decode: %w", err)
	}
	for _, block := range result.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("vision: no text block in response")
}
