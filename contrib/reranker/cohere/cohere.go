// Package cohere implements the cross-encoder scorer on Cohere's rerank
// API. One request scores every passage for a query.
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultEndpoint = "https://api.cohere.com/v2/rerank"

// Client scores query/passage pairs through the Cohere rerank endpoint.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// Option customises the client.
type Option func(*Client)

// WithModel overrides the default model (rerank-v3.5).
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithEndpoint overrides the API endpoint, mainly for tests.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient swaps the HTTP client for custom timeouts or proxies.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      "rerank-v3.5",
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Score rates one pair. It wraps ScoreBatch; batch scoring is the
// intended path.
func (c *Client) Score(ctx context.Context, query, passage string) (float64, error) {
	scores, err := c.ScoreBatch(ctx, query, []string{passage})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// ScoreBatch rates all passages in one request and returns scores in
// passage order.
func (c *Client) ScoreBatch(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	payload := rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: passages,
		TopN:      len(passages),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere rerank request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cohere rerank failed: status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode cohere response: %w", err)
	}

	scores := make([]float64, len(passages))
	seen := 0
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(passages) {
			continue
		}
		scores[res.Index] = res.RelevanceScore
		seen++
	}
	if seen == 0 {
		return nil, fmt.Errorf("cohere returned no usable results")
	}
	return scores, nil
}
