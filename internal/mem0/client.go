// Package mem0 is the client for the external semantic-memory index. The
// index is the source of truth for semantic search; the local relational
// store reconciles and filters its results (see internal/memory).
package mem0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.mem0.ai"
	defaultTimeout = 15 * time.Second
)

// Hit is one entry returned by the index for a search or list call.
type Hit struct {
	ID        string
	Content   string
	Type      string
	Metadata  map[string]any
	CreatedAt string
}

// Client communicates with the mem0 REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type addRequest struct {
	Messages     []message      `json:"messages"`
	UserID       string         `json:"user_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	OutputFormat string         `json:"output_format"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type addResponse struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
	ID string `json:"id"`
}

// Add stores content in the index under userKey and returns the external
// memory id. Empty results mean the index rejected the content; that is an
// error, not a silent success. The caller must not create a local row
// without an external id.
func (c *Client) Add(ctx context.Context, content, userKey string, metadata map[string]any) (string, error) {
	body, err := json.Marshal(addRequest{
		Messages:     []message{{Role: "user", Content: content}},
		UserID:       userKey,
		Metadata:     metadata,
		OutputFormat: "v1.1",
	})
	if err != nil {
		return "", fmt.Errorf("marshaling add request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v1/memories/", body)
	if err != nil {
		return "", err
	}

	var parsed addResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decoding add response: %w", err)
	}
	if len(parsed.Results) > 0 {
		// The index may split content into several entries; the last one
		// carries the id of the newest.
		return parsed.Results[len(parsed.Results)-1].ID, nil
	}
	if parsed.ID != "" {
		return parsed.ID, nil
	}
	return "", fmt.Errorf("index returned no memory id")
}

type searchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

// Search returns semantic matches for query scoped to userKey.
func (c *Client) Search(ctx context.Context, query, userKey string, limit int) ([]Hit, error) {
	body, err := json.Marshal(searchRequest{Query: query, UserID: userKey, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v1/memories/search/", body)
	if err != nil {
		return nil, err
	}
	return decodeHits(respBody)
}

// List returns all index entries for userKey, capped at limit.
func (c *Client) List(ctx context.Context, userKey string, limit int) ([]Hit, error) {
	params := url.Values{
		"user_id": {userKey},
		"limit":   {strconv.Itoa(limit)},
	}
	path := "/v1/memories/?" + params.Encode()
	respBody, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeHits(respBody)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("index returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// rawHit mirrors the index's wire format, where content lives under "memory".
type rawHit struct {
	ID        string         `json:"id"`
	Memory    string         `json:"memory"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"created_at"`
}

// decodeHits accepts either a bare array or a {"results": [...]} wrapper;
// the index uses both depending on the output format version.
func decodeHits(body []byte) ([]Hit, error) {
	var raw []rawHit
	if err := json.Unmarshal(body, &raw); err != nil {
		var wrapped struct {
			Results []rawHit `json:"results"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("decoding index results: %w", err)
		}
		raw = wrapped.Results
	}

	hits := make([]Hit, 0, len(raw))
	for _, r := range raw {
		typ := r.Type
		if typ == "" {
			typ = "text"
		}
		hits = append(hits, Hit{
			ID:        r.ID,
			Content:   r.Memory,
			Type:      typ,
			Metadata:  r.Metadata,
			CreatedAt: r.CreatedAt,
		})
	}
	return hits, nil
}
