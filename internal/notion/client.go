// Package notion is the Doc-store REST client: data-source discovery,
// incremental page queries, and page reads and writes with schema-aware
// property resolution.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

var (
	ErrRequestFailed   = errors.New("request failed")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrNotFound        = errors.New("resource not found")
	ErrInvalidResponse = errors.New("invalid server response")
)

const (
	defaultTimeout  = 30 * time.Second
	searchPageSize  = 100
	queryPageSize   = 200
	maxResponseSize = 16 << 20
)

// Client talks to the Doc-store REST API for one account.
type Client struct {
	baseURL    string
	token      string
	version    string
	httpClient *http.Client

	mu      sync.Mutex
	schemas map[string]*DataSource
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the HTTP client, used by tests to point at
// httptest servers.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Doc-store client. version is the pinned API version
// sent with every request.
func NewClient(baseURL, token, version string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		version: version,
		schemas: make(map[string]*DataSource),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return c
}

// do issues one JSON request and decodes the response into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s %s: status %d", ErrAuthFailed, method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrRequestFailed, method, path, resp.StatusCode, string(raw))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %w", ErrInvalidResponse, err)
	}
	return nil
}

// listEnvelope is the shared pagination wrapper around list responses.
type listEnvelope struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor"`
}

// paginate drains a paginated POST endpoint. Pagination stops when the
// server signals has_more but omits the cursor.
func (c *Client) paginate(ctx context.Context, path string, base map[string]any, each func(json.RawMessage) error) error {
	cursor := ""
	for {
		payload := make(map[string]any, len(base)+1)
		for k, v := range base {
			payload[k] = v
		}
		if cursor != "" {
			payload["start_cursor"] = cursor
		}

		var envelope listEnvelope
		if err := c.do(ctx, http.MethodPost, path, payload, &envelope); err != nil {
			return err
		}
		for _, raw := range envelope.Results {
			if err := each(raw); err != nil {
				return err
			}
		}
		if !envelope.HasMore || envelope.NextCursor == "" {
			return nil
		}
		cursor = envelope.NextCursor
	}
}

// ListDataSources enumerates every data source the integration can see.
func (c *Client) ListDataSources(ctx context.Context) ([]*DataSource, error) {
	base := map[string]any{
		"filter":    map[string]any{"property": "object", "value": "data_source"},
		"page_size": searchPageSize,
	}

	var sources []*DataSource
	err := c.paginate(ctx, "/v1/search", base, func(raw json.RawMessage) error {
		ds := &DataSource{}
		if err := json.Unmarshal(raw, ds); err != nil {
			return fmt.Errorf("%w: failed to decode data source: %w", ErrInvalidResponse, err)
		}
		sources = append(sources, ds)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, ds := range sources {
		c.schemas[ds.ID] = ds
	}
	c.mu.Unlock()
	return sources, nil
}

// GetDataSource fetches one data source schema, serving repeats from the
// per-client cache.
func (c *Client) GetDataSource(ctx context.Context, id string) (*DataSource, error) {
	c.mu.Lock()
	if ds, ok := c.schemas[id]; ok {
		c.mu.Unlock()
		return ds, nil
	}
	c.mu.Unlock()

	ds := &DataSource{}
	if err := c.do(ctx, http.MethodGet, "/v1/data_sources/"+id, nil, ds); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.schemas[id] = ds
	c.mu.Unlock()
	return ds, nil
}

// QueryPages lists the pages of a data source. A non-empty since value adds
// the incremental last-edited filter.
func (c *Client) QueryPages(ctx context.Context, dsID, since string) ([]*Page, error) {
	base := map[string]any{"page_size": queryPageSize}
	if since != "" {
		base["filter"] = map[string]any{
			"property": "last_edited_time",
			"date":     map[string]any{"on_or_after": since},
		}
	}

	var pages []*Page
	err := c.paginate(ctx, "/v1/data_sources/"+dsID+"/query", base, func(raw json.RawMessage) error {
		p := &Page{}
		if err := json.Unmarshal(raw, p); err != nil {
			return fmt.Errorf("%w: failed to decode page: %w", ErrInvalidResponse, err)
		}
		pages = append(pages, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// GetPage fetches one page by id.
func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	p := &Page{}
	if err := c.do(ctx, http.MethodGet, "/v1/pages/"+pageID, nil, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreatePage creates a task page in the given data source, resolving
// property names against its schema.
func (c *Client) CreatePage(ctx context.Context, dsID string, t *TaskProperties) (*Page, error) {
	ds, err := c.GetDataSource(ctx, dsID)
	if err != nil {
		return nil, err
	}

	props := BuildProperties(t, ds)
	payload := map[string]any{
		"parent":     map[string]any{"type": "data_source_id", "data_source_id": dsID},
		"properties": props,
	}

	p := &Page{}
	if err := c.do(ctx, http.MethodPost, "/v1/pages", payload, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePage writes the task's properties onto an existing page. When the
// page's data source schema is reachable, property names and status options
// are resolved against it; otherwise the well-known names are used as-is.
func (c *Client) UpdatePage(ctx context.Context, pageID string, t *TaskProperties, dsID string) error {
	var ds *DataSource
	if dsID != "" {
		if loaded, err := c.GetDataSource(ctx, dsID); err == nil {
			ds = loaded
		}
	}

	payload := map[string]any{"properties": BuildProperties(t, ds)}
	return c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, payload, nil)
}

// Ping verifies the token against the API with a minimal search call.
func (c *Client) Ping(ctx context.Context) error {
	payload := map[string]any{"page_size": 1}
	var envelope listEnvelope
	return c.do(ctx, http.MethodPost, "/v1/search", payload, &envelope)
}
