// Package caldav talks to the CalDAV server: event reads and writes, the
// RFC 6578 sync-collection delta protocol, and calendar provisioning.
package caldav

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrNotFound         = errors.New("resource not found")
	ErrInvalidResponse  = errors.New("invalid server response")
	ErrConflict         = errors.New("resource version conflict")
)

const (
	defaultTimeout = 30 * time.Second
	minTLSVersion  = tls.VersionTLS12

	contentTypeCalendar = `text/calendar; charset="utf-8"`
	contentTypeXML      = "application/xml; charset=utf-8"
)

// EventRef identifies one event resource on the server.
type EventRef struct {
	Href string `json:"href"`
	ETag string `json:"etag"`
}

// Client provides CalDAV operations against one account.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	dav        *caldav.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client, used by tests to point at
// httptest servers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a CalDAV client for the given server and credentials.
func NewClient(baseURL, username, password string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrConnectionFailed)
	}

	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: minTLSVersion},
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	dav, err := caldav.NewClient(
		webdav.HTTPClientWithBasicAuth(c.httpClient, username, password),
		c.baseURL,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create CalDAV client: %w", ErrConnectionFailed, err)
	}
	c.dav = dav

	return c, nil
}

// TestConnection verifies that the server answers and the credentials hold.
func (c *Client) TestConnection(ctx context.Context) error {
	if _, err := c.dav.FindCurrentUserPrincipal(ctx); err != nil {
		if strings.Contains(err.Error(), "401") || strings.Contains(err.Error(), "403") {
			return fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// EventHref returns the resource path for a page identifier under a
// calendar collection. Event URLs are always derived from the page id.
func EventHref(calendarHref, notionID string) string {
	return strings.TrimSuffix(calendarHref, "/") + "/" + notionID + ".ics"
}

// PutEvent creates or replaces the event at href with the given iCalendar
// text and returns the response ETag when the server provides one.
func (c *Client) PutEvent(ctx context.Context, href, icsText string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.buildURL(href), strings.NewReader(icsText))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", contentTypeCalendar)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: PUT %s: status %d", ErrAuthFailed, href, resp.StatusCode)
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed:
		return "", fmt.Errorf("%w: PUT %s: status %d", ErrConflict, href, resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%w: PUT %s: status %d", ErrInvalidResponse, href, resp.StatusCode)
	}

	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// GetEvent fetches the raw iCalendar text and ETag of the event at href.
func (c *Client) GetEvent(ctx context.Context, href string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(href), nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", "", fmt.Errorf("%w: GET %s", ErrNotFound, href)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", "", fmt.Errorf("%w: GET %s: status %d", ErrAuthFailed, href, resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", "", fmt.Errorf("%w: GET %s: status %d", ErrInvalidResponse, href, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// DeleteEvent removes the event at href. A 404 means the event is already
// gone and counts as success.
func (c *Client) DeleteEvent(ctx context.Context, href string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.buildURL(href), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: DELETE %s: status %d", ErrAuthFailed, href, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: DELETE %s: status %d", ErrInvalidResponse, href, resp.StatusCode)
	}
	return nil
}

// ListEventHrefs lists every event resource under the calendar collection
// via PROPFIND Depth:1, requesting the etag of each. This is the full
// listing used when no usable sync token exists.
func (c *Client) ListEventHrefs(ctx context.Context, calendarHref string) ([]EventRef, error) {
	const body = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:getetag/>
    <D:getcontenttype/>
  </D:prop>
</D:propfind>`

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", c.buildURL(calendarHref), strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", contentTypeXML)
	req.Header.Set("Depth", "1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: PROPFIND %s: status %d", ErrAuthFailed, calendarHref, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: PROPFIND %s: status %d", ErrInvalidResponse, calendarHref, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	ms, err := parseMultistatus(raw)
	if err != nil {
		return nil, err
	}

	refs := make([]EventRef, 0, len(ms.Responses))
	base := strings.TrimSuffix(calendarHref, "/")
	for _, r := range ms.Responses {
		href := r.Href
		if href == base || href == base+"/" {
			continue
		}
		if !isCalendarObject(href, r) {
			continue
		}
		refs = append(refs, EventRef{Href: href, ETag: r.etag()})
	}
	return refs, nil
}

// isCalendarObject reports whether a multistatus response entry is an event
// resource rather than a sub-collection.
func isCalendarObject(href string, r msResponse) bool {
	if strings.HasSuffix(href, ".ics") {
		return true
	}
	for _, ps := range r.PropStats {
		if strings.Contains(ps.Prop.ContentType, "calendar") {
			return true
		}
	}
	return false
}

// buildURL resolves an href against the client's base URL. Absolute paths
// replace the base path; relative paths append to it.
func (c *Client) buildURL(href string) string {
	if href == "" {
		return c.baseURL
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "/") {
		if idx := strings.Index(c.baseURL, "://"); idx != -1 {
			rest := c.baseURL[idx+3:]
			if slashIdx := strings.Index(rest, "/"); slashIdx != -1 {
				return c.baseURL[:idx+3] + rest[:slashIdx] + href
			}
		}
		return c.baseURL + href
	}
	return c.baseURL + "/" + href
}
