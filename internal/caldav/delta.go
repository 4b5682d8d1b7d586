package caldav

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
)

// ChangedEvent is one changed or new event returned by a delta listing.
type ChangedEvent struct {
	Href string `json:"href"`
	ETag string `json:"etag"`
	ICS  string `json:"ics,omitempty"`
}

// DeltaOutcome is the result of one delta listing. Stale marks a full
// PROPFIND downgrade: Token is empty, Deleted is nil, and Changed carries
// every current event resource.
type DeltaOutcome struct {
	Token   string         `json:"token"`
	Changed []ChangedEvent `json:"changed"`
	Deleted []string       `json:"deleted"`
	Stale   bool           `json:"stale"`
}

// errStaleToken marks a REPORT rejected because the sync token is no longer
// valid. Callers downgrade to a full listing; it never escapes this package.
var errStaleToken = errors.New("sync token is stale")

// XML structures for multistatus responses (PROPFIND and sync-collection
// REPORT share the shape).
type msMultistatus struct {
	XMLName   xml.Name     `xml:"DAV: multistatus"`
	Responses []msResponse `xml:"response"`
	SyncToken string       `xml:"sync-token"`
}

type msResponse struct {
	Href      string       `xml:"href"`
	PropStats []msPropstat `xml:"propstat"`
	Status    string       `xml:"status"`
}

type msPropstat struct {
	Prop   msProp `xml:"prop"`
	Status string `xml:"status"`
}

type msProp struct {
	GetETag     string `xml:"getetag"`
	ContentType string `xml:"getcontenttype"`
}

// etag returns the etag from the first successful propstat.
func (r msResponse) etag() string {
	for _, ps := range r.PropStats {
		if ps.Status == "" || strings.Contains(ps.Status, "200") {
			if ps.Prop.GetETag != "" {
				return strings.Trim(ps.Prop.GetETag, `"`)
			}
		}
	}
	return ""
}

func parseMultistatus(body []byte) (*msMultistatus, error) {
	var ms msMultistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("%w: failed to parse multistatus: %w", ErrInvalidResponse, err)
	}
	return &ms, nil
}

// SyncCollection issues the RFC 6578 sync-collection REPORT. An empty token
// sends an empty sync-token element, which servers answer with a fresh token
// and a listing of every resource; stale tokens surface as errStaleToken.
func (c *Client) SyncCollection(ctx context.Context, calendarHref, syncToken string) (*DeltaOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, "REPORT", c.buildURL(calendarHref),
		strings.NewReader(buildSyncCollectionRequest(syncToken)))
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

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusPreconditionFailed:
		io.Copy(io.Discard, resp.Body)
		return nil, errStaleToken
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: REPORT %s: status %d", ErrAuthFailed, calendarHref, resp.StatusCode)
	case resp.StatusCode != http.StatusMultiStatus:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: REPORT %s: status %d", ErrInvalidResponse, calendarHref, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return parseSyncCollectionResponse(body, calendarHref)
}

// ListEventsDelta lists changed events since the given sync token. When the
// token is stale, or the server hands back no replacement token, it
// downgrades to a full PROPFIND listing: every current event becomes a
// change and tombstones are unknowable. Changed entries come back with
// their iCalendar bodies attached.
func (c *Client) ListEventsDelta(ctx context.Context, calendarHref, syncToken string) (*DeltaOutcome, error) {
	outcome, err := c.SyncCollection(ctx, calendarHref, syncToken)
	switch {
	case errors.Is(err, errStaleToken):
		log.Printf("[caldav] sync token rejected, falling back to full listing")
		outcome, err = c.fullListing(ctx, calendarHref)
	case err == nil && outcome.Token == "":
		log.Printf("[caldav] sync-collection returned no token, falling back to full listing")
		outcome, err = c.fullListing(ctx, calendarHref)
	}
	if err != nil {
		return nil, err
	}

	for i := range outcome.Changed {
		ics, etag, err := c.GetEvent(ctx, outcome.Changed[i].Href)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Removed between the listing and the fetch; a later pass
				// observes the tombstone.
				continue
			}
			return nil, err
		}
		outcome.Changed[i].ICS = ics
		if etag != "" {
			outcome.Changed[i].ETag = etag
		}
	}
	return outcome, nil
}

// fullListing builds a stale DeltaOutcome from a PROPFIND listing.
func (c *Client) fullListing(ctx context.Context, calendarHref string) (*DeltaOutcome, error) {
	refs, err := c.ListEventHrefs(ctx, calendarHref)
	if err != nil {
		return nil, err
	}
	outcome := &DeltaOutcome{Stale: true, Changed: make([]ChangedEvent, 0, len(refs))}
	for _, ref := range refs {
		outcome.Changed = append(outcome.Changed, ChangedEvent{Href: ref.Href, ETag: ref.ETag})
	}
	return outcome, nil
}

func buildSyncCollectionRequest(syncToken string) string {
	tokenElement := "<D:sync-token/>"
	if syncToken != "" {
		tokenElement = fmt.Sprintf("<D:sync-token>%s</D:sync-token>", xmlEscape(syncToken))
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<D:sync-collection xmlns:D="DAV:">
  %s
  <D:sync-level>1</D:sync-level>
  <D:prop>
    <D:getetag/>
  </D:prop>
</D:sync-collection>`, tokenElement)
}

func parseSyncCollectionResponse(body []byte, calendarHref string) (*DeltaOutcome, error) {
	ms, err := parseMultistatus(body)
	if err != nil {
		return nil, err
	}

	outcome := &DeltaOutcome{
		Token:   ms.SyncToken,
		Changed: make([]ChangedEvent, 0, len(ms.Responses)),
		Deleted: make([]string, 0),
	}

	base := strings.TrimSuffix(calendarHref, "/")
	for _, r := range ms.Responses {
		href := decodeHref(r.Href)
		if href == base || href == base+"/" {
			continue
		}
		if strings.Contains(r.Status, "404") || strings.Contains(r.Status, "Not Found") {
			outcome.Deleted = append(outcome.Deleted, href)
			continue
		}
		outcome.Changed = append(outcome.Changed, ChangedEvent{Href: href, ETag: r.etag()})
	}
	return outcome, nil
}

// decodeHref unescapes an href so later requests do not double-encode it.
func decodeHref(href string) string {
	decoded, err := url.PathUnescape(href)
	if err != nil {
		return href
	}
	return decoded
}

func xmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
