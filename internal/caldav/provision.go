package caldav

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
)

// CalendarInfo describes the target calendar collection after provisioning.
type CalendarInfo struct {
	Href     string `json:"href"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Timezone string `json:"timezone"`
}

// EnsureCalendar locates the calendar with the given display name under the
// account's calendar home, creating it with MKCALENDAR when absent. The
// returned info carries the server's reported color and timezone when the
// server exposes them.
func (c *Client) EnsureCalendar(ctx context.Context, name, color string) (*CalendarInfo, error) {
	principal, err := c.dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find principal: %w", ErrConnectionFailed, err)
	}

	homeSet, err := c.dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find calendar home set: %w", ErrConnectionFailed, err)
	}

	calendars, err := c.dav.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list calendars: %w", ErrConnectionFailed, err)
	}

	for _, cal := range calendars {
		if cal.Name != name {
			continue
		}
		info := &CalendarInfo{Href: cal.Path, Name: cal.Name}
		if remoteColor, remoteTZ, err := c.CalendarProperties(ctx, cal.Path); err == nil {
			info.Color = remoteColor
			info.Timezone = remoteTZ
		} else {
			log.Printf("[caldav] failed to read calendar properties for %s: %v", cal.Path, err)
		}
		return info, nil
	}

	href := strings.TrimSuffix(homeSet, "/") + "/" + calendarSlug(name) + "/"
	if err := c.makeCalendar(ctx, href, name, color); err != nil {
		return nil, err
	}
	log.Printf("[caldav] created calendar %q at %s", name, href)
	return &CalendarInfo{Href: href, Name: name, Color: NormalizeColor(color)}, nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// calendarSlug derives a collection segment from a display name.
func calendarSlug(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "calendar"
	}
	return slug
}

// makeCalendar issues MKCALENDAR with a display name and Apple-style color.
func (c *Client) makeCalendar(ctx context.Context, href, name, color string) error {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<C:mkcalendar xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav" xmlns:I="http://apple.com/ns/ical/">
  <D:set>
    <D:prop>
      <D:displayname>%s</D:displayname>
      <I:calendar-color>%s</I:calendar-color>
    </D:prop>
  </D:set>
</C:mkcalendar>`, xmlEscape(name), xmlEscape(appleColor(color)))

	req, err := http.NewRequestWithContext(ctx, "MKCALENDAR", c.buildURL(href), strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", contentTypeXML)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: MKCALENDAR %s: status %d", ErrInvalidResponse, href, resp.StatusCode)
	}
	return nil
}

// calendarPropsXML models the PROPFIND Depth:0 response for calendar-color
// and calendar-timezone.
type calendarPropsXML struct {
	XMLName   xml.Name `xml:"DAV: multistatus"`
	Responses []struct {
		PropStats []struct {
			Prop struct {
				Color    string `xml:"http://apple.com/ns/ical/ calendar-color"`
				Timezone string `xml:"urn:ietf:params:xml:ns:caldav calendar-timezone"`
			} `xml:"prop"`
			Status string `xml:"status"`
		} `xml:"propstat"`
	} `xml:"response"`
}

// CalendarProperties reads the calendar's color and timezone via PROPFIND
// Depth:0. The timezone comes back as an IANA name extracted from the
// calendar-timezone VTIMEZONE payload.
func (c *Client) CalendarProperties(ctx context.Context, calendarHref string) (string, string, error) {
	const body = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav" xmlns:I="http://apple.com/ns/ical/">
  <D:prop>
    <I:calendar-color/>
    <C:calendar-timezone/>
  </D:prop>
</D:propfind>`

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", c.buildURL(calendarHref), strings.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", contentTypeXML)
	req.Header.Set("Depth", "0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: PROPFIND %s: status %d", ErrInvalidResponse, calendarHref, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read response: %w", err)
	}

	var props calendarPropsXML
	if err := xml.Unmarshal(raw, &props); err != nil {
		return "", "", fmt.Errorf("%w: failed to parse properties: %w", ErrInvalidResponse, err)
	}

	var color, timezone string
	for _, r := range props.Responses {
		for _, ps := range r.PropStats {
			if ps.Status != "" && !strings.Contains(ps.Status, "200") {
				continue
			}
			if ps.Prop.Color != "" {
				color = NormalizeColor(ps.Prop.Color)
			}
			if ps.Prop.Timezone != "" {
				timezone = timezoneFromVTimezone(ps.Prop.Timezone)
			}
		}
	}
	return color, timezone, nil
}

// SetCalendarColor applies a color to the calendar collection via PROPPATCH
// on the Apple calendar-color property.
func (c *Client) SetCalendarColor(ctx context.Context, calendarHref, color string) error {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<D:propertyupdate xmlns:D="DAV:" xmlns:I="http://apple.com/ns/ical/">
  <D:set>
    <D:prop>
      <I:calendar-color>%s</I:calendar-color>
    </D:prop>
  </D:set>
</D:propertyupdate>`, xmlEscape(appleColor(color)))

	req, err := http.NewRequestWithContext(ctx, "PROPPATCH", c.buildURL(calendarHref), strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", contentTypeXML)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: PROPPATCH %s: status %d", ErrInvalidResponse, calendarHref, resp.StatusCode)
	}
	return nil
}

var hexColorPattern = regexp.MustCompile(`^#?([0-9a-fA-F]{6})([0-9a-fA-F]{2})?$`)

// NormalizeColor canonicalizes a color value to #RRGGBB. Apple servers
// report 8-hex #RRGGBBAA values; the alpha byte is dropped. Values that do
// not look like hex colors pass through unchanged.
func NormalizeColor(color string) string {
	m := hexColorPattern.FindStringSubmatch(strings.TrimSpace(color))
	if m == nil {
		return strings.TrimSpace(color)
	}
	return "#" + strings.ToUpper(m[1])
}

// appleColor renders a color in the 8-hex #RRGGBBAA form Apple servers
// expect, appending an opaque alpha byte.
func appleColor(color string) string {
	m := hexColorPattern.FindStringSubmatch(strings.TrimSpace(color))
	if m == nil {
		return strings.TrimSpace(color)
	}
	return "#" + strings.ToUpper(m[1]) + "FF"
}

// timezoneFromVTimezone pulls a zone name out of a calendar-timezone
// payload, preferring X-WR-TIMEZONE over the first TZID line.
func timezoneFromVTimezone(payload string) string {
	var tzid string
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if value, ok := strings.CutPrefix(line, "X-WR-TIMEZONE:"); ok {
			return strings.TrimSpace(value)
		}
		if value, ok := strings.CutPrefix(line, "TZID:"); ok && tzid == "" {
			tzid = strings.TrimSpace(value)
		}
	}
	return tzid
}
