package calsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

const (
	ICSProvider     = "ics"
	maxICSBodyBytes = 10 << 20
)

// Feed is a configured iCalendar subscription.
type Feed struct {
	ID    string
	Name  string
	URL   string
	Color string
}

type ICSConfig struct {
	Timeout time.Duration
	Retry   RetryConfig
}

// ICSSource serves configured iCalendar feeds as calendars. Feeds are
// public URLs, so no token is needed. Recurring VEVENTs contribute only
// their first instance.
type ICSSource struct {
	httpClient *http.Client
	feeds      []Feed
	retry      RetryConfig
	logger     *slog.Logger
}

func NewICSSource(feeds []Feed, cfg ICSConfig, logger *slog.Logger) *ICSSource {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &ICSSource{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		feeds:      feeds,
		retry:      cfg.Retry.withDefaults(),
		logger:     logger.With("source", ICSProvider),
	}
}

func (s *ICSSource) Provider() string { return ICSProvider }

func (s *ICSSource) NeedsToken() bool { return false }

func (s *ICSSource) ListCalendars(ctx context.Context, _ string) ([]Calendar, error) {
	calendars := make([]Calendar, 0, len(s.feeds))
	for _, f := range s.feeds {
		name := f.Name
		if name == "" {
			name = f.ID
		}
		calendars = append(calendars, Calendar{ID: f.ID, DisplayName: name, Color: f.Color})
	}
	return calendars, nil
}

func (s *ICSSource) feed(id string) (Feed, bool) {
	for _, f := range s.feeds {
		if f.ID == id {
			return f, true
		}
	}
	return Feed{}, false
}

// ListEvents downloads the feed and returns the VEVENTs overlapping
// [timeMin, timeMax).
func (s *ICSSource) ListEvents(ctx context.Context, _ string, calendarID string, timeMin, timeMax time.Time) ([]RawEvent, error) {
	f, ok := s.feed(calendarID)
	if !ok {
		return nil, &FetchError{Provider: ICSProvider, CalendarID: calendarID, Err: ErrCalendarNotFound}
	}

	var body []byte
	err := retry(ctx, s.retry, s.logger, func() error {
		var err error
		body, err = s.fetch(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}

	cal, err := ical.ParseCalendar(strings.NewReader(string(body)))
	if err != nil {
		return nil, &FetchError{Provider: ICSProvider, CalendarID: calendarID, Err: fmt.Errorf("parse feed: %w", err)}
	}

	var events []RawEvent
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			s.logger.Warn("skipping vevent", "calendar_id", calendarID, "error", err)
			continue
		}
		if !overlaps(ev, timeMin, timeMax) {
			continue
		}
		events = append(events, ev)
	}

	s.logger.Debug("ics feed parsed", "calendar_id", calendarID, "events", len(events))
	return events, nil
}

func (s *ICSSource) fetch(ctx context.Context, f Feed) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Provider: ICSProvider, CalendarID: f.ID, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, permanent(&FetchError{Provider: ICSProvider, CalendarID: f.ID, StatusCode: resp.StatusCode, Err: ErrCalendarNotFound})
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &FetchError{Provider: ICSProvider, CalendarID: f.ID, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	default:
		return nil, permanent(&FetchError{Provider: ICSProvider, CalendarID: f.ID, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxICSBodyBytes))
	if err != nil {
		return nil, &FetchError{Provider: ICSProvider, CalendarID: f.ID, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(body) == 0 {
		return nil, permanent(&FetchError{Provider: ICSProvider, CalendarID: f.ID, Err: errors.New("empty ICS body")})
	}
	return body, nil
}

func parseVEvent(ve *ical.VEvent) (RawEvent, error) {
	var out RawEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.ExternalID = uidProp.Value
	// Overrides of a recurring series share the UID.
	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil && rid.Value != "" {
		out.ExternalID += "_" + rid.Value
	}

	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return out, fmt.Errorf("event %s is cancelled", out.ExternalID)
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if strings.TrimSpace(out.Title) == "" {
		out.Title = PlaceholderTitle
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, fmt.Errorf("event %s: missing DTSTART", out.ExternalID)
	}
	if isDateValue(startProp) {
		d, err := parseICSDate(startProp.Value)
		if err != nil {
			return out, fmt.Errorf("event %s: %w", out.ExternalID, err)
		}
		out.Start = EventTime{Date: d}
		if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
			if d, err := parseICSDate(endProp.Value); err == nil {
				out.End = EventTime{Date: d}
			}
		}
		return out, nil
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("event %s: parse DTSTART: %w", out.ExternalID, err)
	}
	out.Start = EventTime{DateTime: start.UTC()}
	end, err := ve.GetEndAt()
	if err != nil {
		end = start
	}
	out.End = EventTime{DateTime: end.UTC()}
	return out, nil
}

// isDateValue detects VALUE=DATE or a value with no time part.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func parseICSDate(v string) (string, error) {
	d, err := time.Parse("20060102", strings.TrimSpace(v))
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", v, err)
	}
	return d.Format(DateLayout), nil
}

func overlaps(ev RawEvent, timeMin, timeMax time.Time) bool {
	start, err := ev.Start.Instant()
	if err != nil {
		return false
	}
	end := start
	if !ev.End.IsZero() {
		if e, err := ev.End.Instant(); err == nil {
			end = e
		}
	}
	if ev.Start.IsDate() && !end.After(start) {
		end = start.Add(24 * time.Hour)
	}
	if end.Equal(start) {
		return !start.Before(timeMin) && start.Before(timeMax)
	}
	return start.Before(timeMax) && end.After(timeMin)
}
