package calsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	GoogleProvider       = "google"
	defaultGoogleBaseURL = "https://www.googleapis.com/calendar/v3"
	googlePageSize       = 250
	maxPages             = 40
)

type GoogleConfig struct {
	BaseURL string
	Timeout time.Duration
	Retry   RetryConfig
}

// GoogleSource reads the Google Calendar v3 REST API with a bearer token.
// Recurring events are expanded by the provider (singleEvents=true).
type GoogleSource struct {
	httpClient *http.Client
	baseURL    string
	retry      RetryConfig
	logger     *slog.Logger
}

func NewGoogleSource(cfg GoogleConfig, logger *slog.Logger) *GoogleSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGoogleBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &GoogleSource{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		retry:      cfg.Retry.withDefaults(),
		logger:     logger.With("source", GoogleProvider),
	}
}

func (g *GoogleSource) Provider() string { return GoogleProvider }

func (g *GoogleSource) NeedsToken() bool { return true }

type googleCalendarList struct {
	Items []struct {
		ID              string `json:"id"`
		Summary         string `json:"summary"`
		SummaryOverride string `json:"summaryOverride"`
		BackgroundColor string `json:"backgroundColor"`
		Primary         bool   `json:"primary"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

type googleEventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

type googleEvents struct {
	Items []struct {
		ID          string          `json:"id"`
		Status      string          `json:"status"`
		Summary     string          `json:"summary"`
		Description string          `json:"description"`
		Location    string          `json:"location"`
		Start       googleEventTime `json:"start"`
		End         googleEventTime `json:"end"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// ListCalendars returns every calendar on the account's calendar list.
func (g *GoogleSource) ListCalendars(ctx context.Context, token string) ([]Calendar, error) {
	var calendars []Calendar
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("maxResults", "250")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var resp googleCalendarList
		if err := g.get(ctx, token, "", g.baseURL+"/users/me/calendarList?"+q.Encode(), &resp); err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			name := item.SummaryOverride
			if name == "" {
				name = item.Summary
			}
			calendars = append(calendars, Calendar{
				ID:          item.ID,
				DisplayName: name,
				Color:       item.BackgroundColor,
				IsPrimary:   item.Primary,
			})
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return calendars, nil
}

// ListEvents returns the non-cancelled events of calendarID overlapping
// [timeMin, timeMax).
func (g *GoogleSource) ListEvents(ctx context.Context, token, calendarID string, timeMin, timeMax time.Time) ([]RawEvent, error) {
	var events []RawEvent
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("timeMin", timeMin.UTC().Format(time.RFC3339))
		q.Set("timeMax", timeMax.UTC().Format(time.RFC3339))
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")
		q.Set("maxResults", fmt.Sprint(googlePageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		u := g.baseURL + "/calendars/" + url.PathEscape(calendarID) + "/events?" + q.Encode()

		var resp googleEvents
		if err := g.get(ctx, token, calendarID, u, &resp); err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			if item.Status == "cancelled" {
				continue
			}
			start, err := parseGoogleTime(item.Start)
			if err != nil {
				g.logger.Warn("skipping event with bad start", "calendar_id", calendarID, "external_id", item.ID, "error", err)
				continue
			}
			end, err := parseGoogleTime(item.End)
			if err != nil {
				g.logger.Warn("skipping event with bad end", "calendar_id", calendarID, "external_id", item.ID, "error", err)
				continue
			}
			title := item.Summary
			if strings.TrimSpace(title) == "" {
				title = PlaceholderTitle
			}
			events = append(events, RawEvent{
				ExternalID:  item.ID,
				Title:       title,
				Description: item.Description,
				Location:    item.Location,
				Start:       start,
				End:         end,
			})
		}

		g.logger.Debug("fetched page",
			"calendar_id", calendarID,
			"page", page,
			"events", len(resp.Items),
			"total", len(events),
		)

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return events, nil
}

func parseGoogleTime(t googleEventTime) (EventTime, error) {
	if t.Date != "" {
		if _, err := time.Parse(DateLayout, t.Date); err != nil {
			return EventTime{}, fmt.Errorf("parse date %q: %w", t.Date, err)
		}
		return EventTime{Date: t.Date}, nil
	}
	if t.DateTime == "" {
		return EventTime{}, nil
	}
	dt, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return EventTime{}, fmt.Errorf("parse date-time %q: %w", t.DateTime, err)
	}
	return EventTime{DateTime: dt.UTC()}, nil
}

// get performs a GET with retries. 401 maps to ErrAuthExpired and 404/410
// to ErrCalendarNotFound; neither is retried. 429, 5xx and transport
// errors are retried with exponential backoff.
func (g *GoogleSource) get(ctx context.Context, token, calendarID, u string, out any) error {
	return retry(ctx, g.retry, g.logger, func() error {
		return g.doRequest(ctx, token, calendarID, u, out)
	})
}

func (g *GoogleSource) doRequest(ctx context.Context, token, calendarID, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &FetchError{Provider: GoogleProvider, CalendarID: calendarID, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return permanent(&FetchError{Provider: GoogleProvider, CalendarID: calendarID, StatusCode: resp.StatusCode, Err: ErrAuthExpired})
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return permanent(&FetchError{Provider: GoogleProvider, CalendarID: calendarID, StatusCode: resp.StatusCode, Err: ErrCalendarNotFound})
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &FetchError{Provider: GoogleProvider, CalendarID: calendarID, StatusCode: resp.StatusCode, Err: errors.New(statusText(resp))}
	default:
		return permanent(&FetchError{Provider: GoogleProvider, CalendarID: calendarID, StatusCode: resp.StatusCode, Err: errors.New(statusText(resp))})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return permanent(&FetchError{Provider: GoogleProvider, CalendarID: calendarID, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)})
	}
	return nil
}

func statusText(resp *http.Response) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &body) == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return http.StatusText(resp.StatusCode)
}
