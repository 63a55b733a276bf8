package reconcile

import (
	"fmt"
	"strings"
	"time"
)

// FailureKind classifies a failure scoped to one calendar or one event.
type FailureKind string

const (
	// KindAuthExpired: the provider rejected the household's token. The
	// household must reconnect; the token is not retried.
	KindAuthExpired FailureKind = "auth_expired"
	// KindSourceFetchFailed: one calendar could not be fetched.
	KindSourceFetchFailed FailureKind = "source_fetch_failed"
	// KindWriteFailed: the store rejected a create or update for one event.
	KindWriteFailed FailureKind = "write_failed"
	// KindTimeout: a fetch or write exceeded its bound.
	KindTimeout FailureKind = "timeout"
	// KindInvalidEvent: an upstream event could not be translated.
	KindInvalidEvent FailureKind = "invalid_event"
)

type Failure struct {
	Kind       FailureKind `json:"kind"`
	Provider   string      `json:"provider,omitempty"`
	CalendarID string      `json:"calendar_id,omitempty"`
	ExternalID string      `json:"external_id,omitempty"`
	Message    string      `json:"message"`
	Err        error       `json:"-"`
}

// Result summarises one reconciliation run. A run never fails as a whole;
// failures are listed per calendar or per event.
type Result struct {
	RunID          string    `json:"run_id"`
	HouseholdID    int64     `json:"household_id"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	Calendars      int       `json:"calendars"`
	Fetched        int       `json:"fetched"`
	Created        int       `json:"created"`
	Updated        int       `json:"updated"`
	Skipped        int       `json:"skipped"`
	Failed         int       `json:"failed"`
	Failures       []Failure `json:"failures,omitempty"`
	NeedsReconnect bool      `json:"needs_reconnect"`
}

func (r *Result) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Writes is the number of store mutations the run performed.
func (r *Result) Writes() int {
	return r.Created + r.Updated
}

// Succeeded reports whether every selected calendar was reconciled
// without a failure.
func (r *Result) Succeeded() bool {
	return len(r.Failures) == 0
}

// Summary is a one-line description of the run's failures, empty when
// there were none.
func (r *Result) Summary() string {
	if len(r.Failures) == 0 {
		return ""
	}
	counts := make(map[FailureKind]int)
	var order []FailureKind
	for _, f := range r.Failures {
		if counts[f.Kind] == 0 {
			order = append(order, f.Kind)
		}
		counts[f.Kind]++
	}
	parts := make([]string, 0, len(order))
	for _, k := range order {
		parts = append(parts, fmt.Sprintf("%d %s", counts[k], k))
	}
	return strings.Join(parts, ", ")
}

func (r *Result) addFailure(f Failure) {
	if f.Err != nil && f.Message == "" {
		f.Message = f.Err.Error()
	}
	r.Failures = append(r.Failures, f)
	if f.Kind == KindAuthExpired {
		r.NeedsReconnect = true
	}
}
