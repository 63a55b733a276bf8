package model

import "time"

// CalendarSelection is one external calendar a household has chosen to mirror,
// together with the local context the provider cannot know about.
type CalendarSelection struct {
	ID             int64     `json:"id"`
	HouseholdID    int64     `json:"household_id"`
	Provider       string    `json:"provider"`
	CalendarID     string    `json:"calendar_id"`
	DisplayName    string    `json:"display_name"`
	FamilyMemberID *int64    `json:"family_member_id"`
	Color          string    `json:"color"`
	CreatedAt      time.Time `json:"created_at"`
}

// CalendarConnection is a household's stored credential for a provider.
// The access token is never serialized.
type CalendarConnection struct {
	HouseholdID   int64      `json:"household_id"`
	Provider      string     `json:"provider"`
	AccessToken   string     `json:"-"`
	ConnectedAt   time.Time  `json:"connected_at"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
}

// NeedsReconnect reports whether the provider rejected the stored token.
func (c *CalendarConnection) NeedsReconnect() bool {
	return c.InvalidatedAt != nil
}
