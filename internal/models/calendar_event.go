package models

import "time"

// CalendarEvent links an internal event record to its provider-side copy.
// At most one row exists per InternalEventRef; ProviderEventID is the sync
// key and is persisted immediately after the provider confirms creation.
type CalendarEvent struct {
	ID               int64     `json:"id"`
	InternalEventRef int64     `json:"internal_event_ref"`
	ProviderEventID  string    `json:"provider_event_id"`
	HTMLLink         string    `json:"html_link"`
	MeetLink         string    `json:"meet_link"`
	RawPayload       string    `json:"raw_payload"`
	UpdatedAt        time.Time `json:"updated_at"`
}
