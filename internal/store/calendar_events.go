package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"formsync/internal/models"
)

// GetCalendarEventByRef looks up the provider-side copy of an internal
// event. Returns (nil, nil) when the event has never been synced.
func (s *Store) GetCalendarEventByRef(ctx context.Context, internalEventRef int64) (*models.CalendarEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, internal_event_ref, provider_event_id, html_link, meet_link, raw_payload, updated_at
         FROM calendar_events WHERE internal_event_ref = ?`, internalEventRef)

	var ce models.CalendarEvent
	var htmlLink, meetLink, rawPayload sql.NullString
	err := row.Scan(&ce.ID, &ce.InternalEventRef, &ce.ProviderEventID,
		&htmlLink, &meetLink, &rawPayload, &ce.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calendar event: %w", err)
	}
	ce.HTMLLink = htmlLink.String
	ce.MeetLink = meetLink.String
	ce.RawPayload = rawPayload.String
	return &ce, nil
}

// UpsertCalendarEvent persists the provider event id and payload for an
// internal event. The UNIQUE constraint on internal_event_ref keeps the
// at-most-one-row invariant.
func (s *Store) UpsertCalendarEvent(ctx context.Context, ce *models.CalendarEvent) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_events (internal_event_ref, provider_event_id, html_link, meet_link, raw_payload, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(internal_event_ref) DO UPDATE SET
            provider_event_id = excluded.provider_event_id,
            html_link = excluded.html_link,
            meet_link = excluded.meet_link,
            raw_payload = excluded.raw_payload,
            updated_at = excluded.updated_at`,
		ce.InternalEventRef, ce.ProviderEventID, ce.HTMLLink, ce.MeetLink, ce.RawPayload, now)
	if err != nil {
		return fmt.Errorf("failed to upsert calendar event: %w", err)
	}
	ce.UpdatedAt = now
	return nil
}

// DeleteCalendarEvent drops the stored link so the next sync takes the
// create path again. Used when the provider reports the event gone.
func (s *Store) DeleteCalendarEvent(ctx context.Context, internalEventRef int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM calendar_events WHERE internal_event_ref = ?`, internalEventRef)
	if err != nil {
		return fmt.Errorf("failed to delete calendar event: %w", err)
	}
	return nil
}

func (s *Store) CountCalendarEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calendar_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count calendar events: %w", err)
	}
	return n, nil
}
