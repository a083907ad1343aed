// Package calsync maps internal event records onto external calendar
// events. Sync is idempotent: the provider event id stored per internal
// event is the sync key, and it is persisted the moment the provider
// confirms creation.
package calsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"formsync/internal/google"
	"formsync/internal/models"
	"formsync/internal/store"

	"github.com/rs/zerolog"
)

// ProviderEvent is the provider's view of a created or updated event.
type ProviderEvent struct {
	ID       string
	HTMLLink string
	MeetLink string
	Raw      string
}

// Provider is the external calendar surface the engine drives.
type Provider interface {
	Create(ctx context.Context, event *models.Event) (*ProviderEvent, error)
	Update(ctx context.Context, providerEventID string, event *models.Event) (*ProviderEvent, error)
}

type Engine struct {
	store    *store.Store
	provider Provider
	logger   zerolog.Logger
}

func NewEngine(st *store.Store, provider Provider, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    st,
		provider: provider,
		logger:   logger.With().Str("component", "calsync").Logger(),
	}
}

// Sync brings the provider-side copy of one internal event up to date.
// Unchanged events cost no provider call; changed events are updated by
// their stored provider id; events never synced (or deleted externally)
// are created.
func (e *Engine) Sync(ctx context.Context, event *models.Event) (*models.CalendarEvent, error) {
	existing, err := e.store.GetCalendarEventByRef(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		return e.create(ctx, event)
	}

	if !e.changed(existing, event) {
		e.logger.Debug().Int64("event_id", event.ID).Str("provider_event_id", existing.ProviderEventID).Msg("event unchanged, skipping")
		return existing, nil
	}

	updated, err := e.provider.Update(ctx, existing.ProviderEventID, event)
	if err != nil {
		if google.IsNotFound(err) {
			// Deleted on the provider side; forget the stale id and fall
			// back to the create path.
			e.logger.Warn().Int64("event_id", event.ID).Str("provider_event_id", existing.ProviderEventID).Msg("provider event gone, recreating")
			if err := e.store.DeleteCalendarEvent(ctx, event.ID); err != nil {
				return nil, err
			}
			return e.create(ctx, event)
		}
		return nil, fmt.Errorf("update provider event: %w", err)
	}

	existing.ProviderEventID = updated.ID
	existing.HTMLLink = updated.HTMLLink
	existing.MeetLink = updated.MeetLink
	existing.RawPayload = updated.Raw
	if err := e.store.UpsertCalendarEvent(ctx, existing); err != nil {
		return nil, fmt.Errorf("persist updated calendar event: %w", err)
	}
	e.logger.Info().Int64("event_id", event.ID).Str("provider_event_id", updated.ID).Msg("calendar event updated")
	return existing, nil
}

// create calls the provider and persists the provider event id before
// returning. This ordering narrows the duplicate window: a crash between
// the provider call and the write is the only gap left, and nothing else
// is written in between.
func (e *Engine) create(ctx context.Context, event *models.Event) (*models.CalendarEvent, error) {
	created, err := e.provider.Create(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("create provider event: %w", err)
	}

	ce := &models.CalendarEvent{
		InternalEventRef: event.ID,
		ProviderEventID:  created.ID,
		HTMLLink:         created.HTMLLink,
		MeetLink:         created.MeetLink,
		RawPayload:       created.Raw,
	}
	if err := e.store.UpsertCalendarEvent(ctx, ce); err != nil {
		return nil, fmt.Errorf("persist calendar event link: %w", err)
	}
	e.logger.Info().Int64("event_id", event.ID).Str("provider_event_id", created.ID).Msg("calendar event created")
	return ce, nil
}

// payloadFields are the mutable fields diffed against the stored payload.
type payloadFields struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Start       struct {
		DateTime string `json:"dateTime"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
	} `json:"end"`
}

func (e *Engine) changed(stored *models.CalendarEvent, event *models.Event) bool {
	var fields payloadFields
	if err := json.Unmarshal([]byte(stored.RawPayload), &fields); err != nil {
		// Unreadable payload: force an update to re-establish a known state.
		return true
	}
	if fields.Summary != event.Title ||
		fields.Description != event.Description ||
		fields.Location != event.Location {
		return true
	}
	return !sameInstant(fields.Start.DateTime, event.StartsAt) ||
		!sameInstant(fields.End.DateTime, event.EndsAt)
}

// sameInstant compares a provider timestamp with an internal one by
// instant, tolerating offset notation differences.
func sameInstant(provider string, internal time.Time) bool {
	parsed, err := time.Parse(time.RFC3339, provider)
	if err != nil {
		return false
	}
	return parsed.Equal(internal)
}
