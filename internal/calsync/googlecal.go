package calsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"formsync/internal/errs"
	"formsync/internal/google"
	"formsync/internal/metrics"
	"formsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/calendar/v3"
)

// GoogleProvider drives the Google Calendar API for one calendar.
type GoogleProvider struct {
	svc        *calendar.Service
	calendarID string
	limiter    *google.RateLimiter
	logger     zerolog.Logger
}

func NewGoogleProvider(svc *calendar.Service, calendarID string, limiter *google.RateLimiter, logger zerolog.Logger) *GoogleProvider {
	return &GoogleProvider{
		svc:        svc,
		calendarID: calendarID,
		limiter:    limiter,
		logger:     logger.With().Str("component", "calendar").Logger(),
	}
}

func (p *GoogleProvider) Create(ctx context.Context, event *models.Event) (*ProviderEvent, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := toProviderEvent(event)
	// Request a Meet conference on creation; the link comes back in the
	// conference entry points.
	body.ConferenceData = &calendar.ConferenceData{
		CreateRequest: &calendar.CreateConferenceRequest{
			RequestId: uuid.NewString(),
			ConferenceSolutionKey: &calendar.ConferenceSolutionKey{
				Type: "hangoutsMeet",
			},
		},
	}

	created, err := p.svc.Events.Insert(p.calendarID, body).
		ConferenceDataVersion(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, p.wrap("create event", err)
	}
	metrics.IncProviderCall("calendar", "ok")
	return fromProviderEvent(created)
}

func (p *GoogleProvider) Update(ctx context.Context, providerEventID string, event *models.Event) (*ProviderEvent, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	updated, err := p.svc.Events.Update(p.calendarID, providerEventID, toProviderEvent(event)).
		Context(ctx).
		Do()
	if err != nil {
		if google.IsNotFound(err) {
			metrics.IncProviderCall("calendar", "not_found")
			return nil, err
		}
		return nil, p.wrap("update event", err)
	}
	metrics.IncProviderCall("calendar", "ok")
	return fromProviderEvent(updated)
}

func (p *GoogleProvider) wrap(op string, err error) error {
	metrics.IncProviderCall("calendar", "error")
	wrapped := google.WrapError(op, err)
	var rle *errs.RateLimitError
	if errors.As(wrapped, &rle) {
		p.limiter.RecordRateLimit(rle.RetryAfter)
	}
	return wrapped
}

func toProviderEvent(event *models.Event) *calendar.Event {
	return &calendar.Event{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
		Start: &calendar.EventDateTime{
			DateTime: event.StartsAt.Format(time.RFC3339),
		},
		End: &calendar.EventDateTime{
			DateTime: event.EndsAt.Format(time.RFC3339),
		},
	}
}

func fromProviderEvent(ev *calendar.Event) (*ProviderEvent, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &ProviderEvent{
		ID:       ev.Id,
		HTMLLink: ev.HtmlLink,
		MeetLink: ev.HangoutLink,
		Raw:      string(raw),
	}, nil
}
