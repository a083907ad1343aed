package migration

import (
	"context"
	"encoding/json"

	"formsync/internal/errs"
	"formsync/internal/models"
)

// ValidationReport is the count/consistency snapshot produced by
// validate_migration. It is persisted on the run row either way; problems
// make the step fail terminally, nothing is auto-corrected.
type ValidationReport struct {
	Users          int      `json:"users"`
	Formations     int      `json:"formations"`
	Events         int      `json:"events"`
	ApprovedEvents int      `json:"approved_events"`
	CalendarEvents int      `json:"calendar_events"`
	OrphanEvents   int      `json:"orphan_events"`
	Problems       []string `json:"problems,omitempty"`
}

func (r *ValidationReport) encode() string {
	data, _ := json.Marshal(r)
	return string(data)
}

func (h *Handlers) ValidateMigration(ctx context.Context, job *models.Job) (string, error) {
	report, err := h.buildReport(ctx)
	if err != nil {
		return "", err
	}

	if len(report.Problems) > 0 {
		h.logger.Error().Str("report", report.encode()).Msg("migration validation failed")
		return report.encode(), &errs.ValidationError{Problems: report.Problems}
	}
	h.logger.Info().Str("report", report.encode()).Msg("migration validation passed")
	return report.encode(), nil
}

func (h *Handlers) buildReport(ctx context.Context) (*ValidationReport, error) {
	var report ValidationReport
	var err error

	if report.Users, err = h.store.CountUsers(ctx); err != nil {
		return nil, err
	}
	if report.Formations, err = h.store.CountFormations(ctx); err != nil {
		return nil, err
	}
	if report.Events, err = h.store.CountEvents(ctx); err != nil {
		return nil, err
	}
	if report.ApprovedEvents, err = h.store.CountApprovedEvents(ctx); err != nil {
		return nil, err
	}
	if report.CalendarEvents, err = h.store.CountCalendarEvents(ctx); err != nil {
		return nil, err
	}
	if report.OrphanEvents, err = h.store.CountOrphanEvents(ctx); err != nil {
		return nil, err
	}

	if report.Users == 0 {
		report.Problems = append(report.Problems, "no users were migrated")
	}
	if report.Formations == 0 {
		report.Problems = append(report.Problems, "no formations were migrated")
	}
	if report.Events == 0 {
		report.Problems = append(report.Problems, "no events were migrated")
	}
	if report.OrphanEvents > 0 {
		report.Problems = append(report.Problems,
			"events reference formations that were not migrated")
	}
	if report.ApprovedEvents != report.CalendarEvents {
		report.Problems = append(report.Problems,
			"approved event count does not match synced calendar events")
	}
	return &report, nil
}
