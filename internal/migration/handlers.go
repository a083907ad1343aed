// Package migration holds the job handlers for the five routed migration
// steps and the orchestrator that sequences them.
package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"formsync/internal/calsync"
	"formsync/internal/config"
	"formsync/internal/errs"
	"formsync/internal/extract"
	"formsync/internal/models"
	"formsync/internal/queue"
	"formsync/internal/store"

	"github.com/rs/zerolog"
)

// Worksheet titles in the legacy workbook.
const (
	worksheetUsuarios  = "Usuarios"
	worksheetFormacoes = "Formacoes"
	worksheetEventos   = "Eventos"
)

// Handlers implements the routed jobs. Each migrate step extracts its
// worksheet, transforms rows and upserts by natural key inside one
// transaction, so re-running after a crash is safe.
type Handlers struct {
	store      *store.Store
	source     extract.Source
	engine     *calsync.Engine
	documentID string
	loc        *time.Location
	logger     zerolog.Logger
}

func NewHandlers(st *store.Store, source extract.Source, engine *calsync.Engine, documentID string, loc *time.Location, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:      st,
		source:     source,
		engine:     engine,
		documentID: documentID,
		loc:        loc,
		logger:     logger.With().Str("component", "migration").Logger(),
	}
}

// Register installs the static routing table: job name to queue, limits
// and handler.
func (h *Handlers) Register(registry *queue.Registry, cfg config.QueuesConfig) error {
	routes := []queue.Registration{
		{Name: models.JobMigrateUsuarios, Queue: models.QueueMigration, Handler: h.MigrateUsuarios},
		{Name: models.JobMigrateFormacoes, Queue: models.QueueMigrationHeavy, Handler: h.MigrateFormacoes},
		{Name: models.JobMigrateEventos, Queue: models.QueueMigration, Handler: h.MigrateEventos},
		{Name: models.JobSyncCalendar, Queue: models.QueueGoogleSync, Handler: h.SyncGoogleCalendar},
		{Name: models.JobValidateMigration, Queue: models.QueueValidation, Handler: h.ValidateMigration},
	}
	for _, route := range routes {
		route.MaxRetries = cfg.MaxRetries
		route.SoftLimit = cfg.SoftTimeLimit
		route.HardLimit = cfg.HardTimeLimit
		if err := registry.Register(route); err != nil {
			return err
		}
	}
	return registry.RegisterPing(cfg.MaxRetries, cfg.SoftTimeLimit, cfg.HardTimeLimit)
}

type stepResult struct {
	Worksheet string `json:"worksheet,omitempty"`
	Rows      int    `json:"rows"`
	Upserted  int    `json:"upserted"`
	Skipped   int    `json:"skipped"`
}

func (r stepResult) encode() string {
	data, _ := json.Marshal(r)
	return string(data)
}

func (h *Handlers) MigrateUsuarios(ctx context.Context, job *models.Job) (string, error) {
	ws, err := h.worksheet(ctx, worksheetUsuarios)
	if err != nil {
		return "", err
	}

	emailCol := columnIndex(ws, "email")
	nameCol := columnIndex(ws, "nome")
	phoneCol := columnIndex(ws, "telefone")
	roleCol := columnIndex(ws, "perfil")
	if emailCol < 0 || nameCol < 0 {
		return "", fmt.Errorf("worksheet %s is missing email/nome columns", ws.Title)
	}

	result := stepResult{Worksheet: ws.Title, Rows: ws.RowCount}
	err = h.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, row := range ws.Rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			email := strings.ToLower(cell(row, emailCol))
			if email == "" {
				result.Skipped++
				continue
			}
			user := &models.User{
				Email:    email,
				FullName: cell(row, nameCol),
				Phone:    cell(row, phoneCol),
				Role:     strings.ToLower(cell(row, roleCol)),
			}
			if err := h.store.UpsertUser(ctx, tx, user); err != nil {
				return err
			}
			result.Upserted++
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return result.encode(), nil
}

func (h *Handlers) MigrateFormacoes(ctx context.Context, job *models.Job) (string, error) {
	ws, err := h.worksheet(ctx, worksheetFormacoes)
	if err != nil {
		return "", err
	}

	codeCol := columnIndex(ws, "codigo")
	titleCol := columnIndex(ws, "titulo")
	descCol := columnIndex(ws, "descricao")
	hoursCol := columnIndex(ws, "carga horaria")
	if codeCol < 0 || titleCol < 0 {
		return "", fmt.Errorf("worksheet %s is missing codigo/titulo columns", ws.Title)
	}

	result := stepResult{Worksheet: ws.Title, Rows: ws.RowCount}
	err = h.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, row := range ws.Rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			code := strings.ToUpper(cell(row, codeCol))
			if code == "" {
				result.Skipped++
				continue
			}
			hours, _ := strconv.Atoi(strings.TrimSpace(cell(row, hoursCol)))
			formation := &models.Formation{
				Code:          code,
				Title:         cell(row, titleCol),
				Description:   cell(row, descCol),
				WorkloadHours: hours,
			}
			if err := h.store.UpsertFormation(ctx, tx, formation); err != nil {
				return err
			}
			result.Upserted++
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return result.encode(), nil
}

func (h *Handlers) MigrateEventos(ctx context.Context, job *models.Job) (string, error) {
	ws, err := h.worksheet(ctx, worksheetEventos)
	if err != nil {
		return "", err
	}

	codeCol := columnIndex(ws, "codigo")
	formationCol := columnIndex(ws, "formacao")
	titleCol := columnIndex(ws, "titulo")
	descCol := columnIndex(ws, "descricao")
	locationCol := columnIndex(ws, "local")
	startCol := columnIndex(ws, "inicio")
	endCol := columnIndex(ws, "fim")
	statusCol := columnIndex(ws, "status")
	if codeCol < 0 || titleCol < 0 || startCol < 0 || endCol < 0 {
		return "", fmt.Errorf("worksheet %s is missing codigo/titulo/inicio/fim columns", ws.Title)
	}

	result := stepResult{Worksheet: ws.Title, Rows: ws.RowCount}
	err = h.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i, row := range ws.Rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			code := strings.ToUpper(cell(row, codeCol))
			if code == "" {
				result.Skipped++
				continue
			}
			startsAt, err := h.parseTimestamp(cell(row, startCol))
			if err != nil {
				return fmt.Errorf("row %d: bad inicio: %w", i+1, err)
			}
			endsAt, err := h.parseTimestamp(cell(row, endCol))
			if err != nil {
				return fmt.Errorf("row %d: bad fim: %w", i+1, err)
			}
			event := &models.Event{
				Code:          code,
				FormationCode: strings.ToUpper(cell(row, formationCol)),
				Title:         cell(row, titleCol),
				Description:   cell(row, descCol),
				Location:      cell(row, locationCol),
				StartsAt:      startsAt,
				EndsAt:        endsAt,
				Status:        eventStatus(cell(row, statusCol)),
			}
			if err := h.store.UpsertEvent(ctx, tx, event); err != nil {
				return err
			}
			result.Upserted++
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return result.encode(), nil
}

// SyncGoogleCalendar pushes every approved event through the idempotent
// sync engine. Already-synced, unchanged events cost no provider call, so
// re-running after a partial failure only finishes the remainder.
func (h *Handlers) SyncGoogleCalendar(ctx context.Context, job *models.Job) (string, error) {
	events, err := h.store.ListApprovedEvents(ctx)
	if err != nil {
		return "", err
	}

	synced := 0
	for i := range events {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if _, err := h.engine.Sync(ctx, &events[i]); err != nil {
			return "", fmt.Errorf("sync event %s: %w", events[i].Code, err)
		}
		synced++
	}

	result := stepResult{Rows: len(events), Upserted: synced}
	return result.encode(), nil
}

// worksheet extracts the document and selects one worksheet by title. A
// partial extraction is acceptable as long as the needed worksheet is in
// the successful part.
func (h *Handlers) worksheet(ctx context.Context, title string) (*models.Worksheet, error) {
	worksheets, err := h.source.Extract(ctx, h.documentID)
	if err != nil {
		var pe *errs.PartialExtractionError
		if !errors.As(err, &pe) {
			return nil, err
		}
		if failure, ok := pe.Failed[title]; ok {
			return nil, fmt.Errorf("worksheet %s failed to extract: %w", title, failure)
		}
		h.logger.Warn().Err(err).Str("worksheet", title).Msg("partial extraction, needed worksheet succeeded")
	}
	for i := range worksheets {
		if strings.EqualFold(worksheets[i].Title, title) {
			return &worksheets[i], nil
		}
	}
	return nil, fmt.Errorf("worksheet %s not found in document", title)
}

// timestampLayouts are tried in order, all in the configured timezone.
var timestampLayouts = []string{
	"02/01/2006 15:04",
	"02/01/2006",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

func (h *Handlers) parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, h.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// eventStatus maps normalized workbook markers onto event statuses.
func eventStatus(value string) string {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "APROVADO", "VERDE", "SIM":
		return models.EventApproved
	case "CANCELADO", "VERMELHO", "NAO":
		return models.EventCancelled
	default:
		return models.EventDraft
	}
}

func columnIndex(ws *models.Worksheet, name string) int {
	for i, header := range ws.Headers {
		if strings.EqualFold(strings.TrimSpace(header), name) {
			return i
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
