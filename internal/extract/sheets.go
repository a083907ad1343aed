package extract

import (
	"context"
	"errors"
	"fmt"

	"formsync/internal/errs"
	"formsync/internal/google"
	"formsync/internal/metrics"
	"formsync/internal/models"

	"github.com/rs/zerolog"
	"google.golang.org/api/sheets/v4"
)

const defaultPageSize = 1000

// SheetsSource extracts worksheets from a live spreadsheet through the
// Sheets API, reading rows in fixed-size chunks.
type SheetsSource struct {
	svc      *sheets.Service
	limiter  *google.RateLimiter
	logger   zerolog.Logger
	pageSize int64
}

func NewSheetsSource(svc *sheets.Service, limiter *google.RateLimiter, logger zerolog.Logger) *SheetsSource {
	return &SheetsSource{
		svc:      svc,
		limiter:  limiter,
		logger:   logger.With().Str("component", "extract").Logger(),
		pageSize: defaultPageSize,
	}
}

func (s *SheetsSource) Extract(ctx context.Context, documentID string) ([]models.Worksheet, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	meta, err := s.svc.Spreadsheets.Get(documentID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		metrics.IncProviderCall("sheets", "error")
		return nil, google.WrapError("spreadsheet metadata", err)
	}
	metrics.IncProviderCall("sheets", "ok")

	var worksheets []models.Worksheet
	failed := make(map[string]error)

	for _, sheet := range meta.Sheets {
		if sheet.Properties == nil {
			continue
		}
		title := sheet.Properties.Title
		raw, err := s.readAllRows(ctx, documentID, title)
		if err != nil {
			// One bad worksheet must not discard the others.
			s.recordFailure(failed, title, err)
			continue
		}
		ws := buildWorksheet(title, sheet.Properties.SheetId, raw)
		s.logger.Info().
			Str("worksheet", title).
			Int("rows", ws.RowCount).
			Int("flagged", len(ws.Flagged)).
			Msg("worksheet extracted")
		worksheets = append(worksheets, ws)
	}

	if len(failed) > 0 {
		return worksheets, &errs.PartialExtractionError{Failed: failed}
	}
	return worksheets, nil
}

// readAllRows pages through a worksheet until a short chunk signals the
// end of its data.
func (s *SheetsSource) readAllRows(ctx context.Context, documentID, title string) ([][]string, error) {
	var raw [][]string
	for startRow := int64(1); ; startRow += s.pageSize {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		rng := fmt.Sprintf("'%s'!A%d:ZZ%d", title, startRow, startRow+s.pageSize-1)
		resp, err := s.svc.Spreadsheets.Values.Get(documentID, rng).Context(ctx).Do()
		if err != nil {
			metrics.IncProviderCall("sheets", "error")
			return nil, google.WrapError("read worksheet "+title, err)
		}
		metrics.IncProviderCall("sheets", "ok")

		for _, row := range resp.Values {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = fmt.Sprint(v)
			}
			raw = append(raw, cells)
		}
		if int64(len(resp.Values)) < s.pageSize {
			return raw, nil
		}
	}
}

func (s *SheetsSource) recordFailure(failed map[string]error, title string, err error) {
	failed[title] = err
	var rle *errs.RateLimitError
	if errors.As(err, &rle) {
		s.limiter.RecordRateLimit(rle.RetryAfter)
	}
	s.logger.Warn().Err(err).Str("worksheet", title).Msg("worksheet extraction failed, continuing")
}
