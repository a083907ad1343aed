package extract

import (
	"context"
	"fmt"

	"formsync/internal/errs"
	"formsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// XLSXSource extracts worksheets from a local workbook snapshot, the
// offline fallback when the live spreadsheet is unreachable or the legacy
// file only exists as an export.
type XLSXSource struct {
	path   string
	logger zerolog.Logger
}

func NewXLSXSource(path string, logger zerolog.Logger) *XLSXSource {
	return &XLSXSource{
		path:   path,
		logger: logger.With().Str("component", "extract").Str("source", "xlsx").Logger(),
	}
}

// Extract ignores documentID; the source is bound to one file.
func (s *XLSXSource) Extract(ctx context.Context, documentID string) ([]models.Worksheet, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", s.path, err)
	}
	defer f.Close()

	var worksheets []models.Worksheet
	failed := make(map[string]error)

	for _, title := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := f.GetRows(title)
		if err != nil {
			failed[title] = fmt.Errorf("read worksheet %s: %w", title, err)
			s.logger.Warn().Err(err).Str("worksheet", title).Msg("worksheet extraction failed, continuing")
			continue
		}
		idx, _ := f.GetSheetIndex(title)
		ws := buildWorksheet(title, int64(idx), raw)
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
