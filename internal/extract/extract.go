// Package extract pulls tabular data out of the legacy spreadsheets,
// either live via the Sheets API or from a local workbook snapshot, and
// yields normalized worksheets.
package extract

import (
	"context"

	"formsync/internal/models"
)

// Source yields all worksheets of a spreadsheet document. A failed
// worksheet does not abort extraction: implementations return the
// worksheets that succeeded together with errs.PartialExtractionError
// listing the rest.
type Source interface {
	Extract(ctx context.Context, documentID string) ([]models.Worksheet, error)
}

// buildWorksheet turns raw cell values into a Worksheet: row 0 becomes the
// header, every cell is normalized, unnormalizable cells keep their value
// and are flagged.
func buildWorksheet(title string, providerID int64, raw [][]string) models.Worksheet {
	ws := models.Worksheet{
		Title:      title,
		ProviderID: providerID,
	}
	if len(raw) == 0 {
		return ws
	}

	for _, cell := range raw[0] {
		normalized, _ := NormalizeCell(cell)
		ws.Headers = append(ws.Headers, normalized)
	}

	for i, rawRow := range raw[1:] {
		row := make([]string, len(rawRow))
		for j, cell := range rawRow {
			normalized, ok := NormalizeCell(cell)
			if !ok {
				ws.Flagged = append(ws.Flagged, models.CellRef{Row: i, Col: j})
				row[j] = cell
				continue
			}
			row[j] = normalized
		}
		ws.Rows = append(ws.Rows, row)
	}

	ws.RowCount = len(ws.Rows)
	ws.ColCount = len(ws.Headers)
	return ws
}
