package models

// CellRef addresses a data cell inside a worksheet (0-based, header row
// excluded from Row numbering).
type CellRef struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Worksheet is one tab of a source spreadsheet after extraction and
// normalization. Rows keep provider order; the header row is split off
// into Headers and never appears in Rows.
type Worksheet struct {
	Title      string     `json:"title"`
	ProviderID int64      `json:"provider_id"`
	Headers    []string   `json:"headers"`
	Rows       [][]string `json:"rows"`
	RowCount   int        `json:"row_count"`
	ColCount   int        `json:"col_count"`

	// Flagged lists cells whose value could not be normalized and was
	// kept verbatim.
	Flagged []CellRef `json:"flagged,omitempty"`
}

// Column returns the index of a header, or -1 when absent.
func (w *Worksheet) Column(header string) int {
	for i, h := range w.Headers {
		if h == header {
			return i
		}
	}
	return -1
}
