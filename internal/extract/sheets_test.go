package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"formsync/internal/errs"
	"formsync/internal/google"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// fakeSheetsAPI serves spreadsheet metadata for three worksheets and fails
// every read of the middle one with a server error.
func fakeSheetsAPI(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if strings.Contains(r.URL.Path, "/values/") {
			parts := strings.Split(r.URL.Path, "/values/")
			rng, err := url.PathUnescape(parts[1])
			require.NoError(t, err)

			if strings.Contains(rng, "Two") {
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]interface{}{"code": 500, "message": "backend error"},
				})
				return
			}

			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"range": rng,
				"values": [][]interface{}{
					{"Codigo", "Titulo"},
					{"F-1", "Matemática"},
					{"F-2", "Física"},
				},
			})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"sheets": []map[string]interface{}{
				{"properties": map[string]interface{}{"sheetId": 1, "title": "One"}},
				{"properties": map[string]interface{}{"sheetId": 2, "title": "Two"}},
				{"properties": map[string]interface{}{"sheetId": 3, "title": "Three"}},
			},
		})
	}))
}

func TestSheetsSourcePartialExtraction(t *testing.T) {
	server := fakeSheetsAPI(t)
	defer server.Close()

	ctx := context.Background()
	svc, err := sheets.NewService(ctx,
		option.WithoutAuthentication(),
		option.WithEndpoint(server.URL))
	require.NoError(t, err)

	source := NewSheetsSource(svc, google.NewRateLimiter(1000, 1000), zerolog.Nop())
	worksheets, err := source.Extract(ctx, "doc-1")

	var partial *errs.PartialExtractionError
	require.ErrorAs(t, err, &partial)
	assert.Contains(t, partial.Failed, "Two")
	assert.Len(t, partial.Failed, 1)

	// The surviving worksheets are fully populated.
	require.Len(t, worksheets, 2)
	titles := []string{worksheets[0].Title, worksheets[1].Title}
	assert.ElementsMatch(t, []string{"One", "Three"}, titles)
	for _, ws := range worksheets {
		assert.Equal(t, []string{"Codigo", "Titulo"}, ws.Headers)
		require.Equal(t, 2, ws.RowCount)
		assert.Equal(t, "Matematica", ws.Rows[0][1])
	}
}
