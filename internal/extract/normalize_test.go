package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCellGlyphs(t *testing.T) {
	cases := map[string]string{
		"🟧":           "LARANJA",
		"🟥":           "VERMELHO",
		"✅":           "SIM",
		"❌":           "NAO",
		"🟩 confirmado": "VERDE confirmado",
	}
	for input, want := range cases {
		got, ok := NormalizeCell(input)
		assert.True(t, ok, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}
}

func TestNormalizeCellAccents(t *testing.T) {
	got, ok := NormalizeCell("Formação à distância")
	assert.True(t, ok)
	assert.Equal(t, "Formacao a distancia", got)
}

func TestNormalizeCellDeterministic(t *testing.T) {
	input := "  Educação   Básica 🟨 "
	first, ok1 := NormalizeCell(input)
	second, ok2 := NormalizeCell(input)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
	assert.Equal(t, "Educacao Basica AMARELO", first)
}

func TestNormalizeCellCollapsesWhitespace(t *testing.T) {
	got, ok := NormalizeCell("  a \t b   c ")
	assert.True(t, ok)
	assert.Equal(t, "a b c", got)
}

func TestNormalizeCellKeepsUnmappableValue(t *testing.T) {
	// A cell that is pure unmapped non-ASCII loses everything when
	// stripped; the original value must be kept and flagged.
	input := "日本語"
	got, ok := NormalizeCell(input)
	assert.False(t, ok)
	assert.Equal(t, input, got)
}

func TestNormalizeCellEmpty(t *testing.T) {
	got, ok := NormalizeCell("")
	assert.True(t, ok)
	assert.Equal(t, "", got)
}

func TestBuildWorksheetFlagsBadCells(t *testing.T) {
	raw := [][]string{
		{"Email", "Nome"},
		{"a@b.com", "日本語"},
		{"c@d.com", "Maria"},
	}
	ws := buildWorksheet("Usuarios", 7, raw)

	assert.Equal(t, []string{"Email", "Nome"}, ws.Headers)
	assert.Equal(t, 2, ws.RowCount)
	assert.Equal(t, 2, ws.ColCount)
	assert.Equal(t, int64(7), ws.ProviderID)
	if assert.Len(t, ws.Flagged, 1) {
		assert.Equal(t, 0, ws.Flagged[0].Row)
		assert.Equal(t, 1, ws.Flagged[0].Col)
	}
	// Flagged cell keeps its original value.
	assert.Equal(t, "日本語", ws.Rows[0][1])
	assert.Equal(t, "Maria", ws.Rows[1][1])
}
