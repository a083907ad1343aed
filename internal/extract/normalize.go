package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// glyphTable maps the status markers used in the legacy workbook to fixed
// ASCII tokens. The table is part of the data contract: loaders match on
// these tokens, so the mapping must never change silently.
var glyphTable = map[rune]string{
	'🟥': "VERMELHO",
	'🟧': "LARANJA",
	'🟨': "AMARELO",
	'🟩': "VERDE",
	'⬜': "BRANCO",
	'✅': "SIM",
	'✔': "SIM",
	'❌': "NAO",
	'✖': "NAO",
	'⚠': "ALERTA",
}

// NormalizeCell maps known glyphs to their tokens, decomposes the rest
// (NFKD) and strips whatever non-ASCII remains. The second return value is
// false when the cell could not be normalized; callers keep the original
// value and flag the cell instead of aborting extraction.
func NormalizeCell(raw string) (string, bool) {
	if raw == "" {
		return "", true
	}
	if !utf8.ValidString(raw) {
		return raw, false
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if token, ok := glyphTable[r]; ok {
			b.WriteString(token)
			continue
		}
		b.WriteRune(r)
	}

	decomposed := norm.NFKD.String(b.String())

	var out strings.Builder
	out.Grow(len(decomposed))
	for _, r := range decomposed {
		if r > unicode.MaxASCII {
			continue
		}
		out.WriteRune(r)
	}

	result := strings.Join(strings.Fields(out.String()), " ")
	if result == "" {
		// Everything was stripped; the cell carried information we could
		// not express in ASCII.
		return raw, false
	}
	return result, true
}
