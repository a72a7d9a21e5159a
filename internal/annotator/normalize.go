package annotator

import (
	"strings"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
)

// NormalizeIdentifier removes prefix from the start of raw when present, then
// keeps at most width characters. A width of zero or less disables truncation.
//
//	NormalizeIdentifier("sp|P69905|HBA_HUMAN", "sp|", 6) == "P69905"
func NormalizeIdentifier(raw, prefix string, width int) string {
	id := strings.TrimPrefix(raw, prefix)
	if width <= 0 {
		return id
	}
	runes := []rune(id)
	if len(runes) <= width {
		return id
	}
	return string(runes[:width])
}

// normalizeColumn rewrites the identifier column in place. Rows too short to
// hold the column are left alone.
func normalizeColumn(t *annotation.Table, col int, prefix string, width int) {
	if prefix == "" && width <= 0 {
		return
	}
	for i := range t.Records {
		cells := t.Records[i].Cells
		if col < len(cells) {
			cells[col] = NormalizeIdentifier(cells[col], prefix, width)
		}
	}
}
