package distribution

import (
	"strings"

	"github.com/rezonia/fiscal-ingest/internal/model"
)

// CursorWidth is the zero padded width of a cursor on the wire
const CursorWidth = 15

// PadCursor renders a cursor the way the authority expects it
func PadCursor(c string) string {
	c = model.NormalizeCursor(c)
	if len(c) >= CursorWidth {
		return c
	}
	return strings.Repeat("0", CursorWidth-len(c)) + c
}
