package mapper

import (
	"strconv"
	"time"

	"github.com/basekick-labs/transcoder/internal/source"
)

// nullDoubleText is the text of a null double when null doubles are kept as text
const nullDoubleText = "null"

// Stringify renders the current value of col as text. Null values are empty
// except null doubles when nullDoubleAsText is set.
func Stringify(c source.Cursor, col source.Column, nullDoubleAsText bool) string {
	if c.IsNull(col) {
		if col.Type == source.Double && nullDoubleAsText {
			return nullDoubleText
		}
		return ""
	}
	switch col.Type {
	case source.Boolean:
		return strconv.FormatBool(c.Bool(col))
	case source.Long:
		return strconv.FormatInt(c.Long(col), 10)
	case source.Double:
		return strconv.FormatFloat(c.Double(col), 'f', -1, 64)
	case source.String:
		return c.String(col)
	case source.Timestamp:
		return c.Timestamp(col).UTC().Format(time.RFC3339Nano)
	case source.JSON:
		return compactJSON(c.JSON(col))
	default:
		return ""
	}
}
