package source

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// normalize converts a decoded value into the Go type the cursor getters expect
// for t: bool, int64, float64, string, time.Time or json.RawMessage. nil stays nil.
func normalize(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case Boolean:
		return toBool(v)
	case Long:
		return toInt64(v)
	case Double:
		return toFloat64(v)
	case String:
		return toString(v), nil
	case Timestamp:
		return toTime(v)
	case JSON:
		return toJSON(v)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	case []byte:
		return strconv.ParseBool(string(b))
	}
	if n, ok := integer(v); ok {
		return n != 0, nil
	}
	return false, fmt.Errorf("cannot read %T as boolean", v)
}

func toInt64(v any) (int64, error) {
	if n, ok := integer(v); ok {
		return n, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("cannot read fractional %v as long", n)
		}
		return int64(n), nil
	case float32:
		return toInt64(float64(n))
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(n)), 10, 64)
	case interface{ IsInt64() bool }:
		// *big.Int from HUGEINT columns
		if big, ok := v.(interface{ Int64() int64 }); ok && n.IsInt64() {
			return big.Int64(), nil
		}
	}
	return 0, fmt.Errorf("cannot read %T as long", v)
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
	case interface{ Float64() float64 }:
		return n.Float64(), nil
	case interface{ Float64() (float64, bool) }:
		f, _ := n.Float64()
		return f, nil
	}
	if n, ok := integer(v); ok {
		return float64(n), nil
	}
	return 0, fmt.Errorf("cannot read %T as double", v)
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return sanitizeUTF8(s)
	case []byte:
		return sanitizeUTF8(string(s))
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	}
	if n, ok := integer(v); ok {
		return epochTime(n), nil
	}
	if f, ok := v.(float64); ok {
		return epochTime(int64(f)), nil
	}
	return time.Time{}, fmt.Errorf("cannot read %T as timestamp", v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as timestamp", s)
}

// epochTime detects the unit of an integer epoch: seconds below 1e10,
// milliseconds below 1e13, microseconds below 1e16, nanoseconds otherwise.
func epochTime(n int64) time.Time {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 1e10:
		return time.Unix(n, 0).UTC()
	case abs < 1e13:
		return time.UnixMilli(n).UTC()
	case abs < 1e16:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}

func toJSON(v any) (json.RawMessage, error) {
	var raw []byte
	switch j := v.(type) {
	case json.RawMessage:
		raw = j
	case []byte:
		raw = j
	case string:
		raw = []byte(j)
	default:
		data, err := json.Marshal(jsonCompatible(v))
		if err != nil {
			return nil, fmt.Errorf("cannot encode %T as json: %w", v, err)
		}
		return data, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid json value %.40q", raw)
	}
	return json.RawMessage(raw), nil
}

// jsonCompatible rewrites map[interface{}]interface{} produced by some decoders
// into string-keyed maps that encoding/json accepts.
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = jsonCompatible(val)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonCompatible(val)
		}
		return out
	default:
		return v
	}
}

func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint:
		return int64(n), true
	default:
		return 0, false
	}
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with U+FFFD
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

// row holds one row of normalized values indexed by column
type row []any

func (r row) isNull(c Column) bool {
	if c.Index >= len(r) || r[c.Index] == nil {
		return true
	}
	if raw, ok := r[c.Index].(json.RawMessage); ok {
		return string(raw) == "null"
	}
	return false
}

func (r row) boolean(c Column) bool {
	v, _ := r[c.Index].(bool)
	return v
}

func (r row) long(c Column) int64 {
	v, _ := r[c.Index].(int64)
	return v
}

func (r row) double(c Column) float64 {
	v, _ := r[c.Index].(float64)
	return v
}

func (r row) str(c Column) string {
	v, _ := r[c.Index].(string)
	return v
}

func (r row) timestamp(c Column) time.Time {
	v, _ := r[c.Index].(time.Time)
	return v
}

func (r row) json(c Column) json.RawMessage {
	v, _ := r[c.Index].(json.RawMessage)
	return v
}

// SliceCursor iterates rows held in memory
type SliceCursor struct {
	schema Schema
	rows   []row
	pos    int
}

// NewSliceCursor normalizes values row by row against the schema
func NewSliceCursor(schema Schema, values [][]any) (*SliceCursor, error) {
	rows := make([]row, len(values))
	for i, vals := range values {
		if len(vals) != schema.Len() {
			return nil, fmt.Errorf("%w: row %d has %d values for %d columns", ErrSchema, i, len(vals), schema.Len())
		}
		r := make(row, len(vals))
		for _, col := range schema.Columns {
			v, err := normalize(col.Type, vals[col.Index])
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", i, col.Name, err)
			}
			r[col.Index] = v
		}
		rows[i] = r
	}
	return &SliceCursor{schema: schema, rows: rows, pos: -1}, nil
}

func (c *SliceCursor) Schema() Schema { return c.schema }

func (c *SliceCursor) Next() bool {
	if c.pos+1 >= len(c.rows) {
		c.pos = len(c.rows)
		return false
	}
	c.pos++
	return true
}

func (c *SliceCursor) Err() error   { return nil }
func (c *SliceCursor) Close() error { return nil }

// Len is the number of rows
func (c *SliceCursor) Len() int { return len(c.rows) }

func (c *SliceCursor) current() row { return c.rows[c.pos] }

func (c *SliceCursor) IsNull(col Column) bool          { return c.current().isNull(col) }
func (c *SliceCursor) Bool(col Column) bool            { return c.current().boolean(col) }
func (c *SliceCursor) Long(col Column) int64           { return c.current().long(col) }
func (c *SliceCursor) Double(col Column) float64       { return c.current().double(col) }
func (c *SliceCursor) String(col Column) string        { return c.current().str(col) }
func (c *SliceCursor) Timestamp(col Column) time.Time  { return c.current().timestamp(col) }
func (c *SliceCursor) JSON(col Column) json.RawMessage { return c.current().json(col) }
