// Package mapper turns source rows into typed target records.
package mapper

import (
	"fmt"
	"time"

	"github.com/basekick-labs/transcoder/internal/column"
	"github.com/basekick-labs/transcoder/internal/config"
	"github.com/basekick-labs/transcoder/internal/record"
	"github.com/basekick-labs/transcoder/internal/source"
	"github.com/rs/zerolog"
)

// Options are mapping switches that apply to every column
type Options struct {
	// JSONDefaultType is the effective type of json columns without an option
	JSONDefaultType record.FieldType
	// NullDoubleAsText renders null doubles as "null" instead of an empty value
	NullDoubleAsText bool
}

// DefaultOptions maps json columns to MULTI_LINE_TEXT and null doubles to empty values
func DefaultOptions() Options {
	return Options{JSONDefaultType: record.MultiLineText}
}

// Mapper maps rows through a resolver. It holds no per-row state and can be
// shared by concurrent partitions.
type Mapper struct {
	resolver *column.Resolver
	opts     Options
	logger   zerolog.Logger
}

func New(resolver *column.Resolver, opts Options, logger zerolog.Logger) *Mapper {
	if opts.JSONDefaultType == 0 {
		opts.JSONDefaultType = record.MultiLineText
	}
	return &Mapper{
		resolver: resolver,
		opts:     opts,
		logger:   logger.With().Str("component", "mapper").Logger(),
	}
}

// NewFromConfig validates the mapping section and builds a mapper from it
func NewFromConfig(cfg config.MappingConfig, logger zerolog.Logger) (*Mapper, error) {
	resolver, err := column.NewResolverFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts := DefaultOptions()
	opts.NullDoubleAsText = cfg.NullDoubleAsText
	if cfg.JSONDefaultType != "" {
		t, err := record.ParseFieldType(cfg.JSONDefaultType)
		if err != nil {
			return nil, fmt.Errorf("%w: mapping.json_default_type: %w", column.ErrInvalidOption, err)
		}
		opts.JSONDefaultType = t
	}
	return New(resolver, opts, logger), nil
}

func (m *Mapper) Resolver() *column.Resolver { return m.resolver }

func (m *Mapper) Options() Options { return m.opts }

// EffectiveType is the field type a column will be coerced to
func (m *Mapper) EffectiveType(col source.Column) record.FieldType {
	return m.resolver.FieldType(col.Name, m.defaultType(col.Type))
}

func (m *Mapper) defaultType(t source.Type) record.FieldType {
	switch t {
	case source.Boolean, source.Long, source.Double:
		return record.Number
	case source.Timestamp:
		return record.DateTime
	case source.JSON:
		return m.opts.JSONDefaultType
	default:
		return record.MultiLineText
	}
}

// Describe logs how each column of schema will be mapped
func (m *Mapper) Describe(schema source.Schema) {
	if m.logger.GetLevel() > zerolog.DebugLevel {
		return
	}
	for _, col := range schema.Columns {
		m.logger.Debug().
			Str("column", col.Name).
			Str("source_type", col.Type.String()).
			Str("field_code", m.resolver.FieldCode(col.Name)).
			Str("field_type", m.EffectiveType(col).String()).
			Bool("update_key", m.resolver.IsUpdateKey(col.Name)).
			Msg("Column mapping")
	}
}

// MapRow maps the cursor's current row into a fresh record
func (m *Mapper) MapRow(c source.Cursor) (record.Mapped, error) {
	v := &rowVisitor{m: m, cursor: c, rec: make(record.Record, c.Schema().Len())}
	if err := source.Visit(c, v); err != nil {
		return record.Mapped{}, err
	}
	return record.Mapped{Record: v.rec, UpdateKey: v.key}, nil
}

// rowVisitor is the per-row mapping context. It lives for exactly one row.
type rowVisitor struct {
	m      *Mapper
	cursor source.Cursor
	rec    record.Record
	key    *record.UpdateKey
}

func (v *rowVisitor) VisitBoolean(col source.Column) error { return v.scalar(col) }
func (v *rowVisitor) VisitLong(col source.Column) error    { return v.scalar(col) }
func (v *rowVisitor) VisitDouble(col source.Column) error  { return v.scalar(col) }

func (v *rowVisitor) VisitString(col source.Column) error {
	code, t, raw := v.prepare(col)
	if t == record.CheckBox {
		v.rec.Put(code, SplitCheckBox(raw, v.m.resolver.ValueSeparator(col.Name)))
		return nil
	}
	return v.put(col, code, raw, t)
}

// VisitTimestamp writes nothing for a null value, not even the update key
func (v *rowVisitor) VisitTimestamp(col source.Column) error {
	if v.cursor.IsNull(col) {
		return nil
	}
	code, t, _ := v.prepare(col)
	ts := v.cursor.Timestamp(col)
	switch t {
	case record.DateTime:
		v.rec.Put(code, record.DateTimeValue{Value: ts.UTC()})
		return nil
	case record.Date:
		v.rec.Put(code, record.NewDateValue(ts.In(v.m.resolver.Zone(col.Name))))
		return nil
	default:
		return v.put(col, code, ts.In(v.m.resolver.Zone(col.Name)).Format(time.RFC3339Nano), t)
	}
}

func (v *rowVisitor) VisitJSON(col source.Column) error {
	code, t, raw := v.prepare(col)
	if !t.IsEntitySelect() {
		return v.put(col, code, raw, t)
	}
	if v.cursor.IsNull(col) {
		return nil
	}
	refs, err := DecodeEntities(v.cursor.JSON(col), t)
	if err != nil {
		return &ColumnError{Column: col.Name, FieldCode: code, Err: err}
	}
	v.rec.Put(code, record.NewEntitySelect(t, refs))
	return nil
}

func (v *rowVisitor) scalar(col source.Column) error {
	code, t, raw := v.prepare(col)
	return v.put(col, code, raw, t)
}

// prepare resolves the field and records the update key from the raw text
// before any type-specific coercion.
func (v *rowVisitor) prepare(col source.Column) (string, record.FieldType, string) {
	code := v.m.resolver.FieldCode(col.Name)
	t := v.m.EffectiveType(col)
	raw := Stringify(v.cursor, col, v.m.opts.NullDoubleAsText)
	if v.m.resolver.IsUpdateKey(col.Name) {
		v.key = &record.UpdateKey{Field: code, Value: raw}
	}
	return code, t, raw
}

func (v *rowVisitor) put(col source.Column, code, raw string, t record.FieldType) error {
	value, err := Coerce(raw, t)
	if err != nil {
		return &ColumnError{Column: col.Name, FieldCode: code, Err: err}
	}
	v.rec.Put(code, value)
	return nil
}
