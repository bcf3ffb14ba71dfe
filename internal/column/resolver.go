// Package column resolves per-column mapping options against their defaults.
package column

import (
	"errors"
	"fmt"
	"time"

	"github.com/basekick-labs/transcoder/internal/config"
	"github.com/basekick-labs/transcoder/internal/record"
)

// DefaultSeparator splits multi-value strings when no separator is configured
const DefaultSeparator = ","

// ErrInvalidOption is returned when a column option cannot be parsed
var ErrInvalidOption = errors.New("invalid column option")

// Option is the parsed override for one column. Zero values mean "use the default".
type Option struct {
	FieldCode      string
	Type           record.FieldType
	Zone           *time.Location
	ValueSeparator string
}

// Resolver answers field code, type, zone and separator questions for columns.
// It is immutable after construction and safe for concurrent use.
type Resolver struct {
	options   map[string]Option
	updateKey string
}

// NewResolver parses every configured option up front so that an unknown field
// type or timezone fails before any row is read.
func NewResolver(opts []config.ColumnOption, updateKey string) (*Resolver, error) {
	r := &Resolver{
		options:   make(map[string]Option, len(opts)),
		updateKey: updateKey,
	}
	for _, o := range opts {
		if o.Name == "" {
			return nil, fmt.Errorf("%w: column name is required", ErrInvalidOption)
		}
		parsed := Option{FieldCode: o.FieldCode, ValueSeparator: o.ValueSeparator}
		if o.Type != "" {
			t, err := record.ParseFieldType(o.Type)
			if err != nil {
				return nil, fmt.Errorf("%w: column %s: %w", ErrInvalidOption, o.Name, err)
			}
			parsed.Type = t
		}
		if o.Timezone != "" {
			loc, err := time.LoadLocation(o.Timezone)
			if err != nil {
				return nil, fmt.Errorf("%w: column %s: timezone %q: %w", ErrInvalidOption, o.Name, o.Timezone, err)
			}
			parsed.Zone = loc
		}
		r.options[o.Name] = parsed
	}
	return r, nil
}

// NewResolverFromConfig builds a resolver from the mapping section
func NewResolverFromConfig(cfg config.MappingConfig) (*Resolver, error) {
	return NewResolver(cfg.Columns, cfg.UpdateKey)
}

// FieldCode returns the configured field code, or the column name itself
func (r *Resolver) FieldCode(column string) string {
	if o, ok := r.options[column]; ok && o.FieldCode != "" {
		return o.FieldCode
	}
	return column
}

// FieldType returns the configured type, or def when the column has none
func (r *Resolver) FieldType(column string, def record.FieldType) record.FieldType {
	if o, ok := r.options[column]; ok && o.Type != 0 {
		return o.Type
	}
	return def
}

// Zone returns the configured location, or UTC
func (r *Resolver) Zone(column string) *time.Location {
	if o, ok := r.options[column]; ok && o.Zone != nil {
		return o.Zone
	}
	return time.UTC
}

// ValueSeparator returns the configured checkbox separator, or DefaultSeparator
func (r *Resolver) ValueSeparator(column string) string {
	if o, ok := r.options[column]; ok && o.ValueSeparator != "" {
		return o.ValueSeparator
	}
	return DefaultSeparator
}

// IsUpdateKey reports whether column is the configured update-key column
func (r *Resolver) IsUpdateKey(column string) bool {
	return r.updateKey != "" && r.updateKey == column
}

// UpdateKeyColumn returns the configured update-key column name, possibly empty
func (r *Resolver) UpdateKeyColumn() string {
	return r.updateKey
}
