// Package source reads rows of typed columns from Arrow IPC files, msgpack
// columnar payloads or SQL queries and exposes them through a Cursor.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnsupportedType is returned when a column type has no source type mapping
	ErrUnsupportedType = errors.New("unsupported column type")

	// ErrSchema is returned for malformed or inconsistent input schemas
	ErrSchema = errors.New("invalid source schema")
)

// Type is the source type of a column
type Type int

const (
	Boolean Type = iota + 1
	Long
	Double
	String
	Timestamp
	JSON
)

func (t Type) String() string {
	switch t {
	case Boolean:
		return "boolean"
	case Long:
		return "long"
	case Double:
		return "double"
	case String:
		return "string"
	case Timestamp:
		return "timestamp"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Column is a named, typed slot of a row. Index is its position in the schema.
type Column struct {
	Index int
	Name  string
	Type  Type
}

// Schema is the ordered list of columns shared by every row of a cursor
type Schema struct {
	Columns []Column
	byName  map[string]int
}

// NewSchema assigns indexes in order and rejects duplicate names
func NewSchema(names []string, types []Type) (Schema, error) {
	if len(names) != len(types) {
		return Schema{}, fmt.Errorf("%w: %d names for %d types", ErrSchema, len(names), len(types))
	}
	s := Schema{
		Columns: make([]Column, len(names)),
		byName:  make(map[string]int, len(names)),
	}
	for i, name := range names {
		if _, dup := s.byName[name]; dup {
			return Schema{}, fmt.Errorf("%w: duplicate column %q", ErrSchema, name)
		}
		s.Columns[i] = Column{Index: i, Name: name, Type: types[i]}
		s.byName[name] = i
	}
	return s, nil
}

// Lookup finds a column by name
func (s Schema) Lookup(name string) (Column, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Column{}, false
	}
	return s.Columns[i], true
}

func (s Schema) Len() int { return len(s.Columns) }

// Cursor iterates rows. Getters read the current row and must only be called
// for a column of the matching type that is not null.
type Cursor interface {
	Schema() Schema
	Next() bool
	Err() error
	Close() error

	IsNull(col Column) bool
	Bool(col Column) bool
	Long(col Column) int64
	Double(col Column) float64
	String(col Column) string
	Timestamp(col Column) time.Time
	JSON(col Column) json.RawMessage
}

// Visitor receives one call per column of a row
type Visitor interface {
	VisitBoolean(col Column) error
	VisitLong(col Column) error
	VisitDouble(col Column) error
	VisitString(col Column) error
	VisitTimestamp(col Column) error
	VisitJSON(col Column) error
}

// Visit dispatches every column of the current row to v in schema order and
// stops at the first error.
func Visit(c Cursor, v Visitor) error {
	for _, col := range c.Schema().Columns {
		var err error
		switch col.Type {
		case Boolean:
			err = v.VisitBoolean(col)
		case Long:
			err = v.VisitLong(col)
		case Double:
			err = v.VisitDouble(col)
		case String:
			err = v.VisitString(col)
		case Timestamp:
			err = v.VisitTimestamp(col)
		case JSON:
			err = v.VisitJSON(col)
		default:
			err = fmt.Errorf("%w: column %s has type %s", ErrUnsupportedType, col.Name, col.Type)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Partition is one independently readable slice of the input
type Partition interface {
	// ID is the partition's position, stable within a run
	ID() int
	// Name describes the partition in logs
	Name() string
	Open(ctx context.Context) (Cursor, error)
}

// Source splits the input into partitions
type Source interface {
	Partitions(ctx context.Context) ([]Partition, error)
	Close() error
}
