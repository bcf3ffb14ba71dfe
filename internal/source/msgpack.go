package source

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/basekick-labs/transcoder/internal/storage"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// timeColumn is read as a timestamp when it holds integers
const timeColumn = "time"

// columnarPayload is one {m, columns} object. Columns are kept as raw msgpack
// so that their declaration order survives decoding.
type columnarPayload struct {
	M       string               `msgpack:"m"`
	Columns msgpack.RawMessage   `msgpack:"columns"`
	Batch   []msgpack.RawMessage `msgpack:"batch"`
}

// MsgPackSource reads columnar msgpack payloads; each payload is one partition
type MsgPackSource struct {
	backend storage.Backend
	prefix  string
	logger  zerolog.Logger
}

// NewMsgPackSource reads path, or every object under it when path is a prefix
func NewMsgPackSource(backend storage.Backend, path string, logger zerolog.Logger) *MsgPackSource {
	return &MsgPackSource{
		backend: backend,
		prefix:  path,
		logger:  logger.With().Str("component", "msgpack-source").Logger(),
	}
}

func (s *MsgPackSource) Partitions(ctx context.Context) ([]Partition, error) {
	paths, err := resolvePaths(ctx, s.backend, s.prefix)
	if err != nil {
		return nil, err
	}
	var parts []Partition
	for _, p := range paths {
		data, err := s.backend.Read(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		payloads, err := DecodeColumnar(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", p, err)
		}
		for i, cp := range payloads {
			parts = append(parts, &msgpackPartition{
				id:      len(parts),
				name:    fmt.Sprintf("%s#%d(%s)", p, i, cp.measurement),
				payload: cp,
			})
		}
	}
	s.logger.Debug().Int("files", len(paths)).Int("partitions", len(parts)).Msg("Decoded msgpack input")
	return parts, nil
}

func (s *MsgPackSource) Close() error { return nil }

// ColumnarData is one decoded payload with columns in declaration order
type ColumnarData struct {
	measurement string
	names       []string
	columns     [][]any
}

func (d *ColumnarData) Measurement() string { return d.measurement }

// DecodeColumnar decodes a single {m, columns} payload, a {batch: [...]} of
// them, or a top-level array of them.
func DecodeColumnar(data []byte) ([]*ColumnarData, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	code, err := dec.PeekCode()
	if err != nil {
		return nil, fmt.Errorf("failed to read msgpack: %w", err)
	}

	var raws []msgpack.RawMessage
	if isArrayCode(code) {
		if err := dec.Decode(&raws); err != nil {
			return nil, fmt.Errorf("failed to unmarshal msgpack array: %w", err)
		}
	} else {
		raws = []msgpack.RawMessage{data}
	}

	var out []*ColumnarData
	for _, raw := range raws {
		var p columnarPayload
		if err := msgpack.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal msgpack payload: %w", err)
		}
		if len(p.Batch) > 0 {
			for _, item := range p.Batch {
				nested, err := DecodeColumnar(item)
				if err != nil {
					return nil, err
				}
				out = append(out, nested...)
			}
			continue
		}
		cd, err := decodeColumns(p.M, p.Columns)
		if err != nil {
			return nil, err
		}
		out = append(out, cd)
	}
	return out, nil
}

func isArrayCode(c byte) bool {
	return (c >= 0x90 && c <= 0x9f) || c == 0xdc || c == 0xdd
}

func decodeColumns(measurement string, raw msgpack.RawMessage) (*ColumnarData, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: payload %q has no columns", ErrSchema, measurement)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, fmt.Errorf("%w: columns must be a map: %v", ErrSchema, err)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: payload %q has no columns", ErrSchema, measurement)
	}

	cd := &ColumnarData{
		measurement: measurement,
		names:       make([]string, 0, n),
		columns:     make([][]any, 0, n),
	}
	rows := -1
	for i := 0; i < n; i++ {
		name, err := dec.DecodeString()
		if err != nil {
			return nil, fmt.Errorf("%w: column name: %v", ErrSchema, err)
		}
		var values []any
		if err := dec.Decode(&values); err != nil {
			return nil, fmt.Errorf("%w: column %s: %v", ErrSchema, name, err)
		}
		if rows >= 0 && len(values) != rows {
			return nil, fmt.Errorf("%w: column %s has %d values, expected %d", ErrSchema, name, len(values), rows)
		}
		rows = len(values)
		cd.names = append(cd.names, name)
		cd.columns = append(cd.columns, values)
	}
	return cd, nil
}

// inferType picks a source type from the first non-nil value of a column
func inferType(name string, values []any) Type {
	for _, v := range values {
		if v == nil {
			continue
		}
		switch v.(type) {
		case bool:
			return Boolean
		case float32, float64:
			return Double
		case string, []byte:
			return String
		case time.Time:
			return Timestamp
		case map[string]any, map[any]any, []any:
			return JSON
		}
		if _, ok := integer(v); ok {
			if name == timeColumn {
				return Timestamp
			}
			return Long
		}
		return String
	}
	return String
}

// Cursor builds a cursor over the payload's rows
func (d *ColumnarData) Cursor() (*SliceCursor, error) {
	types := make([]Type, len(d.names))
	for i, name := range d.names {
		types[i] = inferType(name, d.columns[i])
	}
	schema, err := NewSchema(d.names, types)
	if err != nil {
		return nil, err
	}

	rows := 0
	if len(d.columns) > 0 {
		rows = len(d.columns[0])
	}
	values := make([][]any, rows)
	for r := 0; r < rows; r++ {
		vals := make([]any, len(d.columns))
		for c := range d.columns {
			vals[c] = d.columns[c][r]
		}
		values[r] = vals
	}
	return NewSliceCursor(schema, values)
}

type msgpackPartition struct {
	id      int
	name    string
	payload *ColumnarData
}

func (p *msgpackPartition) ID() int      { return p.id }
func (p *msgpackPartition) Name() string { return p.name }

func (p *msgpackPartition) Open(ctx context.Context) (Cursor, error) {
	return p.payload.Cursor()
}
