package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/basekick-labs/transcoder/internal/storage"
	"github.com/rs/zerolog"
)

const (
	extensionNameKey = "ARROW:extension:name"
	jsonExtension    = "arrow.json"
)

var arrowFileMagic = []byte("ARROW1")

// ArrowSource reads Arrow IPC files or streams; each record batch is one partition
type ArrowSource struct {
	backend storage.Backend
	prefix  string
	logger  zerolog.Logger

	records []arrow.Record
}

func NewArrowSource(backend storage.Backend, path string, logger zerolog.Logger) *ArrowSource {
	return &ArrowSource{
		backend: backend,
		prefix:  path,
		logger:  logger.With().Str("component", "arrow-source").Logger(),
	}
}

func (s *ArrowSource) Partitions(ctx context.Context) ([]Partition, error) {
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
		records, err := ReadArrowRecords(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", p, err)
		}
		for i, rec := range records {
			s.records = append(s.records, rec)
			parts = append(parts, &arrowPartition{
				id:     len(parts),
				name:   fmt.Sprintf("%s#%d", p, i),
				record: rec,
			})
		}
	}
	s.logger.Debug().Int("files", len(paths)).Int("partitions", len(parts)).Msg("Decoded arrow input")
	return parts, nil
}

// Close releases every record batch read by Partitions
func (s *ArrowSource) Close() error {
	for _, rec := range s.records {
		rec.Release()
	}
	s.records = nil
	return nil
}

// ReadArrowRecords decodes all record batches of an IPC file or stream.
// The caller owns the returned records and must release them.
func ReadArrowRecords(data []byte) ([]arrow.Record, error) {
	if bytes.HasPrefix(data, arrowFileMagic) {
		fr, err := ipc.NewFileReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open arrow file: %w", err)
		}
		defer fr.Close()

		records := make([]arrow.Record, 0, fr.NumRecords())
		for i := 0; i < fr.NumRecords(); i++ {
			rec, err := fr.Record(i)
			if err != nil {
				releaseAll(records)
				return nil, fmt.Errorf("failed to read record batch %d: %w", i, err)
			}
			rec.Retain()
			records = append(records, rec)
		}
		return records, nil
	}

	r, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open arrow stream: %w", err)
	}
	defer r.Release()

	var records []arrow.Record
	for r.Next() {
		rec := r.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := r.Err(); err != nil {
		releaseAll(records)
		return nil, fmt.Errorf("failed to read arrow stream: %w", err)
	}
	return records, nil
}

func releaseAll(records []arrow.Record) {
	for _, rec := range records {
		rec.Release()
	}
}

// ArrowSchema maps an Arrow schema to source column types
func ArrowSchema(schema *arrow.Schema) (Schema, error) {
	names := make([]string, schema.NumFields())
	types := make([]Type, schema.NumFields())
	for i, f := range schema.Fields() {
		t, err := arrowType(f)
		if err != nil {
			return Schema{}, err
		}
		names[i] = f.Name
		types[i] = t
	}
	return NewSchema(names, types)
}

func arrowType(f arrow.Field) (Type, error) {
	if ext, ok := f.Type.(arrow.ExtensionType); ok {
		if ext.ExtensionName() == jsonExtension {
			return JSON, nil
		}
		return arrowType(arrow.Field{Name: f.Name, Type: ext.StorageType()})
	}
	if name, ok := f.Metadata.GetValue(extensionNameKey); ok && name == jsonExtension {
		return JSON, nil
	}

	switch f.Type.ID() {
	case arrow.BOOL:
		return Boolean, nil
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return Long, nil
	case arrow.FLOAT32, arrow.FLOAT64:
		return Double, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return String, nil
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return Timestamp, nil
	case arrow.STRUCT, arrow.LIST, arrow.LARGE_LIST, arrow.MAP:
		return JSON, nil
	default:
		return 0, fmt.Errorf("%w: column %s has arrow type %s", ErrUnsupportedType, f.Name, f.Type)
	}
}

type arrowPartition struct {
	id     int
	name   string
	record arrow.Record
}

func (p *arrowPartition) ID() int      { return p.id }
func (p *arrowPartition) Name() string { return p.name }

func (p *arrowPartition) Open(ctx context.Context) (Cursor, error) {
	return NewArrowCursor(p.record)
}

// ArrowCursor reads rows of one record batch directly from its arrays
type ArrowCursor struct {
	record arrow.Record
	schema Schema
	cols   []arrow.Array
	row    int
	err    error
}

// NewArrowCursor retains rec until Close
func NewArrowCursor(rec arrow.Record) (*ArrowCursor, error) {
	schema, err := ArrowSchema(rec.Schema())
	if err != nil {
		return nil, err
	}
	cols := make([]arrow.Array, rec.NumCols())
	for i := range cols {
		col := rec.Column(i)
		if ext, ok := col.(array.ExtensionArray); ok {
			col = ext.Storage()
		}
		cols[i] = col
	}
	rec.Retain()
	return &ArrowCursor{record: rec, schema: schema, cols: cols, row: -1}, nil
}

func (c *ArrowCursor) Schema() Schema { return c.schema }

func (c *ArrowCursor) Next() bool {
	if c.row+1 >= int(c.record.NumRows()) {
		return false
	}
	c.row++
	return true
}

func (c *ArrowCursor) Err() error { return c.err }

func (c *ArrowCursor) Close() error {
	if c.record != nil {
		c.record.Release()
		c.record = nil
	}
	return nil
}

func (c *ArrowCursor) IsNull(col Column) bool {
	return c.cols[col.Index].IsNull(c.row)
}

func (c *ArrowCursor) Bool(col Column) bool {
	if a, ok := c.cols[col.Index].(*array.Boolean); ok {
		return a.Value(c.row)
	}
	return false
}

func (c *ArrowCursor) Long(col Column) int64 {
	switch a := c.cols[col.Index].(type) {
	case *array.Int8:
		return int64(a.Value(c.row))
	case *array.Int16:
		return int64(a.Value(c.row))
	case *array.Int32:
		return int64(a.Value(c.row))
	case *array.Int64:
		return a.Value(c.row)
	case *array.Uint8:
		return int64(a.Value(c.row))
	case *array.Uint16:
		return int64(a.Value(c.row))
	case *array.Uint32:
		return int64(a.Value(c.row))
	case *array.Uint64:
		return int64(a.Value(c.row))
	default:
		return 0
	}
}

func (c *ArrowCursor) Double(col Column) float64 {
	switch a := c.cols[col.Index].(type) {
	case *array.Float32:
		return float64(a.Value(c.row))
	case *array.Float64:
		return a.Value(c.row)
	default:
		return 0
	}
}

func (c *ArrowCursor) String(col Column) string {
	switch a := c.cols[col.Index].(type) {
	case *array.String:
		return a.Value(c.row)
	case *array.LargeString:
		return a.Value(c.row)
	default:
		return a.ValueStr(c.row)
	}
}

func (c *ArrowCursor) Timestamp(col Column) time.Time {
	switch a := c.cols[col.Index].(type) {
	case *array.Timestamp:
		toTime, err := a.DataType().(*arrow.TimestampType).GetToTimeFunc()
		if err != nil {
			c.err = err
			return time.Time{}
		}
		return toTime(a.Value(c.row))
	case *array.Date32:
		return a.Value(c.row).ToTime()
	case *array.Date64:
		return a.Value(c.row).ToTime()
	default:
		return time.Time{}
	}
}

func (c *ArrowCursor) JSON(col Column) json.RawMessage {
	switch a := c.cols[col.Index].(type) {
	case *array.String:
		return json.RawMessage(a.Value(c.row))
	case *array.LargeString:
		return json.RawMessage(a.Value(c.row))
	default:
		data, err := json.Marshal(a.GetOneForMarshal(c.row))
		if err != nil {
			c.err = fmt.Errorf("column %s: %w", col.Name, err)
			return nil
		}
		return data
	}
}
