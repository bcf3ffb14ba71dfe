package source

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/basekick-labs/transcoder/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAt = time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)

func arrowTestSchema() *arrow.Schema {
	jsonMeta := arrow.NewMetadata([]string{extensionNameKey}, []string{jsonExtension})
	return arrow.NewSchema([]arrow.Field{
		{Name: "active", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "id", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "price", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "at", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: true},
		{Name: "day", Type: arrow.FixedWidthTypes.Date32, Nullable: true},
		{Name: "owners", Type: arrow.BinaryTypes.String, Nullable: true, Metadata: jsonMeta},
		{Name: "scores", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
	}, nil)
}

// buildBatches returns one record batch per call to fill
func buildBatches(t *testing.T, schema *arrow.Schema, fills ...func(b *array.RecordBuilder)) []arrow.Record {
	t.Helper()
	mem := memory.NewGoAllocator()
	var out []arrow.Record
	for _, fill := range fills {
		b := array.NewRecordBuilder(mem, schema)
		fill(b)
		out = append(out, b.NewRecord())
		b.Release()
	}
	return out
}

func fullRow(b *array.RecordBuilder) {
	b.Field(0).(*array.BooleanBuilder).Append(true)
	b.Field(1).(*array.Int32Builder).Append(7)
	b.Field(2).(*array.Float64Builder).Append(12.5)
	b.Field(3).(*array.StringBuilder).Append("widget")
	b.Field(4).(*array.TimestampBuilder).Append(arrow.Timestamp(testAt.UnixMicro()))
	b.Field(5).(*array.Date32Builder).Append(arrow.Date32FromTime(testAt))
	b.Field(6).(*array.StringBuilder).Append(`[{"name":"Alice","code":"alice"}]`)
	lb := b.Field(7).(*array.ListBuilder)
	lb.Append(true)
	lb.ValueBuilder().(*array.Int64Builder).AppendValues([]int64{1, 2}, nil)
}

func nullRow(b *array.RecordBuilder) {
	for i := 0; i < b.Schema().NumFields(); i++ {
		b.Field(i).AppendNull()
	}
}

func writeStream(t *testing.T, schema *arrow.Schema, records []arrow.Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	for _, rec := range records {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, schema *arrow.Schema, records []arrow.Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := ipc.NewFileWriter(&buf, ipc.WithSchema(schema))
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestArrowSchemaTypes(t *testing.T) {
	s, err := ArrowSchema(arrowTestSchema())
	require.NoError(t, err)

	var types []Type
	for _, c := range s.Columns {
		types = append(types, c.Type)
	}
	assert.Equal(t, []Type{Boolean, Long, Double, String, Timestamp, Timestamp, JSON, JSON}, types)

	_, err = ArrowSchema(arrow.NewSchema([]arrow.Field{{Name: "b", Type: arrow.BinaryTypes.Binary}}, nil))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestArrowCursorReadsValues(t *testing.T) {
	schema := arrowTestSchema()
	records := buildBatches(t, schema, func(b *array.RecordBuilder) {
		fullRow(b)
		nullRow(b)
	})
	defer releaseAll(records)

	c, err := NewArrowCursor(records[0])
	require.NoError(t, err)
	defer c.Close()
	col := func(name string) Column { cc, _ := c.Schema().Lookup(name); return cc }

	require.True(t, c.Next())
	assert.True(t, c.Bool(col("active")))
	assert.Equal(t, int64(7), c.Long(col("id")))
	assert.Equal(t, 12.5, c.Double(col("price")))
	assert.Equal(t, "widget", c.String(col("name")))
	assert.True(t, testAt.Equal(c.Timestamp(col("at"))))
	day := c.Timestamp(col("day"))
	assert.Equal(t, "2024-03-09", day.UTC().Format("2006-01-02"))
	assert.JSONEq(t, `[{"name":"Alice","code":"alice"}]`, string(c.JSON(col("owners"))))
	assert.JSONEq(t, `[1,2]`, string(c.JSON(col("scores"))))

	require.True(t, c.Next())
	for _, cc := range c.Schema().Columns {
		assert.True(t, c.IsNull(cc), cc.Name)
	}
	assert.False(t, c.Next())
	assert.NoError(t, c.Err())
}

func TestReadArrowRecordsStreamAndFile(t *testing.T) {
	schema := arrowTestSchema()
	records := buildBatches(t, schema, fullRow, func(b *array.RecordBuilder) { fullRow(b); nullRow(b) })
	defer releaseAll(records)

	for name, data := range map[string][]byte{
		"stream": writeStream(t, schema, records),
		"file":   writeFile(t, schema, records),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := ReadArrowRecords(data)
			require.NoError(t, err)
			defer releaseAll(got)
			require.Len(t, got, 2)
			assert.Equal(t, int64(1), got[0].NumRows())
			assert.Equal(t, int64(2), got[1].NumRows())

			s, err := ArrowSchema(got[0].Schema())
			require.NoError(t, err)
			owners, _ := s.Lookup("owners")
			assert.Equal(t, JSON, owners.Type, "json metadata survives ipc")
		})
	}

	_, err := ReadArrowRecords([]byte("garbage"))
	assert.Error(t, err)
}

func TestArrowSourcePartitionsPerBatch(t *testing.T) {
	ctx := context.Background()
	schema := arrowTestSchema()
	records := buildBatches(t, schema, fullRow, fullRow, nullRow)
	defer releaseAll(records)

	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, backend.Write(ctx, "input/orders.arrow", writeStream(t, schema, records)))

	src := NewArrowSource(backend, "input/orders.arrow", zerolog.Nop())
	parts, err := src.Partitions(ctx)
	require.NoError(t, err)
	require.Len(t, parts, 3)

	rows := 0
	for _, p := range parts {
		c, err := p.Open(ctx)
		require.NoError(t, err)
		for c.Next() {
			rows++
		}
		require.NoError(t, c.Close())
	}
	assert.Equal(t, 3, rows)
	require.NoError(t, src.Close())
}
