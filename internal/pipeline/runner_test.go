package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/basekick-labs/transcoder/internal/config"
	"github.com/basekick-labs/transcoder/internal/mapper"
	"github.com/basekick-labs/transcoder/internal/record"
	"github.com/basekick-labs/transcoder/internal/reducer"
	"github.com/basekick-labs/transcoder/internal/sink"
	"github.com/basekick-labs/transcoder/internal/source"
	"github.com/basekick-labs/transcoder/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type memPartition struct {
	id     int
	schema source.Schema
	rows   [][]any
	block  chan struct{}
}

func (p *memPartition) ID() int      { return p.id }
func (p *memPartition) Name() string { return fmt.Sprintf("mem#%d", p.id) }

func (p *memPartition) Open(ctx context.Context) (source.Cursor, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return source.NewSliceCursor(p.schema, p.rows)
}

type memSource struct {
	parts  []source.Partition
	closed bool
}

func (s *memSource) Partitions(context.Context) ([]source.Partition, error) { return s.parts, nil }
func (s *memSource) Close() error {
	s.closed = true
	return nil
}

type collector struct {
	mu      sync.Mutex
	batches [][]record.Mapped
}

func (c *collector) Submit(_ context.Context, batch []record.Mapped) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, append([]record.Mapped(nil), batch...))
	return nil
}

func (c *collector) records() []record.Mapped {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []record.Mapped
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func orderSchema(t *testing.T) source.Schema {
	t.Helper()
	s, err := source.NewSchema(
		[]string{"order", "sku", "amount"},
		[]source.Type{source.Long, source.String, source.String},
	)
	require.NoError(t, err)
	return s
}

func newTestRunner(t *testing.T, cfg Config, mapping config.MappingConfig, backend storage.Backend, src *memSource, c *collector) *Runner {
	t.Helper()
	m, err := mapper.NewFromConfig(mapping, zerolog.Nop())
	require.NoError(t, err)
	if backend == nil {
		backend, err = storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
		require.NoError(t, err)
	}
	return NewRunner(cfg, m, backend,
		func(context.Context) (source.Source, error) { return src, nil },
		func(string) sink.Submitter { return c },
		zerolog.Nop())
}

func TestRun_Direct(t *testing.T) {
	schema := orderSchema(t)
	src := &memSource{parts: []source.Partition{
		&memPartition{id: 0, schema: schema, rows: [][]any{{1, "a", "1"}, {2, "b", "2"}, {3, "c", "3"}}},
		&memPartition{id: 1, schema: schema, rows: [][]any{{4, "d", "4"}, {5, "e", "5"}, {6, "f", "6"}}},
	}}
	c := &collector{}
	r := newTestRunner(t, Config{Workers: 2, BatchSize: 2}, config.MappingConfig{
		UpdateKey: "order",
		Columns:   []config.ColumnOption{{Name: "amount", Type: "NUMBER"}},
	}, nil, src, c)

	report, err := r.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Status)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "manual", report.Trigger)
	assert.Equal(t, 2, report.Partitions)
	assert.Equal(t, int64(6), report.Rows)
	assert.Equal(t, int64(6), report.Records)
	require.Len(t, report.Tasks, 2)
	assert.Equal(t, int64(2), report.Tasks[0].Batches)
	assert.Equal(t, "mem#1", report.Tasks[1].Name)
	assert.True(t, src.closed)

	recs := c.records()
	require.Len(t, recs, 6)
	keys := map[string]bool{}
	for _, m := range recs {
		require.NotNil(t, m.UpdateKey)
		keys[m.UpdateKey.Value] = true
		assert.IsType(t, record.NumberValue{}, m.Record["amount"])
	}
	assert.Len(t, keys, 6)
	assert.Len(t, c.batches, 4)

	history := r.History().List(0)
	require.Len(t, history, 1)
	assert.Equal(t, report.RunID, history[0].RunID)
	assert.False(t, r.Running())
}

func TestRun_AbortsOnMappingError(t *testing.T) {
	schema := orderSchema(t)
	src := &memSource{parts: []source.Partition{
		&memPartition{id: 0, schema: schema, rows: [][]any{{1, "a", "1"}, {2, "b", "two"}, {3, "c", "3"}}},
	}}
	c := &collector{}
	r := newTestRunner(t, Config{Workers: 1, BatchSize: 10}, config.MappingConfig{
		Columns: []config.ColumnOption{{Name: "amount", Type: "NUMBER"}},
	}, nil, src, c)

	report, err := r.Run(context.Background(), "manual")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mapper.ErrNumberFormat))
	assert.Contains(t, err.Error(), "row 2")

	require.NotNil(t, report)
	assert.Equal(t, StatusFailed, report.Status)
	assert.NotEmpty(t, report.Error)
	assert.Equal(t, int64(2), report.Tasks[0].Rows)
	assert.Empty(t, c.records())

	got, ok := r.History().Get(report.RunID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestRun_Reduce(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	schema := orderSchema(t)
	src := &memSource{parts: []source.Partition{
		&memPartition{id: 0, schema: schema, rows: [][]any{{1, "a", "1"}, {2, "b", "2"}}},
		&memPartition{id: 1, schema: schema, rows: [][]any{{1, "c", "3"}}},
	}}
	c := &collector{}
	r := newTestRunner(t, Config{Workers: 2, BatchSize: 10, ReduceKey: "order", SpillPrefix: "spill"}, config.MappingConfig{
		UpdateKey: "order",
		Columns:   []config.ColumnOption{{Name: "sku", Type: "CHECK_BOX"}},
	}, backend, src, c)

	report, err := r.Run(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Reduce[reducer.SummaryReducedRecords])
	assert.Equal(t, int64(3), report.Reduce[reducer.SummarySourceRows])
	assert.Equal(t, int64(2), report.Reduce[reducer.SummarySpillFiles])
	assert.NotEmpty(t, report.Tasks[0].SpillPath)

	recs := c.records()
	require.Len(t, recs, 2)
	byKey := map[string]record.Mapped{}
	for _, m := range recs {
		byKey[m.UpdateKey.Value] = m
	}
	assert.Equal(t, record.CheckBoxValue{Values: []string{"a", "c"}}, byKey["1"].Record["sku"])
	assert.Equal(t, record.CheckBoxValue{Values: []string{"b"}}, byKey["2"].Record["sku"])

	left, err := backend.List(ctx, "spill/")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRun_ReduceColumnMissing(t *testing.T) {
	src := &memSource{parts: []source.Partition{
		&memPartition{id: 0, schema: orderSchema(t), rows: [][]any{{1, "a", "1"}}},
	}}
	r := newTestRunner(t, Config{ReduceKey: "customer"}, config.MappingConfig{}, nil, src, &collector{})

	_, err := r.Run(context.Background(), "manual")
	assert.True(t, errors.Is(err, ErrReduceColumn))
}

func TestRun_RejectsOverlappingRuns(t *testing.T) {
	block := make(chan struct{})
	src := &memSource{parts: []source.Partition{
		&memPartition{id: 0, schema: orderSchema(t), rows: [][]any{{1, "a", "1"}}, block: block},
	}}
	r := newTestRunner(t, Config{}, config.MappingConfig{}, nil, src, &collector{})

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), "scheduled")
		done <- err
	}()
	require.Eventually(t, r.Running, time.Second, 5*time.Millisecond)

	_, err := r.Run(context.Background(), "manual")
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(block)
	require.NoError(t, <-done)
	assert.False(t, r.Running())
}

func TestRun_Canceled(t *testing.T) {
	block := make(chan struct{})
	src := &memSource{parts: []source.Partition{
		&memPartition{id: 0, schema: orderSchema(t), rows: [][]any{{1, "a", "1"}}, block: block},
	}}
	r := newTestRunner(t, Config{}, config.MappingConfig{}, nil, src, &collector{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := r.Run(ctx, "manual")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, report.Status)
}

func encodeColumnar(t *testing.T, names []string, columns ...[]any) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	require.NoError(t, enc.EncodeMapLen(2))
	require.NoError(t, enc.EncodeString("m"))
	require.NoError(t, enc.EncodeString("customers"))
	require.NoError(t, enc.EncodeString("columns"))
	require.NoError(t, enc.EncodeMapLen(len(names)))
	for i, name := range names {
		require.NoError(t, enc.EncodeString(name))
		require.NoError(t, enc.Encode(columns[i]))
	}
	return buf.Bytes()
}

func TestNewFromConfig_EndToEnd(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	data := encodeColumnar(t,
		[]string{"time", "id", "name", "owners"},
		[]any{int64(1710000000000), int64(1710086400000)},
		[]any{int64(1), int64(2)},
		[]any{"Alice", "Bob"},
		[]any{[]any{map[string]any{"name": "Alice", "code": "alice"}}, []any{}},
	)
	require.NoError(t, backend.Write(ctx, "input/customers.msgpack", data))

	cfg := &config.Config{
		Source: config.SourceConfig{Type: "msgpack", Path: "input/customers.msgpack", Partitions: 1},
		Mapping: config.MappingConfig{
			UpdateKey: "id",
			Columns: []config.ColumnOption{
				{Name: "time", FieldCode: "created", Type: "DATE", Timezone: "Asia/Tokyo"},
				{Name: "id", FieldCode: "customer_id", Type: "SINGLE_LINE_TEXT"},
				{Name: "owners", Type: "USER_SELECT"},
			},
		},
		Output:   config.OutputConfig{Prefix: "export", SpillPrefix: "spill", BatchSize: 100, Compression: "gzip"},
		Pipeline: config.PipelineConfig{Workers: 2},
	}
	r, err := NewFromConfig(cfg, backend, zerolog.Nop())
	require.NoError(t, err)

	report, err := r.Run(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Export["export_batches"])
	assert.Equal(t, int64(2), report.Export["export_records"])

	paths, err := backend.List(ctx, "export/"+report.RunID+"/")
	require.NoError(t, err)
	require.Equal(t, []string{"export/" + report.RunID + "/batch-000001.ndjson.gz"}, paths)

	reqs, err := sink.ReadExport(ctx, backend, paths[0])
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	first := reqs[0]
	require.NotNil(t, first.UpdateKey)
	assert.Equal(t, "customer_id", first.UpdateKey.Field)
	assert.Equal(t, "1", first.UpdateKey.Value)
	assert.Equal(t, "SINGLE_LINE_TEXT", first.Record["customer_id"].Type)
	assert.Equal(t, "MULTI_LINE_TEXT", first.Record["name"].Type)
	assert.Equal(t, "2024-03-10", first.Record["created"].Value)
	assert.Equal(t, "USER_SELECT", first.Record["owners"].Type)

	owners, err := record.FromWire(first.Record)
	require.NoError(t, err)
	assert.Equal(t, []record.EntityRef{{Name: "Alice", Code: "alice"}}, record.Entities(owners["owners"]))
}

func TestNewFromConfig_InvalidMapping(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	cfg := &config.Config{Mapping: config.MappingConfig{
		Columns: []config.ColumnOption{{Name: "x", Type: "RICH_TEXT"}},
	}}
	_, err = NewFromConfig(cfg, backend, zerolog.Nop())
	assert.True(t, errors.Is(err, record.ErrUnknownFieldType))
}
