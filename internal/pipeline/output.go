package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/basekick-labs/transcoder/internal/metrics"
	"github.com/basekick-labs/transcoder/internal/record"
	"github.com/basekick-labs/transcoder/internal/sink"
	"github.com/basekick-labs/transcoder/internal/spill"
	"github.com/basekick-labs/transcoder/internal/storage"
	"github.com/basekick-labs/transcoder/pkg/models"
)

// PageOutput receives the mapped rows of one partition
type PageOutput interface {
	// Add hands over one mapped row; reduceKey is the raw reduce-column text
	Add(ctx context.Context, m record.Mapped, reduceKey string) error
	// Finish flushes anything buffered
	Finish(ctx context.Context) error
	// Commit reports what the output received
	Commit() TaskReport
}

// directOutput batches records straight to the submitter
type directOutput struct {
	batcher *sink.Batcher
}

func newDirectOutput(submitter sink.Submitter, batchSize int) *directOutput {
	return &directOutput{batcher: sink.NewBatcher(submitter, batchSize)}
}

func (o *directOutput) Add(ctx context.Context, m record.Mapped, _ string) error {
	return o.batcher.Add(ctx, m)
}

func (o *directOutput) Finish(ctx context.Context) error {
	return o.batcher.Flush(ctx)
}

func (o *directOutput) Commit() TaskReport {
	return TaskReport{Records: o.batcher.Records(), Batches: o.batcher.Batches()}
}

// spillOutput buffers entries for the reducer and stores them as one spill file
type spillOutput struct {
	backend storage.Backend
	path    string
	buf     bytes.Buffer
	writer  *spill.Writer
	written bool
}

func newSpillOutput(backend storage.Backend, path string) (*spillOutput, error) {
	o := &spillOutput{backend: backend, path: path}
	w, err := spill.NewWriter(&o.buf)
	if err != nil {
		return nil, err
	}
	o.writer = w
	return o, nil
}

func (o *spillOutput) Add(_ context.Context, m record.Mapped, reduceKey string) error {
	return o.writer.Append(models.SpillEntry{
		ReduceKey: reduceKey,
		Record:    record.ToWire(m.Record),
		UpdateKey: record.UpdateKeyToWire(m.UpdateKey),
	})
}

func (o *spillOutput) Finish(ctx context.Context) error {
	if err := o.writer.Close(); err != nil {
		return fmt.Errorf("failed to close spill file %s: %w", o.path, err)
	}
	if err := o.backend.Write(ctx, o.path, o.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write spill file %s: %w", o.path, err)
	}
	o.written = true

	m := metrics.Get()
	m.IncSpillFiles()
	m.AddSpillBytes(int64(o.buf.Len()))
	return nil
}

func (o *spillOutput) Commit() TaskReport {
	t := TaskReport{Records: int64(o.writer.Entries())}
	if o.written {
		t.SpillPath = o.path
	}
	return t
}
