// Package sink is the submission boundary: mapped records leave the
// transcoder through a Submitter.
package sink

import (
	"context"

	"github.com/basekick-labs/transcoder/internal/record"
	"github.com/basekick-labs/transcoder/pkg/models"
)

// Submitter receives batches of mapped records. Implementations must be safe
// for concurrent use; partitions submit independently.
type Submitter interface {
	Submit(ctx context.Context, batch []record.Mapped) error
}

// SubmitterFunc adapts a function to Submitter
type SubmitterFunc func(ctx context.Context, batch []record.Mapped) error

func (f SubmitterFunc) Submit(ctx context.Context, batch []record.Mapped) error {
	return f(ctx, batch)
}

// UpsertRequest converts a mapped row into its export body
func UpsertRequest(m record.Mapped) models.UpsertRequest {
	return models.UpsertRequest{
		UpdateKey: record.UpdateKeyToWire(m.UpdateKey),
		Record:    record.ToWire(m.Record),
	}
}

// Batcher groups records into batches of at most size before submitting them.
// A Batcher belongs to one partition and is not safe for concurrent use.
type Batcher struct {
	submitter Submitter
	size      int
	buf       []record.Mapped

	batches int64
	records int64
}

func NewBatcher(submitter Submitter, size int) *Batcher {
	if size < 1 {
		size = 1
	}
	return &Batcher{
		submitter: submitter,
		size:      size,
		buf:       make([]record.Mapped, 0, size),
	}
}

// Add buffers m and submits the batch once it is full
func (b *Batcher) Add(ctx context.Context, m record.Mapped) error {
	b.buf = append(b.buf, m)
	if len(b.buf) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush submits any buffered records
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	batch := b.buf
	if err := b.submitter.Submit(ctx, batch); err != nil {
		return err
	}
	b.batches++
	b.records += int64(len(batch))
	b.buf = make([]record.Mapped, 0, b.size)
	return nil
}

// Batches returns the number of batches submitted
func (b *Batcher) Batches() int64 { return b.batches }

// Records returns the number of records submitted
func (b *Batcher) Records() int64 { return b.records }
