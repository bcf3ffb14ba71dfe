// Package reducer merges spilled rows that share a reduce-key value into one
// record each and submits the merged records.
package reducer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/basekick-labs/transcoder/internal/metrics"
	"github.com/basekick-labs/transcoder/internal/record"
	"github.com/basekick-labs/transcoder/internal/sink"
	"github.com/basekick-labs/transcoder/internal/spill"
	"github.com/basekick-labs/transcoder/internal/storage"
	"github.com/rs/zerolog"
)

// Summary keys reported by Reduce
const (
	SummaryReducedRecords = "reduced_records"
	SummarySourceRows     = "source_rows"
	SummarySpillFiles     = "spill_files"
	SummaryBatches        = "batches"
)

type Reducer struct {
	backend   storage.Backend
	batchSize int
	keep      bool
	logger    zerolog.Logger
}

type Option func(*Reducer)

// KeepSpill leaves spill files in place after a successful reduce
func KeepSpill() Option {
	return func(r *Reducer) { r.keep = true }
}

func New(backend storage.Backend, batchSize int, logger zerolog.Logger, opts ...Option) *Reducer {
	r := &Reducer{
		backend:   backend,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "reducer").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// group accumulates the rows of one reduce-key value
type group struct {
	rec       record.Record
	updateKey *record.UpdateKey
}

// Reduce reads every spill file in order, merges entries by reduce key in
// first-seen order and submits the merged records. Spill files are removed
// once every record was submitted.
func (r *Reducer) Reduce(ctx context.Context, paths []string, submitter sink.Submitter) (map[string]int64, error) {
	start := time.Now()

	var (
		order  []string
		groups = make(map[string]*group)
		rows   int64
	)
	for _, path := range paths {
		n, err := r.readSpill(ctx, path, func(key string, rec record.Record, uk *record.UpdateKey) {
			g, ok := groups[key]
			if !ok {
				g = &group{rec: make(record.Record, len(rec))}
				groups[key] = g
				order = append(order, key)
			}
			Merge(g.rec, rec)
			if uk != nil {
				g.updateKey = uk
			}
		})
		if err != nil {
			return nil, err
		}
		rows += n
	}

	batcher := sink.NewBatcher(submitter, r.batchSize)
	for _, key := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g := groups[key]
		if err := batcher.Add(ctx, record.Mapped{Record: g.rec, UpdateKey: g.updateKey}); err != nil {
			return nil, fmt.Errorf("failed to submit reduced records: %w", err)
		}
	}
	if err := batcher.Flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to submit reduced records: %w", err)
	}

	if !r.keep {
		if err := storage.DeleteAll(ctx, r.backend, paths); err != nil {
			r.logger.Warn().Err(err).Int("files", len(paths)).Msg("Failed to remove spill files")
		}
	}

	metrics.Get().AddReducedRecords(int64(len(order)))
	r.logger.Info().
		Int("spill_files", len(paths)).
		Int64("source_rows", rows).
		Int("reduced_records", len(order)).
		Dur("duration", time.Since(start)).
		Msg("Reduce completed")

	return map[string]int64{
		SummaryReducedRecords: int64(len(order)),
		SummarySourceRows:     rows,
		SummarySpillFiles:     int64(len(paths)),
		SummaryBatches:        batcher.Batches(),
	}, nil
}

func (r *Reducer) readSpill(ctx context.Context, path string, fn func(string, record.Record, *record.UpdateKey)) (int64, error) {
	data, err := r.backend.Read(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to read spill file %s: %w", path, err)
	}
	reader, err := spill.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("spill file %s: %w", path, err)
	}
	defer reader.Close()

	var n int64
	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("spill file %s entry %d: %w", path, n, err)
		}
		rec, err := record.FromWire(entry.Record)
		if err != nil {
			return n, fmt.Errorf("spill file %s entry %d: %w", path, n, err)
		}
		fn(entry.ReduceKey, rec, record.UpdateKeyFromWire(entry.UpdateKey))
		n++
	}
	r.logger.Debug().Str("path", path).Int64("entries", n).Msg("Read spill file")
	return n, nil
}
