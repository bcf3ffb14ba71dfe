// Package pipeline runs a transcoding job: it maps every partition of a
// source concurrently and hands the records to a submitter, optionally
// through a spill and reduce phase.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/basekick-labs/transcoder/internal/config"
	"github.com/basekick-labs/transcoder/internal/mapper"
	"github.com/basekick-labs/transcoder/internal/metrics"
	"github.com/basekick-labs/transcoder/internal/reducer"
	"github.com/basekick-labs/transcoder/internal/sink"
	"github.com/basekick-labs/transcoder/internal/source"
	"github.com/basekick-labs/transcoder/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrRunInProgress is returned when Run is called while another run is active
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrReduceColumn is returned when a partition lacks the reduce-key column
	ErrReduceColumn = errors.New("reduce key column not found")
)

// SourceOpener opens the source for one run
type SourceOpener func(ctx context.Context) (source.Source, error)

// SubmitterFactory returns the submitter for one run
type SubmitterFactory func(runID string) sink.Submitter

// statsReporter is implemented by submitters that count what they wrote
type statsReporter interface {
	Stats() map[string]int64
}

type Config struct {
	Workers     int
	BatchSize   int
	ReduceKey   string
	SpillPrefix string
	HistorySize int
}

type Runner struct {
	cfg        Config
	mapper     *mapper.Mapper
	backend    storage.Backend
	open       SourceOpener
	submitters SubmitterFactory
	reducer    *reducer.Reducer
	history    *History
	running    atomic.Bool
	logger     zerolog.Logger
}

func NewRunner(cfg Config, m *mapper.Mapper, backend storage.Backend, open SourceOpener, submitters SubmitterFactory, logger zerolog.Logger) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.SpillPrefix == "" {
		cfg.SpillPrefix = "spill"
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 50
	}
	return &Runner{
		cfg:        cfg,
		mapper:     m,
		backend:    backend,
		open:       open,
		submitters: submitters,
		reducer:    reducer.New(backend, cfg.BatchSize, logger),
		history:    NewHistory(cfg.HistorySize),
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}
}

// NewFromConfig wires the mapper, source and export sink described by cfg.
// Mapping configuration errors surface here, before any row is read.
func NewFromConfig(cfg *config.Config, backend storage.Backend, logger zerolog.Logger) (*Runner, error) {
	m, err := mapper.NewFromConfig(cfg.Mapping, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid mapping configuration: %w", err)
	}

	open := func(ctx context.Context) (source.Source, error) {
		return source.New(cfg.Source, backend, logger)
	}
	submitters := func(runID string) sink.Submitter {
		return sink.NewExportSink(backend, sink.ExportConfig{
			Prefix:      cfg.Output.Prefix,
			RunID:       runID,
			Compression: cfg.Output.Compression,
		}, logger)
	}

	return NewRunner(Config{
		Workers:     cfg.Pipeline.Workers,
		BatchSize:   cfg.Output.BatchSize,
		ReduceKey:   cfg.Mapping.ReduceKey,
		SpillPrefix: cfg.Output.SpillPrefix,
	}, m, backend, open, submitters, logger), nil
}

func (r *Runner) History() *History { return r.history }

// Running reports whether a run is in progress
func (r *Runner) Running() bool { return r.running.Load() }

// Run executes one run. The first partition error cancels the others and
// fails the run; the report is returned either way.
func (r *Runner) Run(ctx context.Context, trigger string) (*RunReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	report := &RunReport{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	m := metrics.Get()
	m.IncRunsStarted()

	logger := r.logger.With().Str("run_id", report.RunID).Logger()
	logger.Info().Str("trigger", trigger).Msg("Run started")

	err := r.execute(ctx, report, logger)

	report.FinishedAt = time.Now().UTC()
	report.DurationMs = report.FinishedAt.Sub(report.StartedAt).Milliseconds()
	if err != nil {
		report.Status = StatusFailed
		report.Error = err.Error()
		m.IncRunsFailed()
		logger.Error().Err(err).Int64("duration_ms", report.DurationMs).Msg("Run failed")
	} else {
		report.Status = StatusSucceeded
		m.IncRunsSucceeded()
		logger.Info().
			Int("partitions", report.Partitions).
			Int64("rows", report.Rows).
			Int64("records", report.Records).
			Int64("duration_ms", report.DurationMs).
			Msg("Run completed")
	}
	r.history.Add(*report)
	return report, err
}

func (r *Runner) execute(ctx context.Context, report *RunReport, logger zerolog.Logger) error {
	src, err := r.open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	parts, err := src.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}
	report.Partitions = len(parts)

	submitter := r.submitters(report.RunID)
	tasks := make([]TaskReport, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, p := range parts {
		g.Go(func() error {
			task, err := r.runPartition(gctx, report.RunID, p, submitter, logger)
			tasks[i] = task
			return err
		})
	}
	err = g.Wait()

	report.Tasks = tasks
	var spillPaths []string
	for _, t := range tasks {
		report.Rows += t.Rows
		report.Records += t.Records
		if t.SpillPath != "" {
			spillPaths = append(spillPaths, t.SpillPath)
		}
	}
	if err != nil {
		if len(spillPaths) > 0 {
			if derr := storage.DeleteAll(context.WithoutCancel(ctx), r.backend, spillPaths); derr != nil {
				logger.Warn().Err(derr).Msg("Failed to remove spill files of failed run")
			}
		}
		return err
	}

	if r.cfg.ReduceKey != "" {
		summary, err := r.reducer.Reduce(ctx, spillPaths, submitter)
		if err != nil {
			return fmt.Errorf("reduce failed: %w", err)
		}
		report.Reduce = summary
	}
	if s, ok := submitter.(statsReporter); ok {
		report.Export = s.Stats()
	}
	return nil
}

func (r *Runner) newOutput(runID string, partition int, submitter sink.Submitter) (PageOutput, error) {
	if r.cfg.ReduceKey == "" {
		return newDirectOutput(submitter, r.cfg.BatchSize), nil
	}
	path := fmt.Sprintf("%s/%s/task-%05d.msgpack.zst", strings.TrimSuffix(r.cfg.SpillPrefix, "/"), runID, partition)
	return newSpillOutput(r.backend, path)
}

func (r *Runner) runPartition(ctx context.Context, runID string, p source.Partition, submitter sink.Submitter, runLogger zerolog.Logger) (TaskReport, error) {
	start := time.Now()
	task := TaskReport{Partition: p.ID(), Name: p.Name()}
	logger := runLogger.With().Int("partition", p.ID()).Str("name", p.Name()).Logger()
	m := metrics.Get()
	m.IncPartitions()

	fail := func(err error) (TaskReport, error) {
		m.IncPartitionsFailed()
		task.DurationMs = time.Since(start).Milliseconds()
		task.Error = err.Error()
		logger.Error().Err(err).Int64("rows", task.Rows).Msg("Partition failed")
		return task, err
	}

	cursor, err := p.Open(ctx)
	if err != nil {
		return fail(fmt.Errorf("partition %s: %w", p.Name(), err))
	}
	defer cursor.Close()

	schema := cursor.Schema()
	r.mapper.Describe(schema)

	var reduceCol *source.Column
	if r.cfg.ReduceKey != "" {
		col, ok := schema.Lookup(r.cfg.ReduceKey)
		if !ok {
			return fail(fmt.Errorf("partition %s: %w: %s", p.Name(), ErrReduceColumn, r.cfg.ReduceKey))
		}
		reduceCol = &col
	}

	out, err := r.newOutput(runID, p.ID(), submitter)
	if err != nil {
		return fail(fmt.Errorf("partition %s: %w", p.Name(), err))
	}

	nullDoubleAsText := r.mapper.Options().NullDoubleAsText
	logger.Info().Int("columns", schema.Len()).Msg("Partition started")

	for cursor.Next() {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		task.Rows++
		mapped, err := r.mapper.MapRow(cursor)
		if err != nil {
			m.IncMappingErrors()
			m.AddRowsRead(1)
			return fail(fmt.Errorf("partition %s row %d: %w", p.Name(), task.Rows, err))
		}
		var key string
		if reduceCol != nil {
			key = mapper.Stringify(cursor, *reduceCol, nullDoubleAsText)
		}
		if err := out.Add(ctx, mapped, key); err != nil {
			return fail(fmt.Errorf("partition %s row %d: %w", p.Name(), task.Rows, err))
		}
		m.AddRowsRead(1)
		m.AddRecordsMapped(1)
	}
	if err := cursor.Err(); err != nil {
		return fail(fmt.Errorf("partition %s: %w", p.Name(), err))
	}
	if err := out.Finish(ctx); err != nil {
		return fail(fmt.Errorf("partition %s: %w", p.Name(), err))
	}

	committed := out.Commit()
	task.Records = committed.Records
	task.Batches = committed.Batches
	task.SpillPath = committed.SpillPath
	task.DurationMs = time.Since(start).Milliseconds()

	logger.Info().
		Int64("rows", task.Rows).
		Int64("records", task.Records).
		Int64("duration_ms", task.DurationMs).
		Msg("Partition completed")
	return task, nil
}
