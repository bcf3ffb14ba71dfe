package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/basekick-labs/transcoder/internal/metrics"
	"github.com/basekick-labs/transcoder/internal/record"
	"github.com/basekick-labs/transcoder/internal/storage"
	"github.com/basekick-labs/transcoder/pkg/models"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// ExportConfig locates the export files of one run
type ExportConfig struct {
	Prefix      string
	RunID       string
	Compression string // none, gzip
}

// ExportSink writes each batch as an NDJSON file of upsert request bodies
// under <prefix>/<run id>/batch-<seq>.ndjson[.gz].
type ExportSink struct {
	backend storage.Backend
	cfg     ExportConfig
	logger  zerolog.Logger

	seq     atomic.Int64
	records atomic.Int64
	bytes   atomic.Int64

	mu    sync.Mutex
	paths []string
}

func NewExportSink(backend storage.Backend, cfg ExportConfig, logger zerolog.Logger) *ExportSink {
	return &ExportSink{
		backend: backend,
		cfg:     cfg,
		logger:  logger.With().Str("component", "export-sink").Str("run_id", cfg.RunID).Logger(),
	}
}

func (s *ExportSink) Submit(ctx context.Context, batch []record.Mapped) error {
	if len(batch) == 0 {
		return nil
	}

	data, err := EncodeNDJSON(batch)
	if err != nil {
		return err
	}
	if s.cfg.Compression == "gzip" {
		if data, err = gzipBytes(data); err != nil {
			return err
		}
	}

	seq := s.seq.Add(1)
	path := s.batchPath(seq)
	if err := s.backend.Write(ctx, path, data); err != nil {
		return fmt.Errorf("failed to write export batch %s: %w", path, err)
	}

	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
	s.records.Add(int64(len(batch)))
	s.bytes.Add(int64(len(data)))

	m := metrics.Get()
	m.IncBatchesSubmitted()
	m.AddRecordsSubmitted(int64(len(batch)))
	m.AddExportBytes(int64(len(data)))

	s.logger.Debug().
		Str("path", path).
		Int("records", len(batch)).
		Int("bytes", len(data)).
		Msg("Wrote export batch")
	return nil
}

func (s *ExportSink) batchPath(seq int64) string {
	path := fmt.Sprintf("%s/%s/batch-%06d.ndjson", strings.TrimSuffix(s.cfg.Prefix, "/"), s.cfg.RunID, seq)
	if s.cfg.Compression == "gzip" {
		path += ".gz"
	}
	return path
}

// Paths returns the files written so far in submission order
func (s *ExportSink) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// Stats returns the export counters of the run
func (s *ExportSink) Stats() map[string]int64 {
	return map[string]int64{
		"export_batches": s.seq.Load(),
		"export_records": s.records.Load(),
		"export_bytes":   s.bytes.Load(),
	}
}

// EncodeNDJSON renders one upsert request per line
func EncodeNDJSON(batch []record.Mapped) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, m := range batch {
		if err := enc.Encode(UpsertRequest(m)); err != nil {
			return nil, fmt.Errorf("failed to encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeNDJSON parses export data, transparently handling gzip
func DecodeNDJSON(data []byte) ([]models.UpsertRequest, error) {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip export: %w", err)
		}
		defer zr.Close()
		var plain bytes.Buffer
		if _, err := plain.ReadFrom(zr); err != nil {
			return nil, fmt.Errorf("failed to decompress export: %w", err)
		}
		data = plain.Bytes()
	}

	var out []models.UpsertRequest
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var req models.UpsertRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, req)
	}
	return out, scanner.Err()
}

// ReadExport reads and decodes one export file
func ReadExport(ctx context.Context, backend storage.Backend, path string) ([]models.UpsertRequest, error) {
	data, err := backend.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return DecodeNDJSON(data)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to gzip export batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to gzip export batch: %w", err)
	}
	return buf.Bytes(), nil
}
