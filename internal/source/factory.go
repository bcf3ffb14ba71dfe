package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/basekick-labs/transcoder/internal/config"
	"github.com/basekick-labs/transcoder/internal/storage"
	"github.com/rs/zerolog"
)

// New builds the source selected by cfg.Type. File sources read through backend.
func New(cfg config.SourceConfig, backend storage.Backend, logger zerolog.Logger) (Source, error) {
	switch cfg.Type {
	case "arrow":
		return NewArrowSource(backend, cfg.Path, logger), nil
	case "msgpack":
		return NewMsgPackSource(backend, cfg.Path, logger), nil
	case "sql":
		return NewSQLSource(SQLConfig{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			Query:           cfg.Query,
			PartitionColumn: cfg.PartitionColumn,
			Partitions:      cfg.Partitions,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
}

// resolvePaths returns path itself when the object exists, otherwise every
// object listed under it as a prefix.
func resolvePaths(ctx context.Context, backend storage.Backend, path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("source path is required")
	}
	if !strings.HasSuffix(path, "/") {
		ok, err := backend.Exists(ctx, path)
		if err != nil {
			return nil, err
		}
		if ok {
			return []string{path}, nil
		}
	}
	paths, err := backend.List(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input found at %s", path)
	}
	return paths, nil
}
