package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLConfig describes a query source
type SQLConfig struct {
	Driver string
	DSN    string
	Query  string

	// PartitionColumn and Partitions split the query into Partitions
	// disjoint slices by ABS(column) % Partitions.
	PartitionColumn string
	Partitions      int
}

// SQLSource runs a query through database/sql. Each partition streams its own result set.
type SQLSource struct {
	db     *sql.DB
	cfg    SQLConfig
	logger zerolog.Logger
}

func NewSQLSource(cfg SQLConfig, logger zerolog.Logger) (*SQLSource, error) {
	if strings.TrimSpace(cfg.Query) == "" {
		return nil, fmt.Errorf("sql source requires a query")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &SQLSource{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("component", "sql-source").Str("driver", cfg.Driver).Logger(),
	}, nil
}

// NewSQLSourceFromDB wraps an already open database
func NewSQLSourceFromDB(db *sql.DB, cfg SQLConfig, logger zerolog.Logger) *SQLSource {
	return &SQLSource{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("component", "sql-source").Str("driver", cfg.Driver).Logger(),
	}
}

func (s *SQLSource) Partitions(ctx context.Context) ([]Partition, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", s.cfg.Driver, err)
	}

	n := s.cfg.Partitions
	if n < 1 || s.cfg.PartitionColumn == "" {
		n = 1
	}
	parts := make([]Partition, n)
	for i := 0; i < n; i++ {
		parts[i] = &sqlPartition{id: i, db: s.db, query: partitionQuery(s.cfg, i, n)}
	}
	s.logger.Debug().Int("partitions", n).Msg("Planned query partitions")
	return parts, nil
}

func (s *SQLSource) Close() error {
	return s.db.Close()
}

func partitionQuery(cfg SQLConfig, i, n int) string {
	q := strings.TrimRight(strings.TrimSpace(cfg.Query), ";")
	if n <= 1 {
		return q
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS src WHERE ABS(%s) %% %d = %d", q, cfg.PartitionColumn, n, i)
}

type sqlPartition struct {
	id    int
	db    *sql.DB
	query string
}

func (p *sqlPartition) ID() int      { return p.id }
func (p *sqlPartition) Name() string { return fmt.Sprintf("query#%d", p.id) }

func (p *sqlPartition) Open(ctx context.Context) (Cursor, error) {
	rows, err := p.db.QueryContext(ctx, p.query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	c, err := NewRowsCursor(rows)
	if err != nil {
		rows.Close()
		return nil, err
	}
	return c, nil
}

// RowsCursor streams a *sql.Rows result set
type RowsCursor struct {
	rows   *sql.Rows
	schema Schema
	scan   []any
	ptrs   []any
	cur    row
	err    error
}

// NewRowsCursor derives the schema from the result set's column types
func NewRowsCursor(rows *sql.Rows) (*RowsCursor, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}
	names := make([]string, len(colTypes))
	types := make([]Type, len(colTypes))
	for i, ct := range colTypes {
		names[i] = ct.Name()
		types[i] = SQLType(ct.DatabaseTypeName())
	}
	schema, err := NewSchema(names, types)
	if err != nil {
		return nil, err
	}

	c := &RowsCursor{
		rows:   rows,
		schema: schema,
		scan:   make([]any, len(names)),
		ptrs:   make([]any, len(names)),
	}
	for i := range c.scan {
		c.ptrs[i] = &c.scan[i]
	}
	return c, nil
}

// SQLType maps a database type name to a source type. Unknown names read as strings.
func SQLType(dbType string) Type {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	for _, wrapper := range []string{"NULLABLE(", "LOWCARDINALITY("} {
		if strings.HasPrefix(t, wrapper) {
			t = strings.TrimSuffix(strings.TrimPrefix(t, wrapper), ")")
		}
	}
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch {
	case t == "BOOL" || t == "BOOLEAN":
		return Boolean
	case t == "JSON" || t == "JSONB":
		return JSON
	case strings.HasPrefix(t, "TIMESTAMP") || strings.HasPrefix(t, "DATETIME") || t == "DATE" || t == "DATE32":
		return Timestamp
	case strings.HasPrefix(t, "INTERVAL"):
		return String
	case strings.Contains(t, "INT") || strings.Contains(t, "SERIAL"):
		return Long
	case strings.HasPrefix(t, "FLOAT") || strings.HasPrefix(t, "DOUBLE") || t == "REAL" ||
		strings.HasPrefix(t, "DECIMAL") || t == "NUMERIC":
		return Double
	default:
		return String
	}
}

func (c *RowsCursor) Schema() Schema { return c.schema }

func (c *RowsCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	if err := c.rows.Scan(c.ptrs...); err != nil {
		c.err = fmt.Errorf("failed to scan row: %w", err)
		return false
	}
	r := make(row, len(c.scan))
	for _, col := range c.schema.Columns {
		v, err := normalize(col.Type, c.scan[col.Index])
		if err != nil {
			c.err = fmt.Errorf("column %s: %w", col.Name, err)
			return false
		}
		r[col.Index] = v
	}
	c.cur = r
	return true
}

func (c *RowsCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *RowsCursor) Close() error { return c.rows.Close() }

func (c *RowsCursor) IsNull(col Column) bool          { return c.cur.isNull(col) }
func (c *RowsCursor) Bool(col Column) bool            { return c.cur.boolean(col) }
func (c *RowsCursor) Long(col Column) int64           { return c.cur.long(col) }
func (c *RowsCursor) Double(col Column) float64       { return c.cur.double(col) }
func (c *RowsCursor) String(col Column) string        { return c.cur.str(col) }
func (c *RowsCursor) Timestamp(col Column) time.Time  { return c.cur.timestamp(col) }
func (c *RowsCursor) JSON(col Column) json.RawMessage { return c.cur.json(col) }
