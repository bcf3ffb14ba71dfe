package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the transcoder
type Config struct {
	Log       LogConfig
	Storage   StorageConfig
	Source    SourceConfig
	Mapping   MappingConfig
	Output    OutputConfig
	Pipeline  PipelineConfig
	Scheduler SchedulerConfig
	Server    ServerConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	Backend   string
	LocalPath string
	// S3/MinIO configuration
	S3Bucket    string
	S3Region    string
	S3Endpoint  string // Custom endpoint for MinIO (e.g., "http://localhost:9000")
	S3AccessKey string // AWS access key (or use AWS_ACCESS_KEY_ID env var)
	S3SecretKey string // AWS secret key (or use AWS_SECRET_ACCESS_KEY env var)
	S3UseSSL    bool
	S3PathStyle bool // Use path-style addressing (required for MinIO)
	// Azure Blob Storage configuration
	AzureConnectionString   string
	AzureAccountName        string
	AzureAccountKey         string
	AzureSASToken           string
	AzureContainer          string
	AzureEndpoint           string // Custom endpoint (for Azurite testing)
	AzureUseManagedIdentity bool
}

// SourceConfig selects where rows come from.
// File sources (arrow, msgpack) read Path through the storage backend.
type SourceConfig struct {
	Type            string // arrow, msgpack, sql
	Path            string
	Driver          string // sqlite3, duckdb, pgx, clickhouse, mysql
	DSN             string
	Query           string
	PartitionColumn string // integer column used to split the query into partitions
	Partitions      int
}

// ColumnOption overrides how one source column is mapped
type ColumnOption struct {
	Name           string `mapstructure:"name"`
	FieldCode      string `mapstructure:"field_code"`
	Type           string `mapstructure:"type"`
	Timezone       string `mapstructure:"timezone"`
	ValueSeparator string `mapstructure:"value_separator"`
}

type MappingConfig struct {
	Columns          []ColumnOption
	UpdateKey        string // column whose value identifies the record to upsert
	ReduceKey        string // column grouping rows into one record through the reducer
	JSONDefaultType  string // default field type for json columns
	NullDoubleAsText bool   // stringify null doubles as "null" instead of mapping them to an empty value
}

type OutputConfig struct {
	Prefix      string // export path prefix on the storage backend
	SpillPrefix string // reduce spill path prefix on the storage backend
	BatchSize   int    // records per submitted batch
	Compression string // none, gzip
}

type PipelineConfig struct {
	Workers int // max partitions mapped concurrently
}

type SchedulerConfig struct {
	Schedule string // 5-field cron schedule used by `serve`
}

type ServerConfig struct {
	Enabled         bool
	Host            string
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int
}

var (
	validSourceTypes  = []string{"arrow", "msgpack", "sql"}
	validSQLDrivers   = []string{"sqlite3", "duckdb", "pgx", "clickhouse", "mysql"}
	validBackends     = []string{"local", "s3", "azure"}
	validCompressions = []string{"none", "gzip"}
)

// Load loads configuration from defaults, an optional config file and environment.
// An explicit path must exist; without one the usual search path is tried.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TRANSCODER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("transcoder")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/transcoder/")
		v.AddConfigPath("$HOME/.transcoder/")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// Config file not found is OK, use defaults
		}
	}

	var columns []ColumnOption
	if err := v.UnmarshalKey("mapping.columns", &columns); err != nil {
		return nil, fmt.Errorf("invalid mapping.columns: %w", err)
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Storage: StorageConfig{
			Backend:                 v.GetString("storage.backend"),
			LocalPath:               v.GetString("storage.local_path"),
			S3Bucket:                v.GetString("storage.s3_bucket"),
			S3Region:                v.GetString("storage.s3_region"),
			S3Endpoint:              v.GetString("storage.s3_endpoint"),
			S3AccessKey:             v.GetString("storage.s3_access_key"),
			S3SecretKey:             v.GetString("storage.s3_secret_key"),
			S3UseSSL:                v.GetBool("storage.s3_use_ssl"),
			S3PathStyle:             v.GetBool("storage.s3_path_style"),
			AzureConnectionString:   v.GetString("storage.azure_connection_string"),
			AzureAccountName:        v.GetString("storage.azure_account_name"),
			AzureAccountKey:         v.GetString("storage.azure_account_key"),
			AzureSASToken:           v.GetString("storage.azure_sas_token"),
			AzureContainer:          v.GetString("storage.azure_container"),
			AzureEndpoint:           v.GetString("storage.azure_endpoint"),
			AzureUseManagedIdentity: v.GetBool("storage.azure_use_managed_identity"),
		},
		Source: SourceConfig{
			Type:            v.GetString("source.type"),
			Path:            v.GetString("source.path"),
			Driver:          v.GetString("source.driver"),
			DSN:             v.GetString("source.dsn"),
			Query:           v.GetString("source.query"),
			PartitionColumn: v.GetString("source.partition_column"),
			Partitions:      v.GetInt("source.partitions"),
		},
		Mapping: MappingConfig{
			Columns:          columns,
			UpdateKey:        v.GetString("mapping.update_key"),
			ReduceKey:        v.GetString("mapping.reduce_key"),
			JSONDefaultType:  v.GetString("mapping.json_default_type"),
			NullDoubleAsText: v.GetBool("mapping.null_double_as_text"),
		},
		Output: OutputConfig{
			Prefix:      v.GetString("output.prefix"),
			SpillPrefix: v.GetString("output.spill_prefix"),
			BatchSize:   v.GetInt("output.batch_size"),
			Compression: v.GetString("output.compression"),
		},
		Pipeline: PipelineConfig{
			Workers: v.GetInt("pipeline.workers"),
		},
		Scheduler: SchedulerConfig{
			Schedule: v.GetString("scheduler.schedule"),
		},
		Server: ServerConfig{
			Enabled:         v.GetBool("server.enabled"),
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetInt("server.read_timeout"),
			WriteTimeout:    v.GetInt("server.write_timeout"),
			ShutdownTimeout: v.GetInt("server.shutdown_timeout"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Storage defaults
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_path", "./data")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_ssl", true)
	v.SetDefault("storage.s3_path_style", false) // set true for MinIO

	// Source defaults
	v.SetDefault("source.type", "arrow")
	v.SetDefault("source.partitions", 1)

	// Mapping defaults
	v.SetDefault("mapping.json_default_type", "MULTI_LINE_TEXT")
	v.SetDefault("mapping.null_double_as_text", false)

	// Output defaults
	v.SetDefault("output.prefix", "export")
	v.SetDefault("output.spill_prefix", "spill")
	v.SetDefault("output.batch_size", 100) // platform limit per bulk request
	v.SetDefault("output.compression", "none")

	// Pipeline defaults
	v.SetDefault("pipeline.workers", getDefaultWorkers())

	// Scheduler defaults
	v.SetDefault("scheduler.schedule", "0 * * * *") // hourly

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 30)
}

func getDefaultWorkers() int {
	workers := runtime.NumCPU()
	if workers < 2 {
		return 2
	}
	if workers > 32 {
		return 32
	}
	return workers
}

// Validate checks enumerations and ranges that cannot be expressed as defaults.
// Field types and timezones of column options are checked by the column resolver.
func (cfg *Config) Validate() error {
	if !oneOf(cfg.Storage.Backend, validBackends) {
		return fmt.Errorf("invalid storage.backend %q (use one of %s)", cfg.Storage.Backend, strings.Join(validBackends, ", "))
	}

	switch cfg.Source.Type {
	case "arrow", "msgpack":
		if cfg.Source.Path == "" {
			return fmt.Errorf("source.path is required for %s sources", cfg.Source.Type)
		}
	case "sql":
		if !oneOf(cfg.Source.Driver, validSQLDrivers) {
			return fmt.Errorf("invalid source.driver %q (use one of %s)", cfg.Source.Driver, strings.Join(validSQLDrivers, ", "))
		}
		if strings.TrimSpace(cfg.Source.Query) == "" {
			return fmt.Errorf("source.query is required for sql sources")
		}
		if cfg.Source.Partitions > 1 && cfg.Source.PartitionColumn == "" {
			return fmt.Errorf("source.partition_column is required when source.partitions > 1")
		}
	default:
		return fmt.Errorf("invalid source.type %q (use one of %s)", cfg.Source.Type, strings.Join(validSourceTypes, ", "))
	}
	if cfg.Source.Partitions < 1 {
		return fmt.Errorf("source.partitions must be at least 1, got %d", cfg.Source.Partitions)
	}

	seen := make(map[string]bool, len(cfg.Mapping.Columns))
	for i, opt := range cfg.Mapping.Columns {
		if opt.Name == "" {
			return fmt.Errorf("mapping.columns[%d]: name is required", i)
		}
		if seen[opt.Name] {
			return fmt.Errorf("mapping.columns[%d]: duplicate column %q", i, opt.Name)
		}
		seen[opt.Name] = true
	}

	if cfg.Output.BatchSize < 1 {
		return fmt.Errorf("output.batch_size must be at least 1, got %d", cfg.Output.BatchSize)
	}
	if !oneOf(cfg.Output.Compression, validCompressions) {
		return fmt.Errorf("invalid output.compression %q (use one of %s)", cfg.Output.Compression, strings.Join(validCompressions, ", "))
	}
	if cfg.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", cfg.Pipeline.Workers)
	}
	return nil
}

func oneOf(value string, valid []string) bool {
	for _, v := range valid {
		if v == value {
			return true
		}
	}
	return false
}
