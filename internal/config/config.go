// Package config loads and validates annotator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/JakeFAU/uniprot-annotator/internal/extract"
)

// EnvPrefix prefixes every environment override, e.g. ANNOTATOR_RUN_WORKERS.
const EnvPrefix = "ANNOTATOR"

// Source modes.
const (
	ModeHTTP     = "http"
	ModeHeadless = "headless"
	// ModeAuto probes with plain HTTP and re-renders pages that look like
	// script-only shells.
	ModeAuto = "auto"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Run       RunConfig       `mapstructure:"run"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	DB        DBConfig        `mapstructure:"db"`
	Server    ServerConfig    `mapstructure:"server"`
}

// SourceConfig describes where entry pages come from.
type SourceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Mode           string `mapstructure:"mode"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
	SettleMs      int `mapstructure:"settle_ms"`

	// PromotionThreshold is the body size under which a script-heavy page is
	// re-rendered in auto mode.
	PromotionThreshold int `mapstructure:"promotion_threshold"`
}

// ExtractConfig holds the page tokens the extractor scans for.
type ExtractConfig struct {
	Markers    []string `mapstructure:"markers"`
	Subheading string   `mapstructure:"subheading"`
	Terminator string   `mapstructure:"terminator"`
}

// RunConfig controls how a table is processed.
type RunConfig struct {
	Parallel      bool   `mapstructure:"parallel"`
	Workers       int    `mapstructure:"workers"`
	SummaryColumn string `mapstructure:"summary_column"`
	OutputSuffix  string `mapstructure:"output_suffix"`
}

// NormalizeConfig rewrites identifiers before lookup.
type NormalizeConfig struct {
	StripPrefix string `mapstructure:"strip_prefix"`
	Truncate    int    `mapstructure:"truncate"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls batch-mode metric export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// ArchiveConfig selects where raw entry pages are archived.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres result ledger.
type DBConfig struct {
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	RunsTable string `mapstructure:"runs_table"`
	MaxConns  int    `mapstructure:"max_conns"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ListSeparator splits list values given as a single string, such as
// ANNOTATOR_EXTRACT_MARKERS. Marker phrases contain commas, so "," cannot be used.
const ListSeparator = "||"

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(ListSeparator),
	))); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key needs a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "https://www.uniprot.org/uniprot/")
	v.SetDefault("source.user_agent", "Mozilla/5.0")
	v.SetDefault("source.timeout_seconds", 20)
	v.SetDefault("source.mode", ModeHTTP)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("extract.markers", extract.DefaultMarkers())
	v.SetDefault("extract.subheading", extract.DefaultSubheading)
	v.SetDefault("extract.terminator", extract.DefaultTerminator)
	v.SetDefault("run.parallel", false)
	v.SetDefault("run.workers", 0)
	v.SetDefault("run.summary_column", "summary")
	v.SetDefault("run.output_suffix", "_annotated")
	v.SetDefault("normalize.strip_prefix", "")
	v.SetDefault("normalize.truncate", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.base_dir", "pages")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "annotations")
	v.SetDefault("db.runs_table", "annotation_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must be set")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	switch c.Source.Mode {
	case ModeHTTP:
	case ModeHeadless, ModeAuto:
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when source.mode is %s", c.Source.Mode)
		}
	default:
		return fmt.Errorf("source.mode must be %q, %q or %q, got %q", ModeHTTP, ModeHeadless, ModeAuto, c.Source.Mode)
	}
	if c.Extract.Subheading == "" || c.Extract.Terminator == "" {
		return fmt.Errorf("extract.subheading and extract.terminator must be set")
	}
	if c.Run.Workers < 0 {
		return fmt.Errorf("run.workers must be >= 0")
	}
	if c.Run.SummaryColumn == "" {
		return fmt.Errorf("run.summary_column must be set")
	}
	if c.Normalize.Truncate < 0 {
		return fmt.Errorf("normalize.truncate must be >= 0")
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	if c.DB.DSN != "" && (c.DB.Table == "" || c.DB.RunsTable == "") {
		return fmt.Errorf("db.table and db.runs_table must be set when db.dsn is configured")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// FetchTimeout converts source.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// NavTimeout converts headless.nav_timeout_seconds into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
