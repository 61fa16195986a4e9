// Package config loads the epiboard configuration.
//
// A YAML file is decoded over built-in defaults, environment overrides are
// applied, and the result is checked against an embedded CUE schema before
// anything else runs.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/failure"
	"github.com/roach88/epiboard/internal/loader"
	"github.com/roach88/epiboard/internal/metrics"
	"github.com/roach88/epiboard/internal/normalize"
	"github.com/roach88/epiboard/internal/query"
	"github.com/roach88/epiboard/internal/retry"
	"github.com/roach88/epiboard/internal/source"
)

//go:embed schema.cue
var schemaCUE string

// Environment overrides.
const (
	EnvDatabase = "EPIBOARD_DB"
	EnvLogLevel = "EPIBOARD_LOG_LEVEL"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", node.Line)
	}
	if err := d.UnmarshalText([]byte(node.Value)); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

// Config is the full configuration tree.
type Config struct {
	Database  string          `json:"database" yaml:"database"`
	Source    SourceConfig    `json:"source" yaml:"source"`
	Reference ReferenceConfig `json:"reference" yaml:"reference"`
	Names     NamesConfig     `json:"names" yaml:"names"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Analytics AnalyticsConfig `json:"analytics" yaml:"analytics"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

type SourceConfig struct {
	BaseURL  string            `json:"base_url" yaml:"base_url"`
	Files    map[string]string `json:"files" yaml:"files"`
	CacheDir string            `json:"cache_dir" yaml:"cache_dir"`
	Timeout  Duration          `json:"timeout" yaml:"timeout"`
	Retry    RetryConfig       `json:"retry" yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts  int      `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64  `json:"multiplier" yaml:"multiplier"`
	Jitter       bool     `json:"jitter" yaml:"jitter"`
}

type ReferenceConfig struct {
	PopulationFile string `json:"population_file" yaml:"population_file"`
	ContinentFile  string `json:"continent_file" yaml:"continent_file"`
	StrictMatch    bool   `json:"strict_match" yaml:"strict_match"`
}

type NamesConfig struct {
	// MappingFile replaces the built-in reconciliation table when set.
	MappingFile string `json:"mapping_file" yaml:"mapping_file"`
}

type IngestConfig struct {
	Mode              string             `json:"mode" yaml:"mode"`
	ExpectedCountries int                `json:"expected_countries" yaml:"expected_countries"`
	CheckDays         int                `json:"check_days" yaml:"check_days"`
	LockTTL           Duration           `json:"lock_ttl" yaml:"lock_ttl"`
	Checkpoints       []CheckpointConfig `json:"checkpoints,omitempty" yaml:"checkpoints"`
}

type CheckpointConfig struct {
	Metric   string `json:"metric" yaml:"metric"`
	Country  string `json:"country" yaml:"country"`
	Date     string `json:"date" yaml:"date"`
	Value    int64  `json:"value" yaml:"value"`
	Severity string `json:"severity" yaml:"severity"`
}

type AnalyticsConfig struct {
	StartDate              string        `json:"start_date" yaml:"start_date"`
	TopN                   int           `json:"top_n" yaml:"top_n"`
	Buckets                int           `json:"buckets" yaml:"buckets"`
	TrajectoryMinConfirmed int64         `json:"trajectory_min_confirmed" yaml:"trajectory_min_confirmed"`
	Flags                  metrics.Flags `json:"flags" yaml:"flags"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
	// Schedule is a cron spec for background refreshes.
	Schedule string `json:"schedule" yaml:"schedule"`
}

type LogConfig struct {
	Level    string `json:"level" yaml:"level"`
	Encoding string `json:"encoding" yaml:"encoding"`
}

const jhuTimeSeries = "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/csse_covid_19_time_series"

// Default returns the built-in configuration.
func Default() *Config {
	r := retry.DefaultConfig()
	return &Config{
		Database: "epiboard.db",
		Source: SourceConfig{
			BaseURL: jhuTimeSeries,
			Files: map[string]string{
				string(epi.Confirmed): "time_series_covid19_confirmed_global.csv",
				string(epi.Deaths):    "time_series_covid19_deaths_global.csv",
				string(epi.Recovered): "time_series_covid19_recovered_global.csv",
			},
			CacheDir: "data/raw",
			Timeout:  Duration(30 * time.Second),
			Retry: RetryConfig{
				MaxAttempts:  r.MaxAttempts,
				InitialDelay: Duration(r.InitialDelay),
				MaxDelay:     Duration(r.MaxDelay),
				Multiplier:   r.Multiplier,
				Jitter:       r.JitterEnabled,
			},
		},
		Reference: ReferenceConfig{
			PopulationFile: "data/reference/population_by_country_2020.csv",
			ContinentFile:  "data/reference/country_continent.csv",
			StrictMatch:    true,
		},
		Ingest: IngestConfig{
			Mode:              string(loader.ModeAppend),
			ExpectedCountries: 185,
			CheckDays:         5,
			LockTTL:           Duration(15 * time.Minute),
		},
		Analytics: AnalyticsConfig{
			StartDate:              "2020-02-01",
			TopN:                   10,
			Buckets:                metrics.DefaultBuckets,
			TrajectoryMinConfirmed: metrics.DefaultMinConfirmed,
			Flags:                  metrics.DefaultFlags(),
		},
		Server: ServerConfig{
			Addr:     ":8080",
			Schedule: "@every 6h",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Load reads path over the defaults. An empty path uses the defaults
// alone. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(cfg, data); err != nil {
			return nil, failure.Config("config.load", []string{path}, "%v", err)
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode unmarshals YAML over cfg, rejecting unknown keys.
func decode(cfg *Config, data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse YAML: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate checks c against the embedded schema.
func (c *Config) Validate() error {
	const op = "config.validate"
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := ctx.CompileBytes(data)
	if err := value.Err(); err != nil {
		return fmt.Errorf("compile config: %w", err)
	}

	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		var details []string
		for _, e := range cueerrors.Errors(err) {
			details = append(details, e.Error())
		}
		return failure.Config(op, details, "invalid configuration")
	}

	for _, cp := range c.Ingest.Checkpoints {
		if _, err := epi.ParseDate(cp.Date); err != nil {
			return failure.Config(op, []string{cp.Country, cp.Date}, "invalid checkpoint date")
		}
	}
	if _, err := epi.ParseDate(c.Analytics.StartDate); err != nil {
		return failure.Config(op, []string{c.Analytics.StartDate}, "invalid analytics start date")
	}
	return nil
}

// SourceConfig converts the source section for source.NewFetcher.
func (c *Config) SourceConfig() source.Config {
	files := make(map[epi.Metric]string, len(c.Source.Files))
	for m, name := range c.Source.Files {
		files[epi.Metric(m)] = name
	}
	return source.Config{
		BaseURL:  c.Source.BaseURL,
		Files:    files,
		CacheDir: c.Source.CacheDir,
		Timeout:  time.Duration(c.Source.Timeout),
		Retry: retry.Config{
			MaxAttempts:   c.Source.Retry.MaxAttempts,
			InitialDelay:  time.Duration(c.Source.Retry.InitialDelay),
			MaxDelay:      time.Duration(c.Source.Retry.MaxDelay),
			Multiplier:    c.Source.Retry.Multiplier,
			JitterEnabled: c.Source.Retry.Jitter,
		},
	}
}

// Checkpoints converts the configured checkpoints. Validate has already
// checked every field.
func (c *Config) Checkpoints() []normalize.Checkpoint {
	out := make([]normalize.Checkpoint, 0, len(c.Ingest.Checkpoints))
	for _, cp := range c.Ingest.Checkpoints {
		out = append(out, normalize.Checkpoint{
			Metric:   epi.Metric(cp.Metric),
			Country:  cp.Country,
			Date:     epi.MustDate(cp.Date),
			Value:    cp.Value,
			Severity: normalize.Severity(cp.Severity),
		})
	}
	return out
}

// LoaderOptions converts the ingest section.
func (c *Config) LoaderOptions() loader.Options {
	return loader.Options{
		Mode:              loader.Mode(c.Ingest.Mode),
		ExpectedCountries: c.Ingest.ExpectedCountries,
		CheckDays:         c.Ingest.CheckDays,
	}
}

// QueryOptions converts the analytics section.
func (c *Config) QueryOptions() query.Options {
	return query.Options{
		Flags:        c.Analytics.Flags,
		StartDate:    epi.MustDate(c.Analytics.StartDate),
		TopN:         c.Analytics.TopN,
		Buckets:      c.Analytics.Buckets,
		MinConfirmed: c.Analytics.TrajectoryMinConfirmed,
	}
}
