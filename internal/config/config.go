package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apperrors "synthpanel/internal/errors"
	"synthpanel/internal/synthesis"
)

// Config represents the complete application configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Synthesis SynthesisConfig `yaml:"synthesis" envconfig:"SYNTHESIS"`
	Resolver  ResolverConfig  `yaml:"resolver" envconfig:"RESOLVER"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Tracing   TracingConfig   `yaml:"tracing" envconfig:"TRACING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format      string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output      string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// SynthesisConfig controls panel generation
type SynthesisConfig struct {
	RecordsPerGroup     int                  `yaml:"records_per_group" envconfig:"RECORDS_PER_GROUP" validate:"min=1"`
	Seed                uint64               `yaml:"seed" envconfig:"SEED"`
	Workers             int                  `yaml:"workers" envconfig:"WORKERS" validate:"min=0"`
	ProportionTolerance float64              `yaml:"proportion_tolerance" envconfig:"PROPORTION_TOLERANCE" validate:"gt=0,lt=1"`
	MaxIterations       int                  `yaml:"max_iterations" envconfig:"MAX_ITERATIONS" validate:"min=0"`
	SkipUnresolved      bool                 `yaml:"skip_unresolved" envconfig:"SKIP_UNRESOLVED"`
	Draw                synthesis.DrawParams `yaml:"draw" envconfig:"DRAW"`
}

// Tolerance returns the calibration tolerance
func (s SynthesisConfig) Tolerance() synthesis.ToleranceConfig {
	return synthesis.ToleranceConfig{
		ProportionTolerance: s.ProportionTolerance,
		MaxIterations:       s.MaxIterations,
	}
}

// ResolverConfig configures the target fallback chain
type ResolverConfig struct {
	AnchorPeriod    int     `yaml:"anchor_period" envconfig:"ANCHOR_PERIOD" validate:"min=0"`
	GrowthSpan      int     `yaml:"growth_span" envconfig:"GROWTH_SPAN" validate:"min=1"`
	ProportionStep  float64 `yaml:"proportion_step" envconfig:"PROPORTION_STEP" validate:"min=0"`
	ProportionLower float64 `yaml:"proportion_lower" envconfig:"PROPORTION_LOWER" validate:"min=0,max=1"`
	ProportionUpper float64 `yaml:"proportion_upper" envconfig:"PROPORTION_UPPER" validate:"min=0,max=1,gtefield=ProportionLower"`

	DisableDefault    bool    `yaml:"disable_default" envconfig:"DISABLE_DEFAULT"`
	DefaultPopulation float64 `yaml:"default_population" envconfig:"DEFAULT_POPULATION" validate:"gt=0"`
	DefaultMean       float64 `yaml:"default_mean" envconfig:"DEFAULT_MEAN" validate:"gt=0"`
	DefaultProportion float64 `yaml:"default_proportion" envconfig:"DEFAULT_PROPORTION" validate:"min=0,max=1"`

	Overrides []synthesis.Override `yaml:"overrides" ignored:"true"`
}

// Options converts the configuration into resolver options
func (r ResolverConfig) Options() synthesis.ResolverOptions {
	return synthesis.ResolverOptions{
		Overrides: r.Overrides,
		Extrapolation: synthesis.ExtrapolationConfig{
			AnchorPeriod:    r.AnchorPeriod,
			GrowthSpan:      r.GrowthSpan,
			ProportionStep:  r.ProportionStep,
			ProportionLower: r.ProportionLower,
			ProportionUpper: r.ProportionUpper,
		},
		Default: synthesis.TargetSpec{
			Population: r.DefaultPopulation,
			MeanValue:  r.DefaultMean,
			Proportion: r.DefaultProportion,
			Source:     synthesis.SourceDefault,
		},
		DisableDefault: r.DisableDefault,
	}
}

// StoreConfig selects and configures the table store
type StoreConfig struct {
	Driver          string       `yaml:"driver" envconfig:"DRIVER" validate:"oneof=csv xlsx sqlite"`
	Dir             string       `yaml:"dir" envconfig:"DIR"`
	TargetsName     string       `yaml:"targets_name" envconfig:"TARGETS_NAME" validate:"required"`
	OutputPrefix    string       `yaml:"output_prefix" envconfig:"OUTPUT_PREFIX" validate:"required"`
	DSN             string       `yaml:"dsn" envconfig:"DSN"`
	DirtyValues     bool         `yaml:"dirty_values" envconfig:"DIRTY_VALUES"`
	WeightPrecision int          `yaml:"weight_precision" envconfig:"WEIGHT_PRECISION" validate:"min=-1,max=15"`
	Schema          SchemaConfig `yaml:"schema" envconfig:"SCHEMA"`
}

// SchemaConfig names the columns of the target and record tables
type SchemaConfig struct {
	Region     string `yaml:"region" envconfig:"REGION" validate:"required"`
	Period     string `yaml:"period" envconfig:"PERIOD" validate:"required"`
	Population string `yaml:"population" envconfig:"POPULATION" validate:"required"`
	Mean       string `yaml:"mean" envconfig:"MEAN" validate:"required"`
	Proportion string `yaml:"proportion" envconfig:"PROPORTION" validate:"required"`
	Age        string `yaml:"age" envconfig:"AGE" validate:"required"`
	Value      string `yaml:"value" envconfig:"VALUE" validate:"required"`
	Flag       string `yaml:"flag" envconfig:"FLAG" validate:"required"`
	Weight     string `yaml:"weight" envconfig:"WEIGHT" validate:"required"`
}

// DefaultSchema returns the column names of the survey generator
func DefaultSchema() SchemaConfig {
	return SchemaConfig{
		Region:     "state_fips",
		Period:     "year",
		Population: "population",
		Mean:       "median_income",
		Proportion: "pct_urban",
		Age:        "age",
		Value:      "income",
		Flag:       "urban",
		Weight:     "weight",
	}
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string          `yaml:"host" envconfig:"HOST"`
	Port            int             `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration   `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"gt=0"`
	MaxGroups       int             `yaml:"max_groups" envconfig:"MAX_GROUPS" validate:"min=1"`
	MaxRecords      int             `yaml:"max_records_per_group" envconfig:"MAX_RECORDS_PER_GROUP" validate:"min=1"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" envconfig:"ENABLED"`
	Exporter    string `yaml:"exporter" envconfig:"EXPORTER" validate:"oneof=stdout none"`
	ServiceName string `yaml:"service_name" envconfig:"SERVICE_NAME"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	BaseDir   string `yaml:"base_dir" envconfig:"BASE_DIR"`
	DataDir   string `yaml:"data_dir" envconfig:"DATA_DIR"`
	OutputDir string `yaml:"output_dir" envconfig:"OUTPUT_DIR"`
	LogsDir   string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and SYNTH_* environment variables, then validates it. An empty path
// falls back to DefaultConfigFile when present.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, apperrors.NewConfigError("failed to load config from file", err).WithContext("path", path)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewConfigError("config validation failed", err)
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file on top of the current values
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Validate checks struct constraints and the domain invariants that tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if err := c.Synthesis.Draw.Validate(); err != nil {
		return fmt.Errorf("synthesis.draw: %w", err)
	}
	for i, o := range c.Resolver.Overrides {
		if o.Proportion < 0 || o.Proportion > 1 {
			return fmt.Errorf("resolver.overrides[%d]: proportion %v outside [0, 1]", i, o.Proportion)
		}
		if o.Population.Floor <= 0 || o.Mean.Floor <= 0 {
			return fmt.Errorf("resolver.overrides[%d]: floors must be positive", i)
		}
	}
	if c.Store.Driver == DriverSQLite && c.Store.DSN == "" && c.Store.Dir == "" {
		return fmt.Errorf("store: sqlite driver needs a dsn or a dir")
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	ext := synthesis.DefaultExtrapolationConfig()
	def := synthesis.DefaultTarget()
	tol := synthesis.DefaultTolerance()

	return &Config{
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Format:   DefaultLogFormat,
			Output:   "console",
			FilePath: "logs/synthpanel.log",
		},
		Synthesis: SynthesisConfig{
			RecordsPerGroup:     DefaultRecordsPerGroup,
			Seed:                DefaultSeed,
			ProportionTolerance: tol.ProportionTolerance,
			MaxIterations:       tol.MaxIterations,
			Draw:                synthesis.DefaultDrawParams(),
		},
		Resolver: ResolverConfig{
			AnchorPeriod:      ext.AnchorPeriod,
			GrowthSpan:        ext.GrowthSpan,
			ProportionStep:    ext.ProportionStep,
			ProportionLower:   ext.ProportionLower,
			ProportionUpper:   ext.ProportionUpper,
			DefaultPopulation: def.Population,
			DefaultMean:       def.MeanValue,
			DefaultProportion: def.Proportion,
			Overrides:         synthesis.DefaultOverrides(),
		},
		Store: StoreConfig{
			Driver:          DriverCSV,
			TargetsName:     DefaultTargetsName,
			OutputPrefix:    DefaultOutputPrefix,
			WeightPrecision: -1,
			Schema:          DefaultSchema(),
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			RequestTimeout:  DefaultRequestTimeout,
			MaxGroups:       5000,
			MaxRecords:      DefaultMaxRecordsPerGroup,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimit,
				Burst:   DefaultBurstSize,
			},
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: AppName,
		},
		Paths: PathsConfig{
			DataDir:   DefaultDataDir,
			OutputDir: DefaultOutputDir,
			LogsDir:   DefaultLogsDir,
		},
	}
}
