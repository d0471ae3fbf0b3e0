package config

import "time"

// Application constants
const (
	AppName    = "synthpanel"
	AppVersion = "1.0.0"

	// EnvPrefix namespaces every environment override, e.g. SYNTH_SYNTHESIS_SEED
	EnvPrefix = "SYNTH"

	// Config file locations searched when no path is given
	DefaultConfigFile = "synthpanel.yaml"

	// File Paths (relative to the base directory)
	DefaultDataDir   = "data"
	DefaultOutputDir = "output"
	DefaultLogsDir   = "logs"

	// Store drivers
	DriverCSV    = "csv"
	DriverXLSX   = "xlsx"
	DriverSQLite = "sqlite"

	// Synthesis defaults, matching the survey generator
	DefaultRecordsPerGroup = 200
	DefaultSeed            = 14033
	DefaultOutputPrefix    = "survey"
	DefaultTargetsName     = "targets"

	// Rate Limiting
	DefaultRateLimit = 20 // requests per second
	DefaultBurstSize = 10

	// Largest n accepted by POST /panels
	DefaultMaxRecordsPerGroup = 100000

	// Network Timeouts
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRequestTimeout  = 45 * time.Second

	// Log Settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)
