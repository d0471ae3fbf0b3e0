package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains the resolved application directories.
// All relative entries of PathsConfig are joined to BaseDir.
type Paths struct {
	BaseDir   string
	DataDir   string
	OutputDir string
	LogsDir   string
}

// ResolvePaths resolves the configured directories. An empty base directory
// means the current working directory.
func (c *Config) ResolvePaths() (*Paths, error) {
	base := c.Paths.BaseDir
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		base = wd
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	return &Paths{
		BaseDir:   base,
		DataDir:   resolve(base, c.Paths.DataDir, DefaultDataDir),
		OutputDir: resolve(base, c.Paths.OutputDir, DefaultOutputDir),
		LogsDir:   resolve(base, c.Paths.LogsDir, DefaultLogsDir),
	}, nil
}

func resolve(base, dir, fallback string) string {
	if dir == "" {
		dir = fallback
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(base, dir)
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.DataDir, p.OutputDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// StoreDir returns the directory the table store works in: the configured
// store directory when set, otherwise the data directory.
func (p *Paths) StoreDir(cfg StoreConfig) string {
	if cfg.Dir == "" {
		return p.DataDir
	}
	return resolve(p.BaseDir, cfg.Dir, DefaultDataDir)
}

// LogFile resolves the log file path of cfg
func (p *Paths) LogFile(cfg LoggingConfig) string {
	if cfg.FilePath == "" {
		return filepath.Join(p.LogsDir, AppName+".log")
	}
	return resolve(p.BaseDir, cfg.FilePath, cfg.FilePath)
}

// LogPathResolution logs the resolved paths at debug level
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	logger.Debug("resolved paths",
		slog.String("base_dir", p.BaseDir),
		slog.String("data_dir", p.DataDir),
		slog.String("output_dir", p.OutputDir),
		slog.String("logs_dir", p.LogsDir))
}
