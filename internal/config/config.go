package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	UploadDir string `toml:"upload_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
}

// Upload contains configuration for multipart media ingestion.
type Upload struct {
	FieldName      string   `toml:"field_name"`
	MaxFileBytes   int64    `toml:"max_file_bytes"`
	AllowedClasses []string `toml:"allowed_classes"`
	MinFreeBytes   int64    `toml:"min_free_bytes"`
	// RetentionDays removes day directories older than this many days. Zero keeps everything.
	RetentionDays int `toml:"retention_days"`
}

// Transfer contains configuration for the external style-transfer command.
type Transfer struct {
	// Command is the argument vector prefix; mode flag and paths are appended.
	Command             []string `toml:"command"`
	Shell               bool     `toml:"shell"`
	WorkingDir          string   `toml:"working_dir"`
	VideoExtensions     []string `toml:"video_extensions"`
	ImageOutput         string   `toml:"image_output"`
	VideoOutput         string   `toml:"video_output"`
	TimeoutSeconds      int      `toml:"timeout_seconds"`
	MaxRunning          int      `toml:"max_running"`
	HistoryLimit        int      `toml:"history_limit"`
	RestrictToUploadDir bool     `toml:"restrict_to_upload_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics toggles the Prometheus endpoint.
type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Config encapsulates all configuration values for the stylizer daemon and CLI.
//
// Configuration sections by subsystem:
//   - Paths: upload staging area, logs, and API bind address
//   - Upload: multipart filter and size limits
//   - Transfer: external command, output artifacts, and job limits
//   - Logging: log format and level
//   - Metrics: Prometheus exposition
type Config struct {
	Paths    Paths    `toml:"paths"`
	Upload   Upload   `toml:"upload"`
	Transfer Transfer `toml:"transfer"`
	Logging  Logging  `toml:"logging"`
	Metrics  Metrics  `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("stylizer.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.UploadDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// TransferBinary returns the executable the transfer command starts with.
func (c *Config) TransferBinary() string {
	if c.Transfer.Shell {
		return "/bin/sh"
	}
	if len(c.Transfer.Command) == 0 {
		return ""
	}
	return c.Transfer.Command[0]
}

// ResolveOutput returns the absolute artifact path for a configured output,
// resolving relative values against the transfer working directory.
func (c *Config) ResolveOutput(output string) string {
	output = strings.TrimSpace(output)
	if output == "" || filepath.IsAbs(output) {
		return output
	}
	base := c.Transfer.WorkingDir
	if base == "" {
		if wd, err := os.Getwd(); err == nil {
			base = wd
		}
	}
	return filepath.Join(base, output)
}

// LockPath returns the daemon single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "stylizer.lock")
}

// JobDBPath returns the SQLite job history database path.
func (c *Config) JobDBPath() string {
	return filepath.Join(c.Paths.LogDir, "jobs.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
