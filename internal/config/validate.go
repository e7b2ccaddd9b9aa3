package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateTransfer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxFileBytes <= 0 || c.Upload.MaxFileBytes > MaxUploadFileBytes {
		return fmt.Errorf("upload.max_file_bytes must be between 1 and %d", MaxUploadFileBytes)
	}
	if len(c.Upload.AllowedClasses) == 0 {
		return errors.New("upload.allowed_classes must list at least one MIME class")
	}
	if err := ensureNonNegativeMap(map[string]int64{
		"upload.min_free_bytes": c.Upload.MinFreeBytes,
		"upload.retention_days": int64(c.Upload.RetentionDays),
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTransfer() error {
	if len(c.Transfer.Command) == 0 {
		return errors.New("transfer.command must contain at least the executable")
	}
	if err := ensureNonNegativeMap(map[string]int64{
		"transfer.timeout_seconds": int64(c.Transfer.TimeoutSeconds),
		"transfer.max_running":     int64(c.Transfer.MaxRunning),
	}); err != nil {
		return err
	}
	if c.Transfer.HistoryLimit <= 0 {
		return errors.New("transfer.history_limit must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensureNonNegativeMap(values map[string]int64) error {
	for key, value := range values {
		if value < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	return nil
}
