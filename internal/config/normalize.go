package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeUpload()
	if err := c.normalizeTransfer(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("STYLIZER_UPLOAD_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.UploadDir = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("STYLIZER_API_BIND"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIBind = strings.TrimSpace(value)
	}

	var err error
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		c.Paths.UploadDir = defaultUploadDir
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeUpload() {
	c.Upload.FieldName = strings.TrimSpace(c.Upload.FieldName)
	if c.Upload.FieldName == "" {
		c.Upload.FieldName = defaultUploadFieldName
	}
	if c.Upload.MaxFileBytes == 0 {
		c.Upload.MaxFileBytes = defaultMaxFileBytes
	}
	classes := make([]string, 0, len(c.Upload.AllowedClasses))
	for _, class := range c.Upload.AllowedClasses {
		class = strings.ToLower(strings.TrimSpace(class))
		class = strings.TrimSuffix(class, "/")
		if class != "" {
			classes = append(classes, class)
		}
	}
	c.Upload.AllowedClasses = classes
}

func (c *Config) normalizeTransfer() error {
	command := make([]string, 0, len(c.Transfer.Command))
	for _, arg := range c.Transfer.Command {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			command = append(command, trimmed)
		}
	}
	c.Transfer.Command = command

	if strings.TrimSpace(c.Transfer.WorkingDir) != "" {
		dir, err := expandPath(strings.TrimSpace(c.Transfer.WorkingDir))
		if err != nil {
			return fmt.Errorf("transfer.working_dir: %w", err)
		}
		c.Transfer.WorkingDir = dir
	}

	exts := make([]string, 0, len(c.Transfer.VideoExtensions))
	for _, ext := range c.Transfer.VideoExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			exts = append(exts, ext)
		}
	}
	c.Transfer.VideoExtensions = exts

	c.Transfer.ImageOutput = strings.TrimSpace(c.Transfer.ImageOutput)
	if c.Transfer.ImageOutput == "" {
		c.Transfer.ImageOutput = defaultTransferImageOutput
	}
	c.Transfer.VideoOutput = strings.TrimSpace(c.Transfer.VideoOutput)
	if c.Transfer.VideoOutput == "" {
		c.Transfer.VideoOutput = defaultTransferVideoOutput
	}
	if c.Transfer.HistoryLimit == 0 {
		c.Transfer.HistoryLimit = defaultTransferHistoryLimit
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
