package config

// MaxUploadFileBytes is the hard per-file upload ceiling.
const MaxUploadFileBytes int64 = 10 << 30

const (
	defaultConfigPath           = "~/.config/stylizer/config.toml"
	defaultUploadDir            = "~/.local/share/stylizer/public"
	defaultLogDir               = "~/.local/share/stylizer/logs"
	defaultAPIBind              = "127.0.0.1:3000"
	defaultUploadFieldName      = "media"
	defaultMaxFileBytes         = MaxUploadFileBytes
	defaultTransferImageOutput  = "output/image.png"
	defaultTransferVideoOutput  = "output/movie.mp4"
	defaultTransferMaxRunning   = 1
	defaultTransferHistoryLimit = 100
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			UploadDir: defaultUploadDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Upload: Upload{
			FieldName:      defaultUploadFieldName,
			MaxFileBytes:   defaultMaxFileBytes,
			AllowedClasses: []string{"image", "video"},
		},
		Transfer: Transfer{
			Command:             []string{"conda", "run", "-n", "cs1430", "python", "scripts/main.py"},
			VideoExtensions:     []string{"mp4"},
			ImageOutput:         defaultTransferImageOutput,
			VideoOutput:         defaultTransferVideoOutput,
			MaxRunning:          defaultTransferMaxRunning,
			HistoryLimit:        defaultTransferHistoryLimit,
			RestrictToUploadDir: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Enabled: true,
		},
	}
}
