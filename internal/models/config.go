package models

import "time"

// Config contains configuration for the repository client
type Config struct {
	// Repository
	BaseURL         string `env:"APPSTORE_BASE_URL" envDefault:"https://apps.grapheneos.org" validate:"required,url"`
	FormatVersion   int    `env:"APPSTORE_FORMAT_VERSION" envDefault:"0" validate:"min=0"`
	SignatureScheme string `env:"APPSTORE_SIGNATURE_SCHEME" envDefault:"signify" validate:"oneof=signify openpgp"`
	DefaultChannel  string `env:"APPSTORE_DEFAULT_CHANNEL" envDefault:"stable" validate:"required"`

	// Local state
	DataDir  string `env:"APPSTORE_DATA_DIR"`  // metadata cache and preferences
	CacheDir string `env:"APPSTORE_CACHE_DIR"` // downloaded package files

	// Network
	MetadataTimeout time.Duration `env:"APPSTORE_METADATA_TIMEOUT" envDefault:"30s"`
	DownloadTimeout time.Duration `env:"APPSTORE_DOWNLOAD_TIMEOUT" envDefault:"5m"`
	RefreshTimeout  time.Duration `env:"APPSTORE_REFRESH_TIMEOUT" envDefault:"5m"`
	RetryAttempts   int           `env:"APPSTORE_RETRY_ATTEMPTS" envDefault:"3" validate:"min=0,max=10"`

	// Device
	ClientPackage     string        `env:"APPSTORE_CLIENT_PACKAGE" envDefault:"org.grapheneos.apps" validate:"required"`
	ADBPath           string        `env:"APPSTORE_ADB_PATH" envDefault:"adb" validate:"required"`
	ADBSerial         string        `env:"APPSTORE_ADB_SERIAL"`
	EventPollInterval time.Duration `env:"APPSTORE_EVENT_POLL_INTERVAL" envDefault:"5s"`

	// Daemon
	ListenAddr string `env:"APPSTORE_LISTEN_ADDR"`

	Logging struct {
		Level  string `env:"APPSTORE_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
		Format string `env:"APPSTORE_LOG_FORMAT" envDefault:"text" validate:"oneof=json text"`
	}
}
