package webmention

import (
	"time"

	"github.com/cvanloo/parsenv"
	"github.com/joho/godotenv"
)

// Config is the shared, reloadable configuration for a webmention service
// binding: an HTTP listener in front of a Server, an outgoing pipeline, and
// the filesystem watcher that drives it. It covers what's common to every
// cmd/ binary in this module; notifier-specific settings (mail, matrix,
// xmpp) stay local to the binary that wires them, the way
// cmd/mentionee/main.go keeps its mail config separate from the
// teacher's shared Config.
type Config struct {
	ListenAddr      string `cfg:"default=:8080"`
	EndpointPath    string `cfg:"default=/api/webmention"`
	BaseURL         string `cfg:"required"`
	WatchRoot       string
	StorageDSN      string `cfg:"default=memory"`
	HTTPTimeoutSecs int    `cfg:"default=10"`
	UserAgent       string `cfg:"default=gowebmention/1.0 (+https://github.com/cvanloo/gowebmention)"`
	ShutdownSecs    int    `cfg:"default=120"`
}

// HTTPTimeout returns HTTPTimeoutSecs as a time.Duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSecs) * time.Second
}

// ShutdownTimeout returns ShutdownSecs as a time.Duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownSecs) * time.Second
}

// LoadConfig loads a .env file (process working directory first, falling
// back to fallbackPath, e.g. "/etc/webmention/webmentiond.env") and then OS
// environment variables into a Config, mirroring
// cmd/mentionee/main.go#loadConfig's godotenv+parsenv pairing. Call again on
// SIGHUP to pick up changes.
func LoadConfig(fallbackPath string) (Config, error) {
	if err := godotenv.Load(); err != nil && fallbackPath != "" {
		godotenv.Load(fallbackPath)
	}
	var cfg Config
	if err := parsenv.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
