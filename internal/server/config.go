package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/Tyrowin/tickchat/internal/store"
)

const (
	defaultPort            = ":8080"
	defaultOrigin          = "http://localhost:5173"
	defaultMaxMessageSize  = 1 << 20
	defaultRateBurst       = 20
	defaultRateRefill      = time.Second
	defaultSendBufferSize  = 256
	defaultSendTimeout     = writeWait
	defaultStoreDriver     = store.DriverBadger
	defaultBadgerPath      = "data/badger"
	defaultSQLitePath      = "data/tickchat.db"
	defaultHistoryLimit    = 1000
	defaultLogLevel        = "info"
	defaultShutdownTimeout = 10 * time.Second
)

// Config holds every setting read from the environment. Zero values are
// replaced by defaults in Sanitize.
type Config struct {
	Port           string `env:"SERVER_PORT"`
	OriginList     string `env:"ALLOWED_ORIGINS"`
	AllowedOrigins []string

	// MaxMessageSize bounds a single inbound frame. Inline images are sent
	// as data URLs, hence the generous default.
	MaxMessageSize int           `env:"MAX_MESSAGE_SIZE"`
	RateBurst      int           `env:"RATE_LIMIT_BURST"`
	RateRefill     time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL"`
	SendBufferSize int           `env:"SEND_BUFFER_SIZE"`
	// SendTimeout is how long a push waits for room in a full send buffer
	// before the connection is treated as dead.
	SendTimeout    time.Duration `env:"SEND_TIMEOUT"`

	StoreDriver  string `env:"STORE_DRIVER"`
	BadgerPath   string `env:"BADGER_PATH"`
	SQLitePath   string `env:"SQLITE_PATH"`
	HistoryLimit int    `env:"HISTORY_LIMIT"`

	LogLevel        string        `env:"LOG_LEVEL"`
	GeminiAPIKey    string        `env:"GEMINI_API_KEY"`
	GeminiModel     string        `env:"GEMINI_MODEL"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{}.Sanitize()
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg.Sanitize(), nil
}

// Sanitize fills unset or invalid fields with defaults and splits the
// origin list. AllowedOrigins, when already set, wins over OriginList.
func (c Config) Sanitize() Config {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}

	if len(c.AllowedOrigins) == 0 {
		if c.OriginList == "" {
			c.OriginList = defaultOrigin
		}
		c.AllowedOrigins = parseOrigins(c.OriginList)
	} else {
		c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	}

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.RateBurst <= 0 {
		c.RateBurst = defaultRateBurst
	}
	if c.RateRefill <= 0 {
		c.RateRefill = defaultRateRefill
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = defaultSendBufferSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}

	if c.StoreDriver == "" {
		c.StoreDriver = defaultStoreDriver
	}
	if c.BadgerPath == "" {
		c.BadgerPath = defaultBadgerPath
	}
	if c.SQLitePath == "" {
		c.SQLitePath = defaultSQLitePath
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = defaultHistoryLimit
	}

	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}

// StorePath returns the on-disk location for the configured driver.
func (c Config) StorePath() string {
	switch c.StoreDriver {
	case store.DriverSQLite:
		return c.SQLitePath
	case store.DriverBadger:
		return c.BadgerPath
	default:
		return ""
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
