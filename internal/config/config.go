package config

import (
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Settings is the raw environment surface of the bot.
type Settings struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`
	BotOwnerID   string `env:"BOT_OWNER_ID"`

	DatabaseType     string `env:"DATABASE_TYPE" envDefault:"sqlite"`
	DatabasePath     string `env:"DATABASE_PATH" envDefault:"data/onbeat.db"`
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"onbeat"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	LavalinkHost     string `env:"LAVALINK_HOST" envDefault:"localhost"`
	LavalinkPort     int    `env:"LAVALINK_PORT" envDefault:"2333"`
	LavalinkPassword string `env:"LAVALINK_PASSWORD,required"`
	LavalinkSecure   bool   `env:"LAVALINK_SECURE" envDefault:"false"`
	SearchPrefix     string `env:"SEARCH_PREFIX" envDefault:"spsearch"`

	WebSocketAddr      string   `env:"WS_ADDR" envDefault:":8765"`
	WebSocketOrigins   []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	WebSocketRateLimit float64  `env:"WS_RATE_LIMIT" envDefault:"5"`
	WebSocketRateBurst int      `env:"WS_RATE_BURST" envDefault:"10"`

	IdlePollInterval            time.Duration `env:"IDLE_POLL_INTERVAL" envDefault:"10s"`
	HealthFlushInterval         time.Duration `env:"HEALTH_FLUSH_INTERVAL" envDefault:"30s"`
	StatusUpdateIntervalMinutes int           `env:"STATUS_UPDATE_INTERVAL_MINUTES" envDefault:"15"`
	EventsLogChannelID          string        `env:"EVENTS_LOG_CHANNEL_ID"`
}

var (
	DiscordToken string
	BotOwnerID   string

	DatabaseType string
	DatabasePath string

	LavalinkHost     string
	LavalinkPort     int
	LavalinkPassword string
	LavalinkSecure   bool
	SearchPrefix     string

	WebSocketAddr      string
	WebSocketOrigins   []string
	WebSocketRateLimit float64
	WebSocketRateBurst int

	IdlePollInterval            time.Duration
	HealthFlushInterval         time.Duration
	StatusUpdateIntervalMinutes int
	EventsLogChannelID          string

	current Settings
)

// Load reads .env (if present) and the process environment into the package settings.
func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to system environment variables")
	}

	s, err := Parse(nil)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	apply(s)
}

// Parse builds Settings from environ, or from the process environment when environ is nil.
func Parse(environ map[string]string) (Settings, error) {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}

	var s Settings
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return Settings{}, err
	}
	if err := validate(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func validate(s Settings) error {
	switch s.DatabaseType {
	case "sqlite", "sqlite3":
		if s.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required for %s", s.DatabaseType)
		}
	case "postgres":
		if s.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_TYPE %q", s.DatabaseType)
	}
	if s.IdlePollInterval <= 0 {
		return fmt.Errorf("IDLE_POLL_INTERVAL must be positive")
	}
	if s.WebSocketRateLimit <= 0 || s.WebSocketRateBurst <= 0 {
		return fmt.Errorf("WS_RATE_LIMIT and WS_RATE_BURST must be positive")
	}
	return nil
}

func apply(s Settings) {
	current = s

	DiscordToken = s.DiscordToken
	BotOwnerID = s.BotOwnerID
	DatabaseType = s.DatabaseType
	DatabasePath = s.DatabasePath
	LavalinkHost = s.LavalinkHost
	LavalinkPort = s.LavalinkPort
	LavalinkPassword = s.LavalinkPassword
	LavalinkSecure = s.LavalinkSecure
	SearchPrefix = s.SearchPrefix
	WebSocketAddr = s.WebSocketAddr
	WebSocketOrigins = s.WebSocketOrigins
	WebSocketRateLimit = s.WebSocketRateLimit
	WebSocketRateBurst = s.WebSocketRateBurst
	IdlePollInterval = s.IdlePollInterval
	HealthFlushInterval = s.HealthFlushInterval
	StatusUpdateIntervalMinutes = s.StatusUpdateIntervalMinutes
	EventsLogChannelID = s.EventsLogChannelID
}

// GetDatabaseConnectionString returns the DSN for the configured database type.
func GetDatabaseConnectionString() string {
	return current.DatabaseDSN()
}

// DatabaseDSN returns the DSN for s.DatabaseType.
func (s Settings) DatabaseDSN() string {
	if s.DatabaseType != "postgres" {
		return s.DatabasePath
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.PostgresUser, s.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", s.PostgresHost, s.PostgresPort),
		Path:     s.PostgresDB,
		RawQuery: "sslmode=" + url.QueryEscape(s.PostgresSSLMode),
	}
	return u.String()
}
