package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment.
type Config struct {
	DiscordToken  string `env:"BOT_TOKEN"`
	CommandPrefix string `env:"COMMAND_PREFIX" envDefault:"!"`

	LavalinkName     string `env:"LAVALINK_NAME" envDefault:"lavalink"`
	LavalinkHost     string `env:"LAVALINK_HOST"`
	LavalinkPort     int    `env:"LAVALINK_PORT" envDefault:"2333"`
	LavalinkPassword string `env:"LAVALINK_PASSWORD"`
	LavalinkSecure   bool   `env:"LAVALINK_SECURE" envDefault:"false"`

	HTTPPort int `env:"PORT" envDefault:"3000"`

	AutoReconnectChannelID string        `env:"AUTO_RECONNECT_CHANNEL_ID"`
	ReconnectDelay         time.Duration `env:"RECONNECT_DELAY" envDefault:"15s"`
	ReconnectMaxDelay      time.Duration `env:"RECONNECT_MAX_DELAY" envDefault:"2m"`
	ReassertInterval       time.Duration `env:"REASSERT_INTERVAL" envDefault:"0s"`
	ReplyDeleteDelay       time.Duration `env:"REPLY_DELETE_DELAY" envDefault:"5s"`
	CallTimeout            time.Duration `env:"CALL_TIMEOUT" envDefault:"10s"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"json"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"14"`
}

var (
	ErrMissingToken    = errors.New("BOT_TOKEN is not set")
	ErrMissingLavalink = errors.New("lavalink configuration is incomplete: set LAVALINK_HOST, LAVALINK_PORT, LAVALINK_PASSWORD")
)

// LoadEnvFile loads a .env file into the process environment. Existing
// variables win. A missing file is not an error; the caller decides whether
// to log it.
func LoadEnvFile(path string) (bool, error) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("load %s: %w", path, err)
	}
	return true, nil
}

// New parses the process environment.
func New() (*Config, error) {
	return parse(env.Options{})
}

// FromMap parses a fixed environment, ignoring the process one.
func FromMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the fatal startup errors: missing connection credentials
// or nonsensical delays.
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return ErrMissingToken
	}
	if c.LavalinkHost == "" || c.LavalinkPassword == "" || c.LavalinkPort <= 0 {
		return ErrMissingLavalink
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be positive, got %s", c.ReconnectDelay)
	}
	if c.ReconnectMaxDelay < c.ReconnectDelay {
		c.ReconnectMaxDelay = c.ReconnectDelay
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("CALL_TIMEOUT must be positive, got %s", c.CallTimeout)
	}
	if c.CommandPrefix == "" {
		c.CommandPrefix = "!"
	}
	return nil
}

// LavalinkAddress returns host:port of the audio node.
func (c *Config) LavalinkAddress() string {
	return fmt.Sprintf("%s:%d", c.LavalinkHost, c.LavalinkPort)
}
