package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// SecsResolutions is the set of allowed timestamp rounding resolutions, in
// seconds. They are the divisors of 60 used by the time dimension table.
var SecsResolutions = []int{60, 30, 20, 15, 12, 10, 6, 5, 4, 3, 2, 1}

// Config is an immutable snapshot of the daemon configuration. Reload builds
// a fresh snapshot; components swap snapshots, they never mutate one.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	MQTTBrokerURL string        `env:"MQTT_BROKER_URL,required"`
	MQTTClientID  string        `env:"MQTT_CLIENT_ID" envDefault:"tessd"`
	MQTTUsername  string        `env:"MQTT_USERNAME"`
	MQTTPassword  string        `env:"MQTT_PASSWORD"`
	MQTTKeepAlive time.Duration `env:"MQTT_KEEPALIVE" envDefault:"60s"`
	MQTTLogLevel  string        `env:"MQTT_LOG_LEVEL" envDefault:"info"`

	// Reading topics are matched by head/tail segment; the register topic
	// is matched exactly. Empty register topic disables registrations.
	TESSTopics        []string `env:"TESS_TOPICS" envSeparator:"," envDefault:"STARS4ALL/+/reading"`
	TESSTopicRegister string   `env:"TESS_TOPIC_REGISTER"`
	TESSWhitelist     []string `env:"TESS_WHITELIST" envSeparator:","`
	TESSBlacklist     []string `env:"TESS_BLACKLIST" envSeparator:","`

	DatabaseURL      string `env:"DATABASE_URL,required"`
	QueueSize        int    `env:"QUEUE_SIZE" envDefault:"1000"`
	SecsResolution   int    `env:"SECS_RESOLUTION" envDefault:"1"`
	AuthFilter       bool   `env:"AUTH_FILTER" envDefault:"true"`
	CloseWhenPause   bool   `env:"CLOSE_WHEN_PAUSE" envDefault:"false"`
	DBLogLevel       string `env:"DBASE_LOG_LEVEL" envDefault:"info"`
	RegisterLogLevel string `env:"REGISTER_LOG_LEVEL" envDefault:"info"`

	// Year range for the generated date dimension.
	YearStart int `env:"YEAR_START" envDefault:"2016"`
	YearEnd   int `env:"YEAR_END" envDefault:"2036"`

	StatsMode string `env:"STATS_MODE" envDefault:"condensed"`

	SunriseBatchPerc    int           `env:"SUNRISE_BATCH_PERC" envDefault:"10"`
	SunriseBatchMinSize int           `env:"SUNRISE_BATCH_MIN_SIZE" envDefault:"50"`
	SunrisePause        time.Duration `env:"SUNRISE_PAUSE" envDefault:"2s"`
	SunriseHorizon      float64       `env:"SUNRISE_HORIZON" envDefault:"-0.567"`

	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	AuthToken string `env:"AUTH_TOKEN"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	LogLevel      string
	HTTPAddr      string
	DatabaseURL   string
	MQTTBrokerURL string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Overload(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !validResolution(c.SecsResolution) {
		return fmt.Errorf("SECS_RESOLUTION must be one of %v, got %d", SecsResolutions, c.SecsResolution)
	}
	switch c.StatsMode {
	case "condensed", "detailed", "off":
	default:
		return fmt.Errorf("STATS_MODE must be condensed, detailed or off, got %q", c.StatsMode)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QUEUE_SIZE must be positive, got %d", c.QueueSize)
	}
	if c.SunriseBatchPerc < 1 || c.SunriseBatchPerc > 100 {
		return fmt.Errorf("SUNRISE_BATCH_PERC must be in 1..100, got %d", c.SunriseBatchPerc)
	}
	if c.YearEnd < c.YearStart {
		return fmt.Errorf("YEAR_END %d precedes YEAR_START %d", c.YearEnd, c.YearStart)
	}
	return nil
}

func validResolution(secs int) bool {
	for _, r := range SecsResolutions {
		if secs == r {
			return true
		}
	}
	return false
}
