package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenPort string `yaml:"listen_port"`
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	Secret     string `yaml:"secret"`
	Timezone   string `yaml:"timezone"`

	// SecureCookie marks the session cookie Secure; enable behind TLS.
	SecureCookie bool `yaml:"secure_cookie"`

	Sync   SyncConfig   `yaml:"sync"`
	Google GoogleConfig `yaml:"google"`
	ICS    []ICSFeed    `yaml:"ics"`
	Grid   GridConfig   `yaml:"grid"`
}

type SyncConfig struct {
	Schedule             string        `yaml:"schedule"`
	MinInterval          time.Duration `yaml:"min_interval"`
	ConnectDelay         time.Duration `yaml:"connect_delay"`
	WindowDays           int           `yaml:"window_days"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches"`
	ManualLimit          int           `yaml:"manual_limit"`
	ManualWindow         time.Duration `yaml:"manual_window"`
}

type GoogleConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// ICSFeed is a read-only iCalendar feed offered as a selectable calendar.
type ICSFeed struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Color string `yaml:"color"`
}

type GridConfig struct {
	StartHour     int     `yaml:"start_hour"`
	EndHour       int     `yaml:"end_hour"`
	PixelsPerHour float64 `yaml:"pixels_per_hour"`
	MinHeight     float64 `yaml:"min_height"`
}

// Load reads configuration from an optional .env file, an optional YAML file
// at path and HOMEBOARD_* environment variables, in increasing precedence.
// An empty path or a missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	envString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envString("HOMEBOARD_PORT", &c.ListenPort)
	envString("HOMEBOARD_DB_PATH", &c.DBPath)
	envString("HOMEBOARD_LOG_LEVEL", &c.LogLevel)
	envString("HOMEBOARD_LOG_FORMAT", &c.LogFormat)
	envString("HOMEBOARD_SECRET", &c.Secret)
	envString("HOMEBOARD_TIMEZONE", &c.Timezone)
	envString("HOMEBOARD_SYNC_SCHEDULE", &c.Sync.Schedule)
	envString("HOMEBOARD_GOOGLE_BASE_URL", &c.Google.BaseURL)
	if v := os.Getenv("HOMEBOARD_SECURE_COOKIE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse HOMEBOARD_SECURE_COOKIE: %w", err)
		}
		c.SecureCookie = b
	}

	if v := os.Getenv("HOMEBOARD_SYNC_MIN_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse HOMEBOARD_SYNC_MIN_INTERVAL: %w", err)
		}
		c.Sync.MinInterval = d
	}
	if v := os.Getenv("HOMEBOARD_SYNC_WINDOW_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse HOMEBOARD_SYNC_WINDOW_DAYS: %w", err)
		}
		c.Sync.WindowDays = n
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.ListenPort == "" {
		c.ListenPort = "8080"
	}
	if c.DBPath == "" {
		c.DBPath = "homeboard.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "@every 2h"
	}
	if c.Sync.MinInterval == 0 {
		c.Sync.MinInterval = time.Hour
	}
	if c.Sync.ConnectDelay == 0 {
		c.Sync.ConnectDelay = 15 * time.Second
	}
	if c.Sync.WindowDays == 0 {
		c.Sync.WindowDays = 30
	}
	if c.Sync.FetchTimeout == 0 {
		c.Sync.FetchTimeout = 30 * time.Second
	}
	if c.Sync.WriteTimeout == 0 {
		c.Sync.WriteTimeout = 5 * time.Second
	}
	if c.Sync.MaxConcurrentFetches == 0 {
		c.Sync.MaxConcurrentFetches = 4
	}
	if c.Sync.ManualLimit == 0 {
		c.Sync.ManualLimit = 6
	}
	if c.Sync.ManualWindow == 0 {
		c.Sync.ManualWindow = 10 * time.Minute
	}
	if c.Google.BaseURL == "" {
		c.Google.BaseURL = "https://www.googleapis.com/calendar/v3"
	}
	if c.Google.Timeout == 0 {
		c.Google.Timeout = 15 * time.Second
	}
	if c.Google.MaxAttempts == 0 {
		c.Google.MaxAttempts = 3
	}
	if c.Google.InitialBackoff == 0 {
		c.Google.InitialBackoff = 500 * time.Millisecond
	}
	if c.Grid.StartHour == 0 && c.Grid.EndHour == 0 {
		c.Grid.StartHour = 6
		c.Grid.EndHour = 22
	}
	if c.Grid.PixelsPerHour == 0 {
		c.Grid.PixelsPerHour = 60
	}
	if c.Grid.MinHeight == 0 {
		c.Grid.MinHeight = 20
	}
}

func (c *Config) validate() error {
	if c.Grid.StartHour < 0 || c.Grid.EndHour > 24 || c.Grid.StartHour >= c.Grid.EndHour {
		return fmt.Errorf("invalid grid hours %d-%d", c.Grid.StartHour, c.Grid.EndHour)
	}
	if c.Sync.WindowDays < 0 {
		return fmt.Errorf("invalid sync window_days %d", c.Sync.WindowDays)
	}
	seen := make(map[string]bool)
	for _, f := range c.ICS {
		if f.ID == "" || f.URL == "" {
			return fmt.Errorf("ics feed requires id and url")
		}
		if seen[f.ID] {
			return fmt.Errorf("duplicate ics feed id %q", f.ID)
		}
		seen[f.ID] = true
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured display timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
