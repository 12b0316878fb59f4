package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultPath is where the board looks for its settings when no --config flag is given.
const DefaultPath = "config.json"

// ErrNoStations is returned when the document configures no station to display.
var ErrNoStations = errors.New("no stations configured")

// Config holds the settings of the departure board. It is read once at startup
// and never changes while the board is running.
type Config struct {
	Source        string   `mapstructure:"source"`
	StationIDs    []string `mapstructure:"station_id"`
	Duration      int      `mapstructure:"duration"`
	RefreshRate   int      `mapstructure:"refresh_rate"`
	Lines         []string `mapstructure:"lines"`
	ShowCancelled bool     `mapstructure:"show_cancelled"`

	TickRate     int    `mapstructure:"tick_rate"`
	FetchTimeout int    `mapstructure:"fetch_timeout"`
	AccentColor  string `mapstructure:"accent_color"`
	LogFile      string `mapstructure:"log_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source", "v6.db.transport.rest")
	v.SetDefault("station_id", []string{})
	v.SetDefault("duration", 60)
	v.SetDefault("refresh_rate", 1000)
	v.SetDefault("lines", []string{})
	v.SetDefault("show_cancelled", false)
	v.SetDefault("tick_rate", 30)
	v.SetDefault("fetch_timeout", 10)
	v.SetDefault("accent_color", "99")
	v.SetDefault("log_file", filepath.Join(os.TempDir(), "abfahrt.log"))
}

// Load reads the configuration document at path, applies ABFAHRT_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Read is Load without validation, for editing a document that is not complete yet.
func Read(path string) (*Config, error) {
	// A missing .env is the normal case
	_ = godotenv.Load()

	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("ABFAHRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate reports the first setting that would keep the board from running.
func (c *Config) Validate() error {
	if len(c.StationIDs) == 0 {
		return ErrNoStations
	}
	for i, id := range c.StationIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("station_id entry %d is empty", i)
		}
	}
	if c.Source == "" {
		return errors.New("source must name the API host")
	}
	if strings.Contains(c.Source, "://") {
		return fmt.Errorf("source %q must be a bare host without scheme", c.Source)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %d", c.Duration)
	}
	if c.RefreshRate < 0 {
		return fmt.Errorf("refresh_rate must not be negative, got %d", c.RefreshRate)
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("tick_rate must be positive, got %d", c.TickRate)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive, got %d", c.FetchTimeout)
	}
	return nil
}

// LineFilter returns the configured lines as a set. An empty set lets every line through.
func (c *Config) LineFilter() map[string]struct{} {
	filter := make(map[string]struct{}, len(c.Lines))
	for _, l := range c.Lines {
		filter[l] = struct{}{}
	}
	return filter
}

// TickInterval is the longest the board waits for a key press per iteration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickRate) * time.Millisecond
}

// FetchTimeoutDuration bounds a single request to the departures API.
func (c *Config) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

// Save writes the configuration to path. The format follows the file extension.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.Set("source", cfg.Source)
	v.Set("station_id", cfg.StationIDs)
	v.Set("duration", cfg.Duration)
	v.Set("refresh_rate", cfg.RefreshRate)
	v.Set("lines", cfg.Lines)
	v.Set("show_cancelled", cfg.ShowCancelled)
	v.Set("tick_rate", cfg.TickRate)
	v.Set("fetch_timeout", cfg.FetchTimeout)
	v.Set("accent_color", cfg.AccentColor)
	v.Set("log_file", cfg.LogFile)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Default returns a configuration with every optional setting filled in and no stations.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults alone always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}
