// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"

	"github.com/wneessen/geotrack/internal/capability"
)

const configEnv = "GEOTRACK"

// Provider types
const (
	ProviderGPSD      = "gpsd"
	ProviderGPSDWatch = "gpsdwatch"
	ProviderFile      = "file"
)

// Capability platforms
const (
	PlatformStatic = "static"
	PlatformDBus   = "dbus"
)

// Config represents the application's configuration structure.
type Config struct {
	LogLevel slog.Level `fig:"loglevel" default:"0"`
	Endpoint string     `fig:"endpoint"`

	Auth struct {
		Token     string `fig:"token"`
		TokenFile string `fig:"token_file"`
	} `fig:"auth"`

	Delivery struct {
		Timeout     time.Duration `fig:"timeout" default:"10s"`
		MaxAttempts int           `fig:"max_attempts" default:"3"`
		BaseDelay   time.Duration `fig:"base_delay" default:"2s"`
	} `fig:"delivery"`

	Detection struct {
		DistanceThreshold float64       `fig:"distance_threshold" default:"10"`
		TimeThreshold     time.Duration `fig:"time_threshold" default:"30s"`
	} `fig:"detection"`

	Intervals struct {
		HealthCheck       time.Duration `fig:"health_check" default:"1m"`
		StartConfirm      time.Duration `fig:"start_confirm" default:"5s"`
		CapabilityRefresh time.Duration `fig:"capability_refresh" default:"5m"`
	} `fig:"intervals"`

	Provider struct {
		// Allowed values: gpsd, gpsdwatch, file
		Type         string        `fig:"type" default:"gpsd"`
		GPSDHost     string        `fig:"gpsd_host" default:"localhost"`
		GPSDPort     string        `fig:"gpsd_port" default:"2947"`
		PollInterval time.Duration `fig:"poll_interval" default:"10s"`
		File         string        `fig:"file"`
		MaxRestarts  int           `fig:"max_restarts" default:"10"`
	} `fig:"provider"`

	Capabilities struct {
		// Allowed values: static, dbus
		Platform     string `fig:"platform" default:"static"`
		AppID        string `fig:"app_id" default:"geotrack"`
		Foreground   string `fig:"foreground" default:"granted"`
		Background   string `fig:"background" default:"not_applicable"`
		Notification string `fig:"notification" default:"not_applicable"`
		PowerExempt  bool   `fig:"power_exempt"`
	} `fig:"capabilities"`

	DisableSleepMonitor bool `fig:"disable_sleep_monitor"`
}

// NewFromFile loads the configuration from file in path, overlaid by the environment.
func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

// New loads the configuration from the defaults and the environment only.
func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

// Validate checks the configuration and fills in derived defaults.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	endpoint, err := url.Parse(c.Endpoint)
	if err != nil || endpoint.Host == "" || (endpoint.Scheme != "https" && endpoint.Scheme != "http") {
		return fmt.Errorf("invalid endpoint: %q", c.Endpoint)
	}
	if c.Auth.TokenFile != "" {
		c.Auth.TokenFile = expandHome(c.Auth.TokenFile)
	}

	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("invalid delivery timeout: %s", c.Delivery.Timeout)
	}
	if c.Delivery.MaxAttempts < 1 || c.Delivery.MaxAttempts > 10 {
		return fmt.Errorf("invalid delivery max attempts: %d", c.Delivery.MaxAttempts)
	}
	if c.Delivery.BaseDelay <= 0 {
		return fmt.Errorf("invalid delivery base delay: %s", c.Delivery.BaseDelay)
	}
	if c.Detection.DistanceThreshold < 0 {
		return fmt.Errorf("invalid distance threshold: %f", c.Detection.DistanceThreshold)
	}
	if c.Detection.TimeThreshold <= 0 {
		return fmt.Errorf("invalid time threshold: %s", c.Detection.TimeThreshold)
	}
	if c.Intervals.HealthCheck <= 0 || c.Intervals.StartConfirm <= 0 || c.Intervals.CapabilityRefresh <= 0 {
		return errors.New("intervals must be positive")
	}

	switch c.Provider.Type {
	case ProviderGPSD, ProviderGPSDWatch:
	case ProviderFile:
		if c.Provider.File == "" {
			home, _ := os.UserHomeDir()
			c.Provider.File = filepath.Join(home, ".config", "geotrack", "location")
		}
		c.Provider.File = expandHome(c.Provider.File)
	default:
		return fmt.Errorf("invalid provider type: %s", c.Provider.Type)
	}
	if c.Provider.PollInterval <= 0 {
		return fmt.Errorf("invalid provider poll interval: %s", c.Provider.PollInterval)
	}
	if c.Provider.MaxRestarts < 0 {
		return fmt.Errorf("invalid provider max restarts: %d", c.Provider.MaxRestarts)
	}

	switch c.Capabilities.Platform {
	case PlatformStatic, PlatformDBus:
	default:
		return fmt.Errorf("invalid capability platform: %s", c.Capabilities.Platform)
	}
	if _, err = c.StaticCapabilities(); err != nil {
		return err
	}

	return nil
}

// StaticCapabilities returns the grants configured for the static capability platform.
func (c *Config) StaticCapabilities() (capability.State, error) {
	var state capability.State
	var err error
	if state.ForegroundLocation, err = capability.ParseStatus(c.Capabilities.Foreground); err != nil {
		return state, fmt.Errorf("invalid foreground capability: %w", err)
	}
	if state.BackgroundLocation, err = capability.ParseStatus(c.Capabilities.Background); err != nil {
		return state, fmt.Errorf("invalid background capability: %w", err)
	}
	if state.Notification, err = capability.ParseStatus(c.Capabilities.Notification); err != nil {
		return state, fmt.Errorf("invalid notification capability: %w", err)
	}
	state.PowerExemptionGranted = c.Capabilities.PowerExempt
	return state, nil
}

// Credential returns the configured bearer credential. A token file takes precedence over the
// inline token and is read on every call.
func (c *Config) Credential() (string, error) {
	if c.Auth.TokenFile == "" {
		return strings.TrimSpace(c.Auth.Token), nil
	}
	data, err := os.ReadFile(c.Auth.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
