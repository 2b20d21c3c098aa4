package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// MiB is one mebibyte, the unit the upload limits are expressed in.
	MiB int64 = 1024 * 1024

	// DefaultThreshold is the confidence threshold a fresh or reset session starts with.
	DefaultThreshold = 0.5
)

// Config represents the application configuration
type Config struct {
	Dashboard     DashboardConfig     `yaml:"dashboard"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Limits        LimitsConfig        `yaml:"limits"`
	Web           WebConfig           `yaml:"web"`
	Log           LogConfig           `yaml:"log,omitempty"`
}

// DashboardConfig contains the detection service connection and polling settings
type DashboardConfig struct {
	ServiceURL       string        `yaml:"service_url"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	RecentLimit      int           `yaml:"recent_limit"`
	DefaultThreshold float64       `yaml:"default_threshold"`
}

// NotificationsConfig contains banner timings
type NotificationsConfig struct {
	EnterDelay   time.Duration `yaml:"enter_delay"`
	Dwell        time.Duration `yaml:"dwell"`
	ExitDuration time.Duration `yaml:"exit_duration"`
}

// LimitsConfig contains upload validation rules per asset kind
type LimitsConfig struct {
	ImageMaxBytes int64    `yaml:"image_max_bytes"`
	VideoMaxBytes int64    `yaml:"video_max_bytes"`
	ImageTypes    []string `yaml:"image_types"`
	VideoTypes    []string `yaml:"video_types"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. A missing file is not an
// error: the dashboard runs on defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	cfg := Config{Web: WebConfig{Enabled: true}}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse configuration: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := Config{Web: WebConfig{Enabled: true}}
	cfg.setDefaults()
	return &cfg
}

// getDefaultConfigPath returns the first existing default configuration path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/dashboard.yaml",
		"./config.yaml",
		"/etc/detection-dashboard/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// applyEnv overrides file values with DASHBOARD_* environment variables
func (c *Config) applyEnv() error {
	if v := os.Getenv("DASHBOARD_SERVICE_URL"); v != "" {
		c.Dashboard.ServiceURL = v
	}
	if v := os.Getenv("DASHBOARD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DASHBOARD_WEB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DASHBOARD_WEB_PORT %q: %w", v, err)
		}
		c.Web.Port = port
	}
	return nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Dashboard.ServiceURL == "" {
		c.Dashboard.ServiceURL = "http://localhost:5000"
	}
	if c.Dashboard.RequestTimeout == 0 {
		c.Dashboard.RequestTimeout = 30 * time.Second
	}
	if c.Dashboard.PollInterval == 0 {
		c.Dashboard.PollInterval = 5 * time.Second
	}
	if c.Dashboard.RecentLimit == 0 {
		c.Dashboard.RecentLimit = 5
	}
	if c.Dashboard.DefaultThreshold == 0 {
		c.Dashboard.DefaultThreshold = DefaultThreshold
	}

	if c.Notifications.EnterDelay == 0 {
		c.Notifications.EnterDelay = 100 * time.Millisecond
	}
	if c.Notifications.Dwell == 0 {
		c.Notifications.Dwell = 5 * time.Second
	}
	if c.Notifications.ExitDuration == 0 {
		c.Notifications.ExitDuration = 300 * time.Millisecond
	}

	if c.Limits.ImageMaxBytes == 0 {
		c.Limits.ImageMaxBytes = 16 * MiB
	}
	if c.Limits.VideoMaxBytes == 0 {
		c.Limits.VideoMaxBytes = 100 * MiB
	}
	if len(c.Limits.ImageTypes) == 0 {
		c.Limits.ImageTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/gif"}
	}
	if len(c.Limits.VideoTypes) == 0 {
		c.Limits.VideoTypes = []string{"video/mp4", "video/avi", "video/mov", "video/mkv", "video/wmv", "video/flv"}
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8090
	}
}
