package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if c.Dashboard.ServiceURL == "" {
		errors = append(errors, "dashboard.service_url is required")
	} else if u, err := url.Parse(c.Dashboard.ServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Sprintf("dashboard.service_url must be an absolute URL, got: %s", c.Dashboard.ServiceURL))
	}
	if c.Dashboard.RequestTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("dashboard.request_timeout must be > 0, got: %v", c.Dashboard.RequestTimeout))
	}
	if c.Dashboard.PollInterval <= 0 {
		errors = append(errors, fmt.Sprintf("dashboard.poll_interval must be > 0, got: %v", c.Dashboard.PollInterval))
	}
	if c.Dashboard.RecentLimit <= 0 {
		errors = append(errors, fmt.Sprintf("dashboard.recent_limit must be > 0, got: %d", c.Dashboard.RecentLimit))
	}
	if c.Dashboard.DefaultThreshold < 0 || c.Dashboard.DefaultThreshold > 1 {
		errors = append(errors, fmt.Sprintf("dashboard.default_threshold must be between 0 and 1, got: %.2f", c.Dashboard.DefaultThreshold))
	}

	if c.Notifications.EnterDelay < 0 {
		errors = append(errors, fmt.Sprintf("notifications.enter_delay must be >= 0, got: %v", c.Notifications.EnterDelay))
	}
	if c.Notifications.Dwell <= c.Notifications.EnterDelay {
		errors = append(errors, fmt.Sprintf("notifications.dwell (%v) must be greater than enter_delay (%v)", c.Notifications.Dwell, c.Notifications.EnterDelay))
	}
	if c.Notifications.ExitDuration < 0 {
		errors = append(errors, fmt.Sprintf("notifications.exit_duration must be >= 0, got: %v", c.Notifications.ExitDuration))
	}

	if c.Limits.ImageMaxBytes <= 0 {
		errors = append(errors, fmt.Sprintf("limits.image_max_bytes must be > 0, got: %d", c.Limits.ImageMaxBytes))
	}
	if c.Limits.VideoMaxBytes <= 0 {
		errors = append(errors, fmt.Sprintf("limits.video_max_bytes must be > 0, got: %d", c.Limits.VideoMaxBytes))
	}

	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
