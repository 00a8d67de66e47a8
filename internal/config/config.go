package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface, constructed once at process
// start and passed by reference into every component that needs it.
type Config struct {
	Timezone string `yaml:"timezone"`

	Source struct {
		Host           string `yaml:"host"`
		APIKey         string `yaml:"api_key"`
		APISecret      string `yaml:"api_secret"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"source"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"cache"`

	Window struct {
		Start string `yaml:"start"` // YYYY-MM-DD, empty = today
		Days  int    `yaml:"days"`
	} `yaml:"window"`

	Rollups struct {
		GroupMetaKey string `yaml:"group_meta_key"`
		EmailMetaKey string `yaml:"email_meta_key"`
	} `yaml:"rollups"`

	TimeRules TimeRules `yaml:"time_rules"`

	Calendar Calendar `yaml:"calendar"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Daemon struct {
		Schedule string `yaml:"schedule"` // cron spec, empty = one-shot
	} `yaml:"daemon"`
}

// Calendar holds the Google Calendar side of the configuration: service
// account credentials, routing targets and mutation pacing.
type Calendar struct {
	CredentialsFile   string           `yaml:"credentials_file"`
	DefaultCalendarID string           `yaml:"default_calendar_id"`
	Targets           []CalendarTarget `yaml:"targets"`
	DeleteOrphans     *bool            `yaml:"delete_orphans"`
	RatePerSecond     float64          `yaml:"rate_per_second"`
	Burst             int              `yaml:"burst"`
	DefaultLocation   string           `yaml:"default_location"`
	ReminderMinutes   []int            `yaml:"reminder_minutes"`
}

// CalendarTarget routes projected slots whose tags intersect Tags to the
// calendar identified by CalendarID.
type CalendarTarget struct {
	Name       string   `yaml:"name"`
	CalendarID string   `yaml:"calendar_id"`
	Tags       []string `yaml:"tags"`
}

// Load reads the YAML config at path, expanding ${ENV_VAR} placeholders and
// applying defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.Window.Days <= 0 {
		cfg.Window.Days = 7
	}
	if cfg.Source.TimeoutSeconds <= 0 {
		cfg.Source.TimeoutSeconds = 30
	}
	if cfg.Rollups.GroupMetaKey == "" {
		cfg.Rollups.GroupMetaKey = "group"
	}
	if cfg.Rollups.EmailMetaKey == "" {
		cfg.Rollups.EmailMetaKey = "contact_email"
	}
	if cfg.Calendar.RatePerSecond <= 0 {
		cfg.Calendar.RatePerSecond = 5
	}
	if cfg.Calendar.Burst <= 0 {
		cfg.Calendar.Burst = 10
	}

	return &cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SourceTimeout returns the HTTP timeout for booking-source calls.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// CacheTTL returns the optional Redis response-cache TTL; zero disables it.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// DeleteOrphans reports whether orphan deletion is enabled (default on).
func (c *Config) DeleteOrphans() bool {
	if c.Calendar.DeleteOrphans == nil {
		return true
	}
	return *c.Calendar.DeleteOrphans
}

// ResolveWindow computes the half-open query window from the configured (or
// overridden) start date and day count.
func (c *Config) ResolveWindow(startOverride string, daysOverride int, loc *time.Location) (start, end time.Time, err error) {
	sd := c.Window.Start
	if startOverride != "" {
		sd = startOverride
	}
	days := c.Window.Days
	if daysOverride > 0 {
		days = daysOverride
	}

	if sd == "" {
		now := time.Now().In(loc)
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	} else {
		start, err = time.ParseInLocation("2006-01-02", sd, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse window start %q: %w", sd, err)
		}
	}
	return start, start.AddDate(0, 0, days), nil
}

// TimeRule reassigns the hour and minute of a slot's start and end. When the
// resulting end is not strictly after the start, the end rolls to the next
// calendar day.
type TimeRule struct {
	StartHour   int  `yaml:"start_hour"`
	StartMinute int  `yaml:"start_minute"`
	EndHour     int  `yaml:"end_hour"`
	EndMinute   int  `yaml:"end_minute"`
	Overnight   bool `yaml:"overnight"`
}

// TimeRules is the time-of-day override table: SKU-keyed exact matches win
// over category defaults.
type TimeRules struct {
	SKUOverrides map[string]TimeRule `yaml:"sku_overrides"`
	ByCategory   map[string]TimeRule `yaml:"default_by_category"`
}

// RuleFor looks up the rule for a slot: SKU override first (exact match,
// case-insensitive), then the category default. Returns nil when nothing
// matches.
func (r *TimeRules) RuleFor(sku, category string) *TimeRule {
	sku = strings.TrimSpace(sku)
	if sku != "" {
		for key, rule := range r.SKUOverrides {
			if strings.EqualFold(key, sku) {
				return &rule
			}
		}
	}
	if rule, ok := r.ByCategory[strings.TrimSpace(category)]; ok {
		return &rule
	}
	return nil
}

// Apply rewrites start and end with the rule's times of day, rolling the end
// to the next day for overnight spans.
func (r *TimeRule) Apply(start, end time.Time) (time.Time, time.Time) {
	s := time.Date(start.Year(), start.Month(), start.Day(), r.StartHour, r.StartMinute, 0, 0, start.Location())
	e := time.Date(end.Year(), end.Month(), end.Day(), r.EndHour, r.EndMinute, 0, 0, end.Location())
	if !e.After(s) {
		e = e.AddDate(0, 0, 1)
	}
	return s, e
}
