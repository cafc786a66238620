package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"todaywhat/internal/model"
)

// ErrEmptyPath is returned when Load/Save are called without a path.
var ErrEmptyPath = errors.New("config path is empty")

// NEISConfig holds access settings for the NEIS Open API.
type NEISConfig struct {
	// APIKey is the NEIS issued key. NEIS serves a small sample without it.
	APIKey string `yaml:"api_key" json:"-"`
	// BaseURL defaults to https://open.neis.go.kr/hub.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// TimeoutSeconds bounds each HTTP request.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Preferences is the typed set of user toggles that drive date resolution
// and the timetable source.
type Preferences struct {
	SkipWeekend     bool `yaml:"skip_weekend" json:"skip_weekend"`
	SkipAfterDinner bool `yaml:"skip_after_dinner" json:"skip_after_dinner"`
	// ModifiedTimeTable switches the timetable to the user's manual overrides.
	ModifiedTimeTable bool              `yaml:"modified_timetable" json:"modified_timetable"`
	WidgetMealDisplay model.DisplayMeal `yaml:"widget_meal_display" json:"widget_meal_display"`
}

// DefaultPreferences matches a fresh install: skip-after-dinner on, the
// rest off.
func DefaultPreferences() Preferences {
	return Preferences{
		SkipAfterDinner:   true,
		WidgetMealDisplay: model.DisplayAuto,
	}
}

// ITunesConfig drives the new-version check.
type ITunesConfig struct {
	// AppIDs maps platform ("ios", "macos") to App Store track id.
	AppIDs         map[string]string `yaml:"app_ids" json:"app_ids"`
	Country        string            `yaml:"country" json:"country"`
	CurrentVersion string            `yaml:"current_version" json:"current_version"`
}

// LogConfig selects zap encoder and level.
type LogConfig struct {
	Format string `yaml:"format" json:"format"`
	Level  string `yaml:"level" json:"level"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone of the school (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string for the periodic refresh,
	// on top of the one-hour horizon wake-ups.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the number of days exported to the calendar feed.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// DataDir holds the sqlite record store, NEIS cache and previews.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	NEIS        NEISConfig           `yaml:"neis" json:"neis"`
	School      model.SchoolIdentity `yaml:"school" json:"school"`
	Preferences Preferences          `yaml:"preferences" json:"preferences"`
	ITunes      ITunesConfig         `yaml:"itunes" json:"itunes"`

	// NoticeURL serves the emergency notice JSON; empty disables it.
	NoticeURL string `yaml:"notice_url" json:"notice_url"`

	// OverrideFeedURL is an ICS feed whose weekly events replace the manual
	// timetable on every refresh; empty disables it.
	OverrideFeedURL string `yaml:"override_feed_url" json:"override_feed_url"`

	Log LogConfig `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Asia/Seoul",
		RefreshCron: "0 * * * *",
		HorizonDays: 7,
		DataDir:     "/var/lib/todaywhat",
		NEIS: NEISConfig{
			BaseURL:        "https://open.neis.go.kr/hub",
			TimeoutSeconds: 15,
		},
		School: model.SchoolIdentity{
			Grade: 1,
			Class: 1,
		},
		Preferences: DefaultPreferences(),
		ITunes: ITunesConfig{
			AppIDs:  map[string]string{},
			Country: "kr",
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.NEIS.BaseURL == "" {
		c.NEIS.BaseURL = def.NEIS.BaseURL
	}
	if c.NEIS.TimeoutSeconds <= 0 {
		c.NEIS.TimeoutSeconds = def.NEIS.TimeoutSeconds
	}
	if c.School.Grade <= 0 {
		c.School.Grade = 1
	}
	if c.School.Class <= 0 {
		c.School.Class = 1
	}
	if _, err := model.ParseDisplayMeal(string(c.Preferences.WidgetMealDisplay)); err != nil || c.Preferences.WidgetMealDisplay == "" {
		c.Preferences.WidgetMealDisplay = model.DisplayAuto
	}
	if c.ITunes.AppIDs == nil {
		c.ITunes.AppIDs = map[string]string{}
	}
	if c.ITunes.Country == "" {
		c.ITunes.Country = def.ITunes.Country
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded on top of the defaults, so a missing
//     skip_after_dinner key keeps its default of true.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file in the same directory + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return ErrEmptyPath
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".todaywhat-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
