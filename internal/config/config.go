package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrMissingAPIKey = errors.New("missing API key")

type RateLimitConfig struct {
	Requests int           `yaml:"requests"` // calls admitted per window
	Window   time.Duration `yaml:"window"`   // e.g. 1h
}

type MeetupConfig struct {
	BaseURL    string          `yaml:"base_url"` // https://api.meetup.com/
	APIKey     string          `yaml:"api_key"`  // usually from API_KEY
	Timeout    time.Duration   `yaml:"timeout"`
	UserAgent  string          `yaml:"user_agent"`
	PageSize   int             `yaml:"page_size"`
	Pagination string          `yaml:"pagination"` // link | offset
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Category   int             `yaml:"category"`
	Radius     string          `yaml:"radius"`
	Status     string          `yaml:"status"` // event status filter
}

type GeocoderConfig struct {
	Type       string        `yaml:"type"` // google | nominatim
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	RegionHint string        `yaml:"region_hint"`
	Timeout    time.Duration `yaml:"timeout"`
	UserAgent  string        `yaml:"user_agent"`
}

type SummaryConfig struct {
	Cutoff   string `yaml:"cutoff"`    // YYYY-MM-DD, events must be created after this date
	Timezone string `yaml:"timezone"`  // IANA name, "Local" by default
	NullCity string `yaml:"null_city"` // city the "null" key is renamed to, empty disables
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // MinIO and similar
}

type ArtifactsConfig struct {
	S3 S3Config `yaml:"s3"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Dump           bool   `yaml:"dump"`
	Listen         string `yaml:"listen"` // e.g. :9108, serves /metrics during the run
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"` // console | json
	Environment string `yaml:"environment"`
}

type Config struct {
	Root      string          `yaml:"-"`
	Meetup    MeetupConfig    `yaml:"meetup"`
	Geocoder  GeocoderConfig  `yaml:"geocoder"`
	Summary   SummaryConfig   `yaml:"summary"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// Load reads the optional YAML file at path, the optional .env file under root,
// then applies environment overrides and defaults. A missing config file is not an error.
func Load(path, root string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse yaml: %w", err)
			}
		}
	}
	if root == "" {
		root = "."
	}
	c.Root = root

	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&c)
	applyDefaults(&c)
	return &c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("API_KEY"); v != "" {
		c.Meetup.APIKey = v
	}
	if v := os.Getenv("MEETUP_BASE_URL"); v != "" {
		c.Meetup.BaseURL = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Geocoder.APIKey = v
	}
	if v := os.Getenv("GEOCODER_TYPE"); v != "" {
		c.Geocoder.Type = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		c.Metrics.PushgatewayURL = v
	}
}

func applyDefaults(c *Config) {
	if c.Meetup.BaseURL == "" {
		c.Meetup.BaseURL = "https://api.meetup.com/"
	}
	if c.Meetup.Timeout == 0 {
		c.Meetup.Timeout = 30 * time.Second
	}
	if c.Meetup.PageSize <= 0 {
		c.Meetup.PageSize = 200
	}
	if c.Meetup.Pagination == "" {
		c.Meetup.Pagination = "link"
	}
	if c.Meetup.RateLimit.Requests <= 0 {
		c.Meetup.RateLimit.Requests = 5000
	}
	if c.Meetup.RateLimit.Window <= 0 {
		c.Meetup.RateLimit.Window = time.Hour
	}
	if c.Meetup.Category == 0 {
		c.Meetup.Category = 34
	}
	if c.Meetup.Radius == "" {
		c.Meetup.Radius = "smart"
	}
	if c.Meetup.Status == "" {
		c.Meetup.Status = "past"
	}
	if c.Geocoder.Type == "" {
		c.Geocoder.Type = "google"
	}
	if c.Geocoder.RegionHint == "" {
		c.Geocoder.RegionHint = "europe"
	}
	if c.Geocoder.Timeout == 0 {
		c.Geocoder.Timeout = 15 * time.Second
	}
	if c.Summary.Cutoff == "" {
		c.Summary.Cutoff = "2015-09-30"
	}
	if c.Summary.Timezone == "" {
		c.Summary.Timezone = "Local"
	}
	if c.Summary.NullCity == "" {
		c.Summary.NullCity = "Luxembourg"
	} else if strings.EqualFold(c.Summary.NullCity, "none") {
		c.Summary.NullCity = ""
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Environment == "" {
		c.Log.Environment = "development"
	}
}

// RequireMeetupKey fails when the stages that call the Meetup API have no key.
func (c *Config) RequireMeetupKey() error {
	if strings.TrimSpace(c.Meetup.APIKey) == "" {
		return fmt.Errorf("%w: set API_KEY in the environment or %s", ErrMissingAPIKey, filepath.Join(c.Root, ".env"))
	}
	if p := c.Meetup.Pagination; p != "link" && p != "offset" {
		return fmt.Errorf("unknown meetup.pagination %q (want link or offset)", p)
	}
	return nil
}

// Location resolves the summary timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Summary.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Summary.Timezone)
	if err != nil {
		return nil, fmt.Errorf("summary.timezone: %w", err)
	}
	return loc, nil
}

// CutoffDate parses the summary cutoff as a calendar date.
func (c *Config) CutoffDate() (time.Time, error) {
	t, err := time.Parse("2006-01-02", c.Summary.Cutoff)
	if err != nil {
		return time.Time{}, fmt.Errorf("summary.cutoff: %w", err)
	}
	return t, nil
}
