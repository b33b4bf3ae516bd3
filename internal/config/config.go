// Package config loads settings from YAML, the environment and .env files.
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

	"energy_prices/internal/analysis"
	"energy_prices/internal/entsoe"
	"energy_prices/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Entsoe struct {
		BaseURL           string        `yaml:"base_url"`
		APIKey            string        `yaml:"api_key"`
		Country           string        `yaml:"country"`
		ImbalanceCategory string        `yaml:"imbalance_category"`
		MaxRetries        int           `yaml:"max_retries"`
		Backoff           time.Duration `yaml:"backoff"`
		Timeout           time.Duration `yaml:"timeout"`
	} `yaml:"entsoe"`
	Fetch struct {
		MaxWindowDays int           `yaml:"max_window_days"`
		WindowTimeout time.Duration `yaml:"window_timeout"`
		Concurrency   int           `yaml:"concurrency"`
		Pause         time.Duration `yaml:"pause"`
	} `yaml:"fetch"`
	Cache struct {
		Backend                string        `yaml:"backend"`
		Dir                    string        `yaml:"dir"`
		ManifestPath           string        `yaml:"manifest_path"`
		RefreshIncompleteAfter time.Duration `yaml:"refresh_incomplete_after"`
		Redis                  struct {
			Addr     string        `yaml:"addr"`
			Password string        `yaml:"password"`
			DB       int           `yaml:"db"`
			Prefix   string        `yaml:"prefix"`
			TTL      time.Duration `yaml:"ttl"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Analysis struct {
		Timezone         string  `yaml:"timezone"`
		StartYear        int     `yaml:"start_year"`
		PeakBand         string  `yaml:"peak_band"`
		OffPeakBand      string  `yaml:"off_peak_band"`
		CheapBand        string  `yaml:"cheap_band"`
		ExpensiveBand    string  `yaml:"expensive_band"`
		Cheapest         int     `yaml:"cheapest"`
		MostExpensive    int     `yaml:"most_expensive"`
		BinWidth         float64 `yaml:"bin_width"`
		BusinessCalendar string  `yaml:"business_calendar"`
	} `yaml:"analysis"`
	Server struct {
		Addr        string `yaml:"addr"`
		RefreshCron string `yaml:"refresh_cron"`
	} `yaml:"server"`
}

// Bands are the parsed hour bands used by the spread metrics.
type Bands struct {
	Peak      analysis.Band
	OffPeak   analysis.Band
	Cheap     analysis.Band
	Expensive analysis.Band
}

// LoadDotEnv reads a .env file into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENTSOE_API_KEY"); v != "" {
		c.Entsoe.APIKey = v
	}
	if v := os.Getenv("ENTSOE_BASE_URL"); v != "" {
		c.Entsoe.BaseURL = v
	}
	if v := os.Getenv("PRICES_COUNTRY"); v != "" {
		c.Entsoe.Country = v
	}
	if v := os.Getenv("PRICES_TIMEZONE"); v != "" {
		c.Analysis.Timezone = v
	}
	if v := os.Getenv("PRICES_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("PRICES_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("PRICES_MANIFEST_PATH"); v != "" {
		c.Cache.ManifestPath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Cache.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Cache.Redis.DB = db
		}
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("REFRESH_CRON"); v != "" {
		c.Server.RefreshCron = v
	}
}

func (c *Config) applyDefaults() {
	if c.Entsoe.BaseURL == "" {
		c.Entsoe.BaseURL = entsoe.DefaultBaseURL
	}
	if c.Entsoe.Country == "" {
		c.Entsoe.Country = "NL"
	}
	if c.Entsoe.ImbalanceCategory == "" {
		c.Entsoe.ImbalanceCategory = entsoe.CategoryLong
	}
	if c.Entsoe.MaxRetries == 0 {
		c.Entsoe.MaxRetries = 5
	}
	if c.Entsoe.Backoff == 0 {
		c.Entsoe.Backoff = time.Second
	}
	if c.Entsoe.Timeout == 0 {
		c.Entsoe.Timeout = 60 * time.Second
	}
	if c.Fetch.MaxWindowDays == 0 {
		c.Fetch.MaxWindowDays = int(model.DefaultMaxWindowSpan / (24 * time.Hour))
	}
	if c.Fetch.WindowTimeout == 0 {
		c.Fetch.WindowTimeout = 5 * time.Minute
	}
	if c.Fetch.Concurrency == 0 {
		c.Fetch.Concurrency = 1
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "file"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = "data/prices"
	}
	if c.Cache.ManifestPath == "" {
		c.Cache.ManifestPath = "data/prices/manifest.db"
	}
	if c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = "localhost:6379"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "prices:"
	}
	if c.Analysis.Timezone == "" {
		c.Analysis.Timezone = model.DefaultTimezone
	}
	if c.Analysis.StartYear == 0 {
		c.Analysis.StartYear = 2015
	}
	if c.Analysis.PeakBand == "" {
		c.Analysis.PeakBand = analysis.DefaultPeak.String()
	}
	if c.Analysis.OffPeakBand == "" {
		c.Analysis.OffPeakBand = analysis.DefaultOffPeak.String()
	}
	if c.Analysis.CheapBand == "" {
		c.Analysis.CheapBand = analysis.DefaultCheap.String()
	}
	if c.Analysis.ExpensiveBand == "" {
		c.Analysis.ExpensiveBand = analysis.DefaultExpensive.String()
	}
	if c.Analysis.Cheapest == 0 {
		c.Analysis.Cheapest = analysis.DefaultCheapest
	}
	if c.Analysis.MostExpensive == 0 {
		c.Analysis.MostExpensive = analysis.DefaultMostExpensive
	}
	if c.Analysis.BinWidth == 0 {
		c.Analysis.BinWidth = analysis.DefaultBinWidth
	}
	if c.Analysis.BusinessCalendar == "" {
		c.Analysis.BusinessCalendar = "xams"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RefreshCron == "" {
		c.Server.RefreshCron = "0 30 13 * * *"
	}
}

// Validate checks that all fields hold usable values. The API key is not
// required here because a fully cached run never contacts the provider.
func (c *Config) Validate() error {
	if _, ok := model.BiddingZone[c.Entsoe.Country]; !ok {
		return fmt.Errorf("entsoe.country %q has no known bidding zone", c.Entsoe.Country)
	}
	if c.Entsoe.ImbalanceCategory != entsoe.CategoryLong && c.Entsoe.ImbalanceCategory != entsoe.CategoryShort {
		return fmt.Errorf("entsoe.imbalance_category must be %s or %s", entsoe.CategoryLong, entsoe.CategoryShort)
	}
	if c.Entsoe.MaxRetries < 1 {
		return fmt.Errorf("entsoe.max_retries must be at least 1")
	}
	if c.Fetch.MaxWindowDays < 1 {
		return fmt.Errorf("fetch.max_window_days must be positive")
	}
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be positive")
	}
	if c.Cache.Backend != "file" && c.Cache.Backend != "redis" {
		return fmt.Errorf("cache.backend must be file or redis, got %q", c.Cache.Backend)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Bands(); err != nil {
		return err
	}
	if c.Analysis.Cheapest < 1 || c.Analysis.MostExpensive < 1 {
		return fmt.Errorf("analysis.cheapest and analysis.most_expensive must be positive")
	}
	if c.Analysis.BinWidth <= 0 {
		return fmt.Errorf("analysis.bin_width must be positive")
	}
	return nil
}

// RequireAPIKey fails when no provider token is configured.
func (c *Config) RequireAPIKey() error {
	if c.Entsoe.APIKey == "" {
		return fmt.Errorf("ENTSOE_API_KEY not set, use the config file or .env")
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Analysis.Timezone)
	if err != nil {
		return nil, fmt.Errorf("analysis.timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) Bands() (Bands, error) {
	var b Bands
	var err error
	if b.Peak, err = analysis.ParseBand(c.Analysis.PeakBand); err != nil {
		return b, fmt.Errorf("analysis.peak_band: %w", err)
	}
	if b.OffPeak, err = analysis.ParseBand(c.Analysis.OffPeakBand); err != nil {
		return b, fmt.Errorf("analysis.off_peak_band: %w", err)
	}
	if b.Cheap, err = analysis.ParseBand(c.Analysis.CheapBand); err != nil {
		return b, fmt.Errorf("analysis.cheap_band: %w", err)
	}
	if b.Expensive, err = analysis.ParseBand(c.Analysis.ExpensiveBand); err != nil {
		return b, fmt.Errorf("analysis.expensive_band: %w", err)
	}
	return b, nil
}

// MaxWindowSpan is the widest window sent to the provider.
func (c *Config) MaxWindowSpan() time.Duration {
	return time.Duration(c.Fetch.MaxWindowDays) * 24 * time.Hour
}
