package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/albumshelf/redact"
)

type Config struct {
	Catalog Catalog `yaml:"catalog"`
	Assets  Assets  `yaml:"assets"`
	Mirror  Mirror  `yaml:"mirror"`
	Session Session `yaml:"session"`
	Log     Log     `yaml:"log"`
}

func (c *Config) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("catalog", c.Catalog.ToDict()).
		Dict("assets", c.Assets.ToDict()).
		Dict("mirror", c.Mirror.ToDict()).
		Dict("session", c.Session.ToDict()).
		Dict("log", c.Log.ToDict())
}

func (c *Config) setDefaults() {
	c.Catalog.setDefaults()
	c.Assets.setDefaults()
	c.Mirror.setDefaults()
	c.Session.setDefaults()
	c.Log.setDefaults()
}

func (c *Config) validate() error {
	if err := c.Catalog.validate(); nil != err {
		return fmt.Errorf("catalog config validation failed: %v", err)
	}

	if err := c.Assets.validate(); nil != err {
		return fmt.Errorf("assets config validation failed: %v", err)
	}

	if err := c.Mirror.validate(); nil != err {
		return fmt.Errorf("mirror config validation failed: %v", err)
	}

	if err := c.Session.validate(); nil != err {
		return fmt.Errorf("session config validation failed: %v", err)
	}

	if err := c.Log.validate(); nil != err {
		return fmt.Errorf("log config validation failed: %v", err)
	}

	return nil
}

type Catalog struct {
	Path     string          `yaml:"path"`
	Timeouts CatalogTimeouts `yaml:"timeouts"`
}

func (c *Catalog) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("path", c.Path).
		Dict("timeouts", c.Timeouts.ToDict())
}

func (c *Catalog) setDefaults() {
	if c.Path == "" {
		c.Path = "./data/albums.bin"
	}

	c.Timeouts.setDefaults()
}

func (c *Catalog) validate() error {
	if err := c.Timeouts.validate(); nil != err {
		return fmt.Errorf("timeouts config validation failed: %v", err)
	}

	return nil
}

type CatalogTimeouts struct {
	Persist int `yaml:"persist"`
}

func (c *CatalogTimeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("persist", c.Persist)
}

func (c *CatalogTimeouts) setDefaults() {
	if c.Persist == 0 {
		c.Persist = 5
	}
}

func (c *CatalogTimeouts) validate() error {
	if c.Persist < 0 {
		return errors.New("persist must not be negative")
	}

	return nil
}

type Assets struct {
	Dir         string         `yaml:"dir"`
	MaxItems    int64          `yaml:"max_items"`
	TTL         int            `yaml:"ttl"`
	MaxSizeKiB  int64          `yaml:"max_size_kib"`
	MaxRetries  *uint64        `yaml:"max_retries"`
	RetryBaseMS int            `yaml:"retry_base_ms"`
	Concurrency int            `yaml:"concurrency"`
	RateLimit   AssetRateLimit `yaml:"rate_limit"`
	Timeouts    AssetTimeouts  `yaml:"timeouts"`
}

func (c *Assets) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("dir", c.Dir).
		Int64("max_items", c.MaxItems).
		Int("ttl", c.TTL).
		Int64("max_size_kib", c.MaxSizeKiB).
		Uint64("max_retries", lo.FromPtr(c.MaxRetries)).
		Int("retry_base_ms", c.RetryBaseMS).
		Int("concurrency", c.Concurrency).
		Dict("rate_limit", c.RateLimit.ToDict()).
		Dict("timeouts", c.Timeouts.ToDict())
}

func (c *Assets) setDefaults() {
	if c.Dir == "" {
		c.Dir = "./data/covers"
	}

	if c.MaxItems == 0 {
		c.MaxItems = 100
	}

	if c.TTL == 0 {
		c.TTL = 3600
	}

	if c.MaxSizeKiB == 0 {
		c.MaxSizeKiB = 10 * 1024
	}

	// Zero is a valid setting that disables retries.
	if nil == c.MaxRetries {
		c.MaxRetries = lo.ToPtr[uint64](3)
	}

	if c.RetryBaseMS == 0 {
		c.RetryBaseMS = 500
	}

	if c.Concurrency == 0 {
		c.Concurrency = 4
	}

	c.RateLimit.setDefaults()
	c.Timeouts.setDefaults()
}

func (c *Assets) validate() error {
	if c.MaxItems < 0 {
		return errors.New("max_items must not be negative")
	}

	if c.TTL < 0 {
		return errors.New("ttl must not be negative")
	}

	if c.MaxSizeKiB < 0 {
		return errors.New("max_size_kib must not be negative")
	}

	if c.RetryBaseMS < 0 {
		return errors.New("retry_base_ms must not be negative")
	}

	if c.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}

	if err := c.RateLimit.validate(); nil != err {
		return fmt.Errorf("rate_limit config validation failed: %v", err)
	}

	if err := c.Timeouts.validate(); nil != err {
		return fmt.Errorf("timeouts config validation failed: %v", err)
	}

	return nil
}

type AssetRateLimit struct {
	IntervalMS int `yaml:"interval_ms"`
	Burst      int `yaml:"burst"`
}

func (c *AssetRateLimit) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("interval_ms", c.IntervalMS).
		Int("burst", c.Burst)
}

func (c *AssetRateLimit) setDefaults() {
	if c.IntervalMS == 0 {
		c.IntervalMS = 100
	}

	if c.Burst == 0 {
		c.Burst = 5
	}
}

func (c *AssetRateLimit) validate() error {
	if c.IntervalMS < 0 {
		return errors.New("interval_ms must not be negative")
	}

	if c.Burst < 0 {
		return errors.New("burst must not be negative")
	}

	return nil
}

type AssetTimeouts struct {
	Download int `yaml:"download"`
}

func (c *AssetTimeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("download", c.Download)
}

func (c *AssetTimeouts) setDefaults() {
	if c.Download == 0 {
		c.Download = 30
	}
}

func (c *AssetTimeouts) validate() error {
	if c.Download < 0 {
		return errors.New("download must not be negative")
	}

	return nil
}

type Mirror struct {
	Online      bool           `yaml:"online"`
	BaseURL     string         `yaml:"base_url"`
	Token       string         `yaml:"-"`
	MaxRetries  *uint64        `yaml:"max_retries"`
	RetryBaseMS int            `yaml:"retry_base_ms"`
	Timeouts    MirrorTimeouts `yaml:"timeouts"`
}

func (c *Mirror) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Bool("online", c.Online).
		Str("base_url", c.BaseURL).
		Str("token", lo.Ternary(len(c.Token) > 0, redact.String(c.Token), "")).
		Uint64("max_retries", lo.FromPtr(c.MaxRetries)).
		Int("retry_base_ms", c.RetryBaseMS).
		Dict("timeouts", c.Timeouts.ToDict())
}

func (c *Mirror) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}

	// Zero is a valid setting that disables retries.
	if nil == c.MaxRetries {
		c.MaxRetries = lo.ToPtr[uint64](3)
	}

	if c.RetryBaseMS == 0 {
		c.RetryBaseMS = 1000
	}

	c.Timeouts.setDefaults()
}

func (c *Mirror) validate() error {
	if c.Online {
		u, err := url.Parse(c.BaseURL)
		if nil != err {
			return fmt.Errorf("base_url is invalid: %v", err)
		}

		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base_url scheme must be http or https, got: %s", u.Scheme)
		}
	}

	if c.RetryBaseMS < 0 {
		return errors.New("retry_base_ms must not be negative")
	}

	if err := c.Timeouts.validate(); nil != err {
		return fmt.Errorf("timeouts config validation failed: %v", err)
	}

	return nil
}

type MirrorTimeouts struct {
	Request int `yaml:"request"`
}

func (c *MirrorTimeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("request", c.Request)
}

func (c *MirrorTimeouts) setDefaults() {
	if c.Request == 0 {
		c.Request = 5
	}
}

func (c *MirrorTimeouts) validate() error {
	if c.Request < 0 {
		return errors.New("request must not be negative")
	}

	return nil
}

type Session struct {
	Path string `yaml:"path"`
}

func (c *Session) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("path", c.Path)
}

func (c *Session) setDefaults() {
	if c.Path == "" {
		c.Path = "./data/session.db"
	}
}

func (c *Session) validate() error {
	return nil
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "pretty"
	}
}

func (c *Log) validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error", "fatal", "panic"}, c.Level) {
		return fmt.Errorf(
			"level must be one of: debug, info, warn, error, fatal, panic, got: %s",
			c.Level,
		)
	}

	if !slices.Contains([]string{"json", "pretty"}, c.Format) {
		return fmt.Errorf("format must be 'json' or 'pretty', got: %s", c.Format)
	}

	return nil
}

// Default returns a configuration with every default applied, as if loaded
// from an empty file.
func Default() *Config {
	var conf Config
	conf.setDefaults()

	return &conf
}

func Load(filename string) (*Config, error) {
	filename = lo.Ternary(len(filename) > 0, filename, "config.yaml")

	var conf Config

	data, err := os.ReadFile(filename)
	if nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
		}
	} else if err := yaml.Unmarshal(data, &conf); nil != err {
		return nil, fmt.Errorf("failed to parse config file %s: %v", filename, err)
	}

	conf.Mirror.Token = os.Getenv("MIRROR_TOKEN")
	conf.setDefaults()

	if err := conf.validate(); nil != err {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return &conf, nil
}
