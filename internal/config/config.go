// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface exposes read-only views of each configuration section.
type Interface interface {
	Logger() LoggerConfig
	Watch() WatchConfig
	Proxy() ProxyConfig
	Scheduler() SchedulerConfig
	Ads() AdsConfig
	Browser() BrowserConfig
	Results() ResultsConfig
	Database() DatabaseConfig
	Platform() PlatformConfig
}

// Config is the effective configuration of a run. It is resolved once at
// startup and handed to components by value.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	WatchCfg     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	ProxyCfg     ProxyConfig     `mapstructure:"proxy" yaml:"proxy"`
	SchedulerCfg SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	AdsCfg       AdsConfig       `mapstructure:"ads" yaml:"ads"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	ResultsCfg   ResultsConfig   `mapstructure:"results" yaml:"results"`
	DatabaseCfg  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	PlatformCfg  PlatformConfig  `mapstructure:"platform" yaml:"platform"`
}

var _ Interface = Config{}

func (c Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c Config) Watch() WatchConfig         { return c.WatchCfg }
func (c Config) Proxy() ProxyConfig         { return c.ProxyCfg }
func (c Config) Scheduler() SchedulerConfig { return c.SchedulerCfg }
func (c Config) Ads() AdsConfig             { return c.AdsCfg }
func (c Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c Config) Results() ResultsConfig     { return c.ResultsCfg }
func (c Config) Database() DatabaseConfig   { return c.DatabaseCfg }
func (c Config) Platform() PlatformConfig   { return c.PlatformCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// WatchConfig controls what is watched and for how long.
type WatchConfig struct {
	URLs []string `mapstructure:"urls" yaml:"urls"`
	// WatchTimePercentage is the share of the media duration to watch, 1-100.
	WatchTimePercentage int           `mapstructure:"watch_time_percentage" yaml:"watch_time_percentage"`
	NavigationTimeout   time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// ProxyConfig selects how sessions obtain a proxy. A non-empty URLs list wins
// over the rotating service.
type ProxyConfig struct {
	UseProxies bool     `mapstructure:"use_proxies" yaml:"use_proxies"`
	URLs       []string `mapstructure:"urls" yaml:"urls"`
	Groups     []string `mapstructure:"groups" yaml:"groups"`
	Country    string   `mapstructure:"country" yaml:"country"`
	// Rotating service endpoint and credentials, normally taken from the host environment.
	Hostname string `mapstructure:"hostname" yaml:"hostname"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"-"`
}

type SchedulerConfig struct {
	Concurrency         int           `mapstructure:"concurrency" yaml:"concurrency"`
	ConcurrencyInterval time.Duration `mapstructure:"concurrency_interval" yaml:"concurrency_interval"`
	CapacityBackoff     time.Duration `mapstructure:"capacity_backoff" yaml:"capacity_backoff"`
}

// AdsConfig holds the ad handling thresholds, in seconds.
type AdsConfig struct {
	AutoSkip   bool `mapstructure:"auto_skip" yaml:"auto_skip"`
	SkipAfter  int  `mapstructure:"skip_after" yaml:"skip_after"`
	MaxSeconds int  `mapstructure:"max_seconds" yaml:"max_seconds"`
}

type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// ExecPath overrides the Chrome binary discovered by chromedp.
	ExecPath string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args     []string `mapstructure:"args" yaml:"args"`
	// TeardownTimeout bounds session shutdown, independent of the job context.
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout" yaml:"teardown_timeout"`
}

// ResultsConfig controls where job and run records are written.
type ResultsConfig struct {
	DatasetDir string `mapstructure:"dataset_dir" yaml:"dataset_dir"`
	Postgres   bool   `mapstructure:"postgres" yaml:"postgres"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// PlatformConfig describes the hosting platform integration.
type PlatformConfig struct {
	EventsWSURL string `mapstructure:"events_ws_url" yaml:"events_ws_url"`
}

// NewDefaultConfig returns a Config populated only from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "streamwatch")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Watch --
	v.SetDefault("watch.urls", []string{})
	v.SetDefault("watch.watch_time_percentage", 80)
	v.SetDefault("watch.navigation_timeout", "120s")

	// -- Proxy --
	v.SetDefault("proxy.use_proxies", true)
	v.SetDefault("proxy.urls", []string{})
	v.SetDefault("proxy.groups", []string{})
	v.SetDefault("proxy.country", "")
	v.SetDefault("proxy.hostname", "proxy.apify.com")
	v.SetDefault("proxy.port", 8000)

	// -- Scheduler --
	v.SetDefault("scheduler.concurrency", 5)
	v.SetDefault("scheduler.concurrency_interval", "5s")
	v.SetDefault("scheduler.capacity_backoff", "30s")

	// -- Ads --
	v.SetDefault("ads.auto_skip", true)
	v.SetDefault("ads.skip_after", 5)
	v.SetDefault("ads.max_seconds", 15)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.teardown_timeout", "15s")

	// -- Results --
	v.SetDefault("results.dataset_dir", "~/.streamwatch/datasets")
	v.SetDefault("results.postgres", false)
	v.SetDefault("database.url", "")
}

// NewConfigFromViper binds the host environment, unmarshals and validates.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials and platform wiring come from the hosting environment.
	_ = v.BindEnv("proxy.password", "APIFY_PROXY_PASSWORD")
	_ = v.BindEnv("proxy.hostname", "APIFY_PROXY_HOSTNAME")
	_ = v.BindEnv("proxy.port", "APIFY_PROXY_PORT")
	_ = v.BindEnv("platform.events_ws_url", "APIFY_ACTOR_EVENTS_WS_URL")
	_ = v.BindEnv("database.url", "STREAMWATCH_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.ProxyCfg.Password == "" {
		cfg.ProxyCfg.Password = os.Getenv("APIFY_PROXY_PASSWORD")
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	dir, err := homedir.Expand(c.ResultsCfg.DatasetDir)
	if err != nil {
		return fmt.Errorf("failed to expand results.dataset_dir: %w", err)
	}
	c.ResultsCfg.DatasetDir = dir

	logFile, err := homedir.Expand(c.LoggerCfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to expand logger.log_file: %w", err)
	}
	c.LoggerCfg.LogFile = logFile
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.WatchCfg.WatchTimePercentage < 1 || c.WatchCfg.WatchTimePercentage > 100 {
		return fmt.Errorf("watch.watch_time_percentage must be between 1 and 100")
	}
	if c.WatchCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("watch.navigation_timeout must be a positive duration")
	}
	if c.SchedulerCfg.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be a positive integer")
	}
	if c.SchedulerCfg.ConcurrencyInterval < 0 {
		return fmt.Errorf("scheduler.concurrency_interval must not be negative")
	}
	if c.SchedulerCfg.CapacityBackoff < 0 {
		return fmt.Errorf("scheduler.capacity_backoff must not be negative")
	}
	if err := c.AdsCfg.Validate(); err != nil {
		return fmt.Errorf("ads configuration invalid: %w", err)
	}
	if c.ResultsCfg.Postgres && c.DatabaseCfg.URL == "" {
		return fmt.Errorf("database.url is required when results.postgres is enabled")
	}
	return nil
}

// Validate checks the ad thresholds.
func (a *AdsConfig) Validate() error {
	if a.SkipAfter < 0 {
		return fmt.Errorf("skip_after must not be negative")
	}
	if a.MaxSeconds < 0 {
		return fmt.Errorf("max_seconds must not be negative")
	}
	return nil
}
