package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Match     MatchConfig     `yaml:"match" mapstructure:"match"`
	State     StateConfig     `yaml:"state" mapstructure:"state"`
	Watch     WatchConfig     `yaml:"watch" mapstructure:"watch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// SourceConfig addresses the remote alert tree.
type SourceConfig struct {
	BaseURL string   `yaml:"base_url" mapstructure:"base_url"`
	Regions []string `yaml:"regions" mapstructure:"regions"`
}

// DiscoveryConfig bounds the tiered path search.
type DiscoveryConfig struct {
	Threshold       int      `yaml:"threshold" mapstructure:"threshold"`
	MaxOffices      int      `yaml:"max_offices" mapstructure:"max_offices"`
	MaxHours        int      `yaml:"max_hours" mapstructure:"max_hours"`
	Concurrency     int      `yaml:"concurrency" mapstructure:"concurrency"`
	Offices         []string `yaml:"offices" mapstructure:"offices"`
	DateWindowBack  int      `yaml:"date_window_back" mapstructure:"date_window_back"`
	IncludeTomorrow bool     `yaml:"include_tomorrow" mapstructure:"include_tomorrow"`
}

// FetchConfig configures the transport chain.
type FetchConfig struct {
	TimeoutSecs   int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent     string   `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSecond float64  `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Proxies       []string `yaml:"proxies" mapstructure:"proxies"`
}

// MatchConfig configures geographic relevance.
type MatchConfig struct {
	BufferKM float64 `yaml:"buffer_km" mapstructure:"buffer_km"`
}

// StateConfig configures local persistence.
type StateConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	PathCap int    `yaml:"path_cap" mapstructure:"path_cap"`
}

// WatchConfig configures the periodic re-check loop.
type WatchConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// ServerConfig configures the HTTP query server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CAPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("source.base_url", "https://dd.weather.gc.ca")
	v.SetDefault("source.regions", []string{"on", "qc", "bc", "ab", "mb", "ns"})
	v.SetDefault("discovery.threshold", 15)
	v.SetDefault("discovery.max_offices", 6)
	v.SetDefault("discovery.max_hours", 4)
	v.SetDefault("discovery.concurrency", 4)
	v.SetDefault("discovery.date_window_back", 1)
	v.SetDefault("discovery.include_tomorrow", false)
	v.SetDefault("fetch.timeout_secs", 5)
	v.SetDefault("fetch.user_agent", "capwatch/1.0")
	v.SetDefault("fetch.rate_per_second", 10.0)
	v.SetDefault("fetch.proxies", []string{})
	v.SetDefault("match.buffer_km", 30.0)
	v.SetDefault("state.path", "capwatch.db")
	v.SetDefault("state.path_cap", 10)
	v.SetDefault("watch.interval_secs", 300)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior deep inside the pipeline.
func (c *Config) Validate() error {
	var problems []string
	if c.Source.BaseURL == "" {
		problems = append(problems, "source.base_url is required")
	}
	if c.Match.BufferKM < 0 {
		problems = append(problems, "match.buffer_km must be >= 0")
	}
	if c.Discovery.Concurrency < 1 || c.Discovery.Concurrency > 32 {
		problems = append(problems, "discovery.concurrency must be between 1 and 32")
	}
	if c.Fetch.RatePerSecond <= 0 {
		problems = append(problems, "fetch.rate_per_second must be > 0")
	}
	if c.State.PathCap < 1 {
		problems = append(problems, "state.path_cap must be >= 1")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be a valid port")
	}
	if c.Watch.IntervalSecs < 10 {
		problems = append(problems, "watch.interval_secs must be >= 10")
	}
	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
