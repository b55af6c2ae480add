package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type config struct {
	ListenAddr  string         `mapstructure:"listen_addr"`
	UpstreamURL string         `mapstructure:"upstream_url"`
	LogLevel    string         `mapstructure:"log_level"`
	Coalesce    coalesceConfig `mapstructure:"coalesce"`
	Upstream    upstreamConfig `mapstructure:"upstream"`
	Stats       statsConfig    `mapstructure:"stats"`
}

type coalesceConfig struct {
	MinInterval     time.Duration `mapstructure:"min_interval"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	Methods         []string      `mapstructure:"methods"`
	PartitionHeader string        `mapstructure:"partition_header"`
	IncludeQuery    bool          `mapstructure:"include_query"`
	AddHeaders      bool          `mapstructure:"add_headers"`
	RegisterWrites  bool          `mapstructure:"register_writes"`
}

// upstreamConfig limita o total de requisições ao upstream, somando todas as keys.
// RPS 0 desliga o limite.
type upstreamConfig struct {
	RPS         float64       `mapstructure:"rps"`
	Burst       int           `mapstructure:"burst"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

type statsConfig struct {
	Redis redisStatsConfig `mapstructure:"redis"`
}

type redisStatsConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Prefix    string        `mapstructure:"prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
	Bucket    string        `mapstructure:"bucket"`
	TrackKeys bool          `mapstructure:"track_keys"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("upstream_url", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("coalesce.min_interval", 2000*time.Millisecond)
	v.SetDefault("coalesce.grace_period", 300*time.Millisecond)
	v.SetDefault("coalesce.methods", []string{"GET", "HEAD"})
	v.SetDefault("coalesce.partition_header", "Authorization")
	v.SetDefault("coalesce.include_query", true)
	v.SetDefault("coalesce.add_headers", false)
	v.SetDefault("coalesce.register_writes", true)

	v.SetDefault("upstream.rps", 0.0)
	v.SetDefault("upstream.burst", 10)
	v.SetDefault("upstream.wait_timeout", 5*time.Second)

	v.SetDefault("stats.redis.enabled", false)
	v.SetDefault("stats.redis.addr", "")
	v.SetDefault("stats.redis.password", "")
	v.SetDefault("stats.redis.db", 0)
	v.SetDefault("stats.redis.prefix", "coalesce:stats")
	v.SetDefault("stats.redis.ttl", 24*time.Hour)
	v.SetDefault("stats.redis.bucket", "minute")
	v.SetDefault("stats.redis.track_keys", false)
}

// loadConfig junta defaults, arquivo opcional e variáveis GATEWAY_* (ex:
// GATEWAY_COALESCE_MIN_INTERVAL=1s). Flags já ligadas em v têm prioridade.
func loadConfig(v *viper.Viper, path string) (config, error) {
	setDefaults(v)
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c config) validate() error {
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return errors.New("upstream_url is required")
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return fmt.Errorf("upstream_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream_url %q must be absolute", c.UpstreamURL)
	}
	if c.Coalesce.MinInterval < 0 {
		return errors.New("coalesce.min_interval must be >= 0")
	}
	if c.Coalesce.GracePeriod < 0 {
		return errors.New("coalesce.grace_period must be >= 0")
	}
	if c.Upstream.RPS < 0 {
		return errors.New("upstream.rps must be >= 0")
	}
	if c.Upstream.RPS > 0 && c.Upstream.Burst <= 0 {
		return errors.New("upstream.burst must be > 0 when upstream.rps is set")
	}
	if c.Stats.Redis.Enabled && strings.TrimSpace(c.Stats.Redis.Addr) == "" {
		return errors.New("stats.redis.addr is required when stats.redis.enabled=true")
	}
	return nil
}
