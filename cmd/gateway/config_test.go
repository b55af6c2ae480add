package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("GATEWAY_UPSTREAM_URL", "http://api.local:3000")

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "http://api.local:3000", cfg.UpstreamURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Coalesce.MinInterval)
	assert.Equal(t, 300*time.Millisecond, cfg.Coalesce.GracePeriod)
	assert.Equal(t, []string{"GET", "HEAD"}, cfg.Coalesce.Methods)
	assert.Equal(t, "Authorization", cfg.Coalesce.PartitionHeader)
	assert.True(t, cfg.Coalesce.IncludeQuery)
	assert.True(t, cfg.Coalesce.RegisterWrites)
	assert.Zero(t, cfg.Upstream.RPS)
	assert.False(t, cfg.Stats.Redis.Enabled)
	assert.Equal(t, "coalesce:stats", cfg.Stats.Redis.Prefix)
	assert.Equal(t, 24*time.Hour, cfg.Stats.Redis.TTL)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_UPSTREAM_URL", "http://api.local:3000")
	t.Setenv("GATEWAY_COALESCE_MIN_INTERVAL", "500ms")
	t.Setenv("GATEWAY_COALESCE_GRACE_PERIOD", "0s")
	t.Setenv("GATEWAY_UPSTREAM_RPS", "2.5")
	t.Setenv("GATEWAY_UPSTREAM_BURST", "3")

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Coalesce.MinInterval)
	assert.Zero(t, cfg.Coalesce.GracePeriod)
	assert.Equal(t, 2.5, cfg.Upstream.RPS)
	assert.Equal(t, 3, cfg.Upstream.Burst)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
upstream_url: "http://admin-api:8000"
coalesce:
  min_interval: 1s
  methods: [GET]
  add_headers: true
stats:
  redis:
    enabled: true
    addr: "localhost:6379"
    track_keys: true
`), 0o600))

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "http://admin-api:8000", cfg.UpstreamURL)
	assert.Equal(t, time.Second, cfg.Coalesce.MinInterval)
	assert.Equal(t, []string{"GET"}, cfg.Coalesce.Methods)
	assert.True(t, cfg.Coalesce.AddHeaders)
	assert.True(t, cfg.Stats.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Stats.Redis.Addr)
	assert.True(t, cfg.Stats.Redis.TrackKeys)
}

func TestLoadConfig_FlagsWin(t *testing.T) {
	t.Setenv("GATEWAY_UPSTREAM_URL", "http://from-env:3000")

	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Set("upstream", "http://from-flag:3000"))

	v := viper.New()
	require.NoError(t, v.BindPFlag("upstream_url", cmd.Flags().Lookup("upstream")))

	cfg, err := loadConfig(v, "")
	require.NoError(t, err)
	assert.Equal(t, "http://from-flag:3000", cfg.UpstreamURL)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		msg  string
	}{
		{
			name: "missing upstream",
			env:  map[string]string{},
			msg:  "upstream_url is required",
		},
		{
			name: "relative upstream",
			env:  map[string]string{"GATEWAY_UPSTREAM_URL": "/api"},
			msg:  "must be absolute",
		},
		{
			name: "negative interval",
			env: map[string]string{
				"GATEWAY_UPSTREAM_URL":          "http://api:3000",
				"GATEWAY_COALESCE_MIN_INTERVAL": "-1s",
			},
			msg: "coalesce.min_interval",
		},
		{
			name: "rps without burst",
			env: map[string]string{
				"GATEWAY_UPSTREAM_URL":   "http://api:3000",
				"GATEWAY_UPSTREAM_RPS":   "1",
				"GATEWAY_UPSTREAM_BURST": "0",
			},
			msg: "upstream.burst",
		},
		{
			name: "redis without addr",
			env: map[string]string{
				"GATEWAY_UPSTREAM_URL":        "http://api:3000",
				"GATEWAY_STATS_REDIS_ENABLED": "true",
			},
			msg: "stats.redis.addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GATEWAY_UPSTREAM_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig(viper.New(), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = newLogger("loud")
	require.Error(t, err)
}
