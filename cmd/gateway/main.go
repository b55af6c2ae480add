package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coalescing-gateway/middleware/coalesce"
	"coalescing-gateway/middleware/coalesce/application"
	"coalescing-gateway/middleware/coalesce/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Reverse proxy that coalesces identical reads to the admin API",
		Long: `gateway fica na frente da API REST do painel admin.

Leituras idênticas e simultâneas viram uma única requisição ao upstream, e
cada endpoint respeita um intervalo mínimo entre disparos.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (yaml)")
	flags.String("listen", ":8080", "listen address")
	flags.String("upstream", "", "upstream base URL (ex: http://localhost:3000)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	_ = v.BindPFlag("listen_addr", flags.Lookup("listen"))
	_ = v.BindPFlag("upstream_url", flags.Lookup("upstream"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))

	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(ctx context.Context, cfg config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	memStats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))
	promStats := infra.NewPrometheusStatsStore("gateway")
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promStats.MustRegister(registry)

	stats := infra.MultiStatsStore{memStats, promStats}
	if rc := cfg.Stats.Redis; rc.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis stats ping: %w", err)
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(rc.Prefix),
			infra.WithStatsTTL(rc.TTL),
			infra.WithStatsBucket(rc.Bucket),
			infra.WithStatsTrackKeys(rc.TrackKeys),
		))
	}

	c := coalesce.NewCoalescer(
		application.WithMinInterval(cfg.Coalesce.MinInterval),
		application.WithGracePeriod(cfg.Coalesce.GracePeriod),
		application.WithStats(stats),
		application.WithLogger(logger.Named("coalescer")),
	)

	var transport http.RoundTripper
	if cfg.Upstream.RPS > 0 {
		t, err := infra.NewRateLimitedTransport(http.DefaultTransport, cfg.Upstream.RPS, cfg.Upstream.Burst, cfg.Upstream.WaitTimeout)
		if err != nil {
			return fmt.Errorf("upstream limiter: %w", err)
		}
		transport = t
	}

	h, err := newHandler(deps{
		cfg:       cfg,
		logger:    logger,
		coalescer: c,
		memStats:  memStats,
		registry:  registry,
		transport: transport,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("upstream", cfg.UpstreamURL))
	logger.Info("coalesce",
		zap.Duration("min_interval", c.MinInterval()),
		zap.Duration("grace_period", c.GracePeriod()),
		zap.Strings("methods", cfg.Coalesce.Methods),
		zap.String("partition_header", cfg.Coalesce.PartitionHeader),
		zap.Bool("register_writes", cfg.Coalesce.RegisterWrites))
	logger.Info("upstream limit",
		zap.Float64("rps", cfg.Upstream.RPS),
		zap.Int("burst", cfg.Upstream.Burst),
		zap.Bool("redis_stats", cfg.Stats.Redis.Enabled))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
