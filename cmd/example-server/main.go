package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coalescing-gateway/middleware/coalesce"
	"coalescing-gateway/middleware/coalesce/application"
	"coalescing-gateway/middleware/coalesce/infra"

	"go.uber.org/zap"
)

func main() {
	// Exemplo: o middleware injetado direto no webserver (sem proxy)
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))
	c := coalesce.NewCoalescer(
		application.WithStats(stats),
		application.WithLogger(logger.Named("coalescer")),
	)

	api := newAPI(logger, 300*time.Millisecond)
	h := coalesce.Middleware(coalesce.Options{
		Coalescer:          c,
		PartitionHeader:    "Authorization",
		AddCoalesceHeaders: true,
		RegisterWrites:     true,
		Logger:             logger,
	})(api.routes(stats))

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
