package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"coalescing-gateway/middleware/coalesce"
	"coalescing-gateway/middleware/coalesce/application"
	"coalescing-gateway/middleware/coalesce/infra"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type deps struct {
	cfg       config
	logger    *zap.Logger
	coalescer *application.Coalescer
	memStats  *infra.MemoryStatsStore
	registry  *prometheus.Registry
	// transport usado pelo proxy; nil usa http.DefaultTransport
	transport http.RoundTripper
}

func newHandler(d deps) (http.Handler, error) {
	target, err := url.Parse(d.cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream_url: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	if d.transport != nil {
		proxy.Transport = d.transport
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		d.logger.Warn("proxy error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	coalesced := coalesce.Middleware(coalesce.Options{
		Coalescer:          d.coalescer,
		PartitionHeader:    d.cfg.Coalesce.PartitionHeader,
		IgnoreQuery:        !d.cfg.Coalesce.IncludeQuery,
		Methods:            d.cfg.Coalesce.Methods,
		AddCoalesceHeaders: d.cfg.Coalesce.AddHeaders,
		RegisterWrites:     d.cfg.Coalesce.RegisterWrites,
		Logger:             d.logger,
	})(proxy)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if d.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	}
	if d.memStats != nil {
		r.Get("/debug/coalesce", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(debugPayload{
				MinInterval: d.coalescer.MinInterval().String(),
				GracePeriod: d.coalescer.GracePeriod().String(),
				Stats:       d.memStats.Snapshot(),
			})
		})
	}
	r.Handle("/*", coalesced)

	return r, nil
}

type debugPayload struct {
	MinInterval string         `json:"minInterval"`
	GracePeriod string         `json:"gracePeriod"`
	Stats       infra.Snapshot `json:"stats"`
}
