package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"coalescing-gateway/middleware/coalesce/infra"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// collections conhecidas pelo painel admin.
var collections = map[string]bool{
	"bots":          true,
	"remarketing":   true,
	"products":      true,
	"expenses":      true,
	"partners":      true,
	"transactions":  true,
	"notifications": true,
}

// api simula o backend lento: cada leitura demora delay e conta quantas vezes
// a collection foi realmente lida.
type api struct {
	logger *zap.Logger
	delay  time.Duration

	mu   sync.Mutex
	hits map[string]int
}

func newAPI(logger *zap.Logger, delay time.Duration) *api {
	return &api{logger: logger, delay: delay, hits: make(map[string]int)}
}

func (a *api) routes(stats *infra.MemoryStatsStore) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/{collection}", a.list)
	r.Post("/api/{collection}", a.create)
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"upstreamHits": a.snapshot(),
			"coalesce":     stats.Snapshot(),
		})
	})
	return r
}

func (a *api) list(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if !collections[name] {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown collection"})
		return
	}

	select {
	case <-time.After(a.delay):
	case <-r.Context().Done():
		return
	}

	a.mu.Lock()
	a.hits[name]++
	n := a.hits[name]
	a.mu.Unlock()

	a.logger.Debug("collection read", zap.String("collection", name), zap.Int("hits", n))
	writeJSON(w, http.StatusOK, map[string]any{
		"collection": name,
		"hits":       n,
		"items":      []any{},
	})
}

func (a *api) create(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if !collections[name] {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown collection"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"collection": name, "status": "created"})
}

func (a *api) snapshot() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.hits))
	for k, v := range a.hits {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
