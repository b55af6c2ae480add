package coalesce

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coalescing-gateway/middleware/coalesce/application"
	"coalescing-gateway/middleware/coalesce/domain"
	"coalescing-gateway/middleware/coalesce/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newTestCoalescer(stats domain.StatsStore) (*application.Coalescer, *infra.ManualClock) {
	clock := infra.NewManualClock(epoch)
	opts := []application.Option{}
	if stats != nil {
		opts = append(opts, application.WithStats(stats))
	}
	return application.NewCoalescer(clock, opts...), clock
}

func TestMiddleware_CoalescesConcurrentGets(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	c, _ := newTestCoalescer(stats)

	var calls atomic.Int32
	release := make(chan struct{})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"bots":[]}`)
	})

	h := Middleware(Options{Coalescer: c, AddCoalesceHeaders: true})(next)

	const callers = 5
	recs := make([]*httptest.ResponseRecorder, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		recs[i] = httptest.NewRecorder()
		go func(w *httptest.ResponseRecorder) {
			defer wg.Done()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/api/bots", nil))
		}(recs[i])
	}

	require.Eventually(t, func() bool { return stats.Total().Coalesced == callers-1 }, 2*time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	shared := 0
	for _, w := range recs {
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, `{"bots":[]}`, w.Body.String())
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		if w.Header().Get(HeaderCoalesce) == "shared" {
			shared++
		}
	}
	assert.Equal(t, callers-1, shared)
}

func TestMiddleware_DifferentPathsDispatchSeparately(t *testing.T) {
	c, _ := newTestCoalescer(nil)

	var calls atomic.Int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, r.URL.Path)
	})
	h := Middleware(Options{Coalescer: c})(next)

	for _, path := range []string{"/api/bots", "/api/products"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example"+path, nil))
		assert.Equal(t, path, w.Body.String())
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddleware_PassesThroughNonCoalescedMethods(t *testing.T) {
	c, _ := newTestCoalescer(nil)

	var calls atomic.Int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	})
	h := Middleware(Options{Coalescer: c, AddCoalesceHeaders: true})(next)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "http://example/api/bots", nil))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Empty(t, w.Header().Get(HeaderCoalesce))
	}
	assert.Equal(t, int32(2), calls.Load())
	_, found := c.LastDispatch("GET /api/bots")
	assert.False(t, found, "writes are not registered unless RegisterWrites is set")
}

func TestMiddleware_RegisterWritesMarksReadKey(t *testing.T) {
	c, clock := newTestCoalescer(nil)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/bots/fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	h := Middleware(Options{Coalescer: c, RegisterWrites: true, PartitionHeader: "Authorization"})(next)

	r := httptest.NewRequest(http.MethodPost, "http://example/api/bots", nil)
	r.Header.Set("Authorization", "Bearer a")
	h.ServeHTTP(httptest.NewRecorder(), r)

	readReq := httptest.NewRequest(http.MethodGet, "http://example/api/bots", nil)
	readReq.Header.Set("Authorization", "Bearer a")
	readKey := domain.Key(DefaultKeyFunc("Authorization", true)(readReq))

	at, found := c.LastDispatch(readKey)
	require.True(t, found)
	assert.Equal(t, clock.Now(), at)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "http://example/api/bots/fail", nil))
	_, found = c.LastDispatch("GET /api/bots/fail")
	assert.False(t, found, "failed writes are not registered")
}

func TestMiddleware_UpstreamFailureIsReplayedAndClearsSlot(t *testing.T) {
	c, _ := newTestCoalescer(nil)

	var calls atomic.Int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, "down")
			return
		}
		_, _ = io.WriteString(w, "up")
	})
	h := Middleware(Options{Coalescer: c})(next)

	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "http://example/api/bots", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w1.Code)
	assert.Equal(t, "down", w1.Body.String())
	assert.Equal(t, "1", w1.Header().Get("Retry-After"))
	assert.False(t, c.Pending("GET /api/bots"))

	// a falha não conta para o intervalo: a próxima dispara direto
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "http://example/api/bots", nil))
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, "up", w2.Body.String())
	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddleware_GraceWindowReplaysSettledResponse(t *testing.T) {
	c, clock := newTestCoalescer(nil)

	var calls atomic.Int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "bots")
	})
	h := Middleware(Options{Coalescer: c, AddCoalesceHeaders: true})(next)

	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "http://example/api/bots", nil))
	assert.Equal(t, "dispatched", w1.Header().Get(HeaderCoalesce))

	clock.Advance(100 * time.Millisecond)
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "http://example/api/bots", nil))
	assert.Equal(t, "shared", w2.Header().Get(HeaderCoalesce))
	assert.Equal(t, "bots", w2.Body.String())
	assert.Equal(t, int32(1), calls.Load())
}

func TestMiddleware_NilCoalescerIsPassThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Middleware(Options{})(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
