package infra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedTransport limita o total de requisições por segundo ao upstream,
// somando todas as keys. O intervalo mínimo por key fica a cargo do coalescer.
type RateLimitedTransport struct {
	Delegate    http.RoundTripper
	WaitTimeout time.Duration

	limiter *rate.Limiter
}

func NewRateLimitedTransport(delegate http.RoundTripper, rps float64, burst int, waitTimeout time.Duration) (*RateLimitedTransport, error) {
	if rps <= 0 {
		return nil, errors.New("upstream rps must be > 0")
	}
	if burst <= 0 {
		return nil, errors.New("upstream burst must be > 0")
	}
	if delegate == nil {
		delegate = http.DefaultTransport
	}
	return &RateLimitedTransport{
		Delegate:    delegate,
		WaitTimeout: waitTimeout,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

func (t *RateLimitedTransport) RPS() float64 { return float64(t.limiter.Limit()) }
func (t *RateLimitedTransport) Burst() int   { return t.limiter.Burst() }

func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if t.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.WaitTimeout)
		defer cancel()
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("upstream rate limit wait: %w", err)
	}
	return t.Delegate.RoundTrip(req)
}
