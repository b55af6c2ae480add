package infra

import (
	"time"

	"coalescing-gateway/middleware/coalesce/domain"
)

// SystemClock implementa domain.Clock sobre o pacote time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTimer(d time.Duration) domain.Timer {
	return systemTimer{t: time.NewTimer(d)}
}

func (SystemClock) AfterFunc(d time.Duration, f func()) domain.Timer {
	return systemTimer{t: time.AfterFunc(d, f)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) C() <-chan time.Time { return s.t.C }
func (s systemTimer) Stop() bool          { return s.t.Stop() }
