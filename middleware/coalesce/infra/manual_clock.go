package infra

import (
	"context"
	"sort"
	"sync"
	"time"

	"coalescing-gateway/middleware/coalesce/domain"
)

// ManualClock é um relógio virtual: o tempo só anda via Advance.
//
// Timers vencidos disparam dentro de Advance, em ordem de deadline. Funções de
// AfterFunc rodam de forma síncrona, então quando Advance retorna elas já rodaram.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*manualTimer
	changed chan struct{}
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Time
	ch       chan time.Time
	fn       func()
}

// NewManualClock cria um relógio parado em start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, changed: make(chan struct{})}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) NewTimer(d time.Duration) domain.Timer {
	t := &manualTimer{clock: c, ch: make(chan time.Time, 1)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		t.ch <- c.now
		return t
	}
	t.deadline = c.now.Add(d)
	c.armLocked(t)
	return t
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) domain.Timer {
	t := &manualTimer{clock: c, fn: f}
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		go f()
		return t
	}
	t.deadline = c.now.Add(d)
	c.armLocked(t)
	c.mu.Unlock()
	return t
}

// Advance move o relógio d para frente, disparando os timers vencidos.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
			break
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		c.now = t.deadline
		now := c.now
		c.mu.Unlock()

		if t.fn != nil {
			t.fn()
		} else {
			t.ch <- now
		}

		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Timers retorna quantos timers estão armados.
func (c *ManualClock) Timers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// BlockUntil espera até existirem pelo menos n timers armados, ou ctx encerrar.
func (c *ManualClock) BlockUntil(ctx context.Context, n int) error {
	for {
		c.mu.Lock()
		if len(c.timers) >= n {
			c.mu.Unlock()
			return nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *ManualClock) armLocked(t *manualTimer) {
	c.timers = append(c.timers, t)
	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	close(c.changed)
	c.changed = make(chan struct{})
}

func (t *manualTimer) C() <-chan time.Time { return t.ch }

func (t *manualTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}
