package infra

import (
	"context"
	"sync"
	"time"

	"coalescing-gateway/middleware/coalesce/domain"
)

// Counters agrega eventos do coalescer.
type Counters struct {
	Dispatched   int64         `json:"dispatched"`
	Coalesced    int64         `json:"coalesced"`
	Throttled    int64         `json:"throttled"`
	Failed       int64         `json:"failed"`
	Registered   int64         `json:"registered"`
	ThrottleWait time.Duration `json:"throttleWaitNs"`
}

func (c *Counters) add(ev domain.StatsEvent) {
	switch ev.Kind {
	case domain.EventDispatched:
		c.Dispatched++
	case domain.EventCoalesced:
		c.Coalesced++
	case domain.EventThrottled:
		c.Throttled++
		c.ThrottleWait += ev.Wait
	case domain.EventFailed:
		c.Failed++
	case domain.EventRegistered:
		c.Registered++
	}
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e para o endpoint de debug do gateway.
//
// Não faz expiração; com WithTrackKeys o custo cresce com o número de keys.
type MemoryStatsStore struct {
	mu    sync.Mutex
	total Counters
	byKey map[domain.Key]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byKey: make(map[domain.Key]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev)
	if s.trackKeys {
		c := s.byKey[ev.Key]
		c.add(ev)
		s.byKey[ev.Key] = c
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByKey() map[domain.Key]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Key]Counters, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}

// Snapshot é o formato exposto em /debug/coalesce.
type Snapshot struct {
	Total Counters            `json:"total"`
	ByKey map[string]Counters `json:"byKey,omitempty"`
}

func (s *MemoryStatsStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{Total: s.total}
	if len(s.byKey) > 0 {
		out.ByKey = make(map[string]Counters, len(s.byKey))
		for k, v := range s.byKey {
			out.ByKey[string(k)] = v
		}
	}
	return out
}
