package domain

import (
	"context"
	"time"
)

// EventKind classifica o que aconteceu com uma chamada em uma Key.
type EventKind string

const (
	// EventDispatched: a Action foi de fato executada.
	EventDispatched EventKind = "dispatched"
	// EventCoalesced: o chamador reaproveitou uma chamada pendente (ou recém-concluída).
	EventCoalesced EventKind = "coalesced"
	// EventThrottled: o chamador esperou o intervalo mínimo antes de disparar.
	EventThrottled EventKind = "throttled"
	// EventFailed: a Action disparada retornou erro.
	EventFailed EventKind = "failed"
	// EventRegistered: um sucesso externo foi registrado via RegisterSuccessfulRequest.
	EventRegistered EventKind = "registered"
)

// StatsEvent representa um evento do coalescer.
//
// Wait só é preenchido em EventThrottled; Err só em EventFailed.
//
// Observação: cuidado com cardinalidade ao persistir Key (Redis/Prometheus).
type StatsEvent struct {
	Key  Key
	Kind EventKind

	Wait time.Duration
	Err  error

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do coalescer.
//
// O coalescer trata erro como best-effort (não derruba a chamada).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
