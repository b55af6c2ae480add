package domain

// Camada de domínio do coalescer.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

// Key identifica uma classe lógica de requisição (ex: "GET /api/bots").
// Não é interpretada nem validada: duas chamadas com a mesma Key são a mesma requisição.
type Key string

// Action executa a chamada real (normalmente HTTP) e devolve o resultado.
//
// O ctx recebido carrega os valores do chamador que disparou a chamada, mas não
// o cancelamento dele: a Action é compartilhada e roda até o fim.
type Action func(ctx context.Context) (any, error)

// Timer é um disparo agendado.
// Para timers criados com AfterFunc, C retorna nil.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Clock abstrai o tempo para que os testes possam avançar o relógio
// de forma determinística, sem depender de sleeps reais.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	AfterFunc(d time.Duration, f func()) Timer
}
