package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coalescing-gateway/middleware/coalesce/domain"

	"go.uber.org/zap"
)

const (
	DefaultMinInterval = 2000 * time.Millisecond
	DefaultGracePeriod = 300 * time.Millisecond
)

// ErrTypeMismatch é retornado por Do quando o valor compartilhado não é do tipo pedido.
var ErrTypeMismatch = errors.New("coalesce: shared value has unexpected type")

// PanicError substitui um panic dentro da Action; é tratado como falha comum.
type PanicError struct {
	Key   domain.Key
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("coalesce: action for key %q panicked: %v", string(e.Key), e.Value)
}

// Result é o resultado entregue por ExecuteAsync.
type Result struct {
	Value  any
	Shared bool
	Err    error
}

type call struct {
	done chan struct{}
	val  any
	err  error

	dispatchedAt time.Time
	prevDispatch time.Time
	hadPrev      bool
}

// Coalescer concentra a regra de coalescência e intervalo mínimo por Key,
// sem saber nada sobre HTTP.
//
// Para cada Key:
//   - no máximo uma chamada pendente existe; quem chega enquanto ela existe recebe o mesmo resultado
//   - dois disparos consecutivos nunca ficam a menos de MinInterval um do outro
//   - após sucesso, o resultado continua reaproveitável por GracePeriod
//   - após falha, a vaga é liberada antes de qualquer chamador ver o erro
type Coalescer struct {
	clock       domain.Clock
	minInterval time.Duration
	gracePeriod time.Duration
	stats       domain.StatsStore
	logger      *zap.Logger

	mu           sync.Mutex
	lastDispatch map[domain.Key]time.Time
	pending      map[domain.Key]*call
}

type Option func(*Coalescer)

func WithMinInterval(d time.Duration) Option {
	return func(c *Coalescer) {
		if d < 0 {
			d = 0
		}
		c.minInterval = d
	}
}

// WithGracePeriod define por quanto tempo um sucesso continua reaproveitável.
// Zero desliga a janela: a vaga é liberada assim que a chamada termina.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Coalescer) {
		if d < 0 {
			d = 0
		}
		c.gracePeriod = d
	}
}

func WithStats(s domain.StatsStore) Option {
	return func(c *Coalescer) { c.stats = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coalescer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoalescer cria um coalescer com estado próprio. Em produção deve existir
// uma instância por processo, injetada em quem precisa.
func NewCoalescer(clock domain.Clock, opts ...Option) *Coalescer {
	if clock == nil {
		panic("application: nil clock")
	}
	c := &Coalescer{
		clock:        clock,
		minInterval:  DefaultMinInterval,
		gracePeriod:  DefaultGracePeriod,
		logger:       zap.NewNop(),
		lastDispatch: make(map[domain.Key]time.Time),
		pending:      make(map[domain.Key]*call),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coalescer) MinInterval() time.Duration { return c.minInterval }
func (c *Coalescer) GracePeriod() time.Duration { return c.gracePeriod }

// Execute devolve o resultado da Action para a key.
//
// Se já existe chamada pendente para a key, não dispara nada e espera o
// resultado dela (shared=true). Caso contrário espera o intervalo mínimo desde o
// último disparo e dispara a Action.
//
// O ctx limita só a espera deste chamador: a Action disparada não é cancelada.
func (c *Coalescer) Execute(ctx context.Context, key domain.Key, action domain.Action) (v any, shared bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	cl, dispatched, err := c.acquire(ctx, key, action)
	if err != nil {
		return nil, false, err
	}
	shared = !dispatched

	select {
	case <-cl.done:
	default:
		select {
		case <-cl.done:
		case <-ctx.Done():
			return nil, shared, ctx.Err()
		}
	}
	return cl.val, shared, cl.err
}

// ExecuteAsync é a forma diferida de Execute. O canal entrega exatamente um Result.
func (c *Coalescer) ExecuteAsync(ctx context.Context, key domain.Key, action domain.Action) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		v, shared, err := c.Execute(ctx, key, action)
		out <- Result{Value: v, Shared: shared, Err: err}
	}()
	return out
}

// RegisterSuccessfulRequest marca "agora" como último disparo da key, sem criar
// chamada pendente. O próximo Execute da key respeita o intervalo a partir daqui.
func (c *Coalescer) RegisterSuccessfulRequest(key domain.Key) {
	c.mu.Lock()
	now := c.clock.Now()
	c.lastDispatch[key] = now
	c.mu.Unlock()

	c.record(context.Background(), domain.StatsEvent{Key: key, Kind: domain.EventRegistered, At: now})
}

// Pending informa se há chamada pendente (em voo ou na janela de graça) para a key.
func (c *Coalescer) Pending(key domain.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// LastDispatch retorna o instante do último disparo registrado para a key.
func (c *Coalescer) LastDispatch(key domain.Key) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastDispatch[key]
	return t, ok
}

func (c *Coalescer) acquire(ctx context.Context, key domain.Key, action domain.Action) (*call, bool, error) {
	var waited time.Duration
	for {
		c.mu.Lock()
		if cl, ok := c.pending[key]; ok {
			c.mu.Unlock()
			c.record(ctx, domain.StatsEvent{Key: key, Kind: domain.EventCoalesced, At: c.clock.Now()})
			return cl, false, nil
		}

		now := c.clock.Now()
		wait := c.remainingLocked(key, now)
		if wait <= 0 {
			cl := &call{done: make(chan struct{}), dispatchedAt: now}
			cl.prevDispatch, cl.hadPrev = c.lastDispatch[key]
			c.pending[key] = cl
			c.lastDispatch[key] = now
			c.mu.Unlock()

			if waited > 0 {
				c.record(ctx, domain.StatsEvent{Key: key, Kind: domain.EventThrottled, Wait: waited, At: now})
			}
			c.record(ctx, domain.StatsEvent{Key: key, Kind: domain.EventDispatched, At: now})
			c.logger.Debug("dispatching call",
				zap.String("key", string(key)),
				zap.Duration("throttled", waited))

			go c.run(context.WithoutCancel(ctx), key, cl, action)
			return cl, true, nil
		}
		c.mu.Unlock()

		// outro chamador pode disparar enquanto esperamos; por isso o loop re-checa tudo
		if err := c.sleep(ctx, wait); err != nil {
			return nil, false, err
		}
		waited += wait
	}
}

func (c *Coalescer) remainingLocked(key domain.Key, now time.Time) time.Duration {
	last, ok := c.lastDispatch[key]
	if !ok {
		return 0
	}
	return c.minInterval - now.Sub(last)
}

func (c *Coalescer) sleep(ctx context.Context, d time.Duration) error {
	t := c.clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coalescer) run(ctx context.Context, key domain.Key, cl *call, action domain.Action) {
	cl.val, cl.err = invoke(ctx, key, action)

	if cl.err != nil {
		c.mu.Lock()
		c.releaseLocked(key, cl)
		// disparo que falhou não conta para o intervalo
		if last, ok := c.lastDispatch[key]; ok && last.Equal(cl.dispatchedAt) {
			if cl.hadPrev {
				c.lastDispatch[key] = cl.prevDispatch
			} else {
				delete(c.lastDispatch, key)
			}
		}
		c.mu.Unlock()
		close(cl.done)

		c.logger.Debug("call failed", zap.String("key", string(key)), zap.Error(cl.err))
		c.record(ctx, domain.StatsEvent{Key: key, Kind: domain.EventFailed, Err: cl.err, At: c.clock.Now()})
		return
	}

	if c.gracePeriod <= 0 {
		c.mu.Lock()
		c.releaseLocked(key, cl)
		c.mu.Unlock()
	} else {
		c.clock.AfterFunc(c.gracePeriod, func() {
			c.mu.Lock()
			c.releaseLocked(key, cl)
			c.mu.Unlock()
		})
	}
	close(cl.done)
}

func (c *Coalescer) releaseLocked(key domain.Key, cl *call) {
	if c.pending[key] == cl {
		delete(c.pending, key)
	}
}

func invoke(ctx context.Context, key domain.Key, action domain.Action) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Key: key, Value: r}
		}
	}()
	return action(ctx)
}

func (c *Coalescer) record(ctx context.Context, ev domain.StatsEvent) {
	if c.stats == nil {
		return
	}
	if err := c.stats.Record(ctx, ev); err != nil {
		c.logger.Warn("failed to record coalesce stats",
			zap.String("key", string(ev.Key)),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}

// Do é a versão tipada de Execute.
func Do[T any](ctx context.Context, c *Coalescer, key domain.Key, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	v, shared, err := c.Execute(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil || v == nil {
		return zero, shared, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, shared, fmt.Errorf("%w: key %q holds %T", ErrTypeMismatch, string(key), v)
	}
	return out, shared, nil
}
