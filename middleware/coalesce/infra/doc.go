// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - SystemClock / ManualClock: relógio real e relógio virtual para testes
//   - MemoryStatsStore, RedisStatsStore, PrometheusStatsStore: estatísticas do coalescer
//   - RateLimitedTransport: teto global de requisições por segundo ao upstream (golang.org/x/time/rate)
package infra
