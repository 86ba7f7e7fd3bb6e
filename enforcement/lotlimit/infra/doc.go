// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisLedger: troca atômica de liderança + contagem via script Lua
//   - RedisLimitCache: aquecimento do limite com lock single-flight
//   - RedisRetryQueue: backlog ordenado por tempo (ZSET) com dead-letter
//   - PostgresStore: limites, registrants e auditoria duráveis (pgx)
//   - KeyedLimiter: token bucket por chave usando golang.org/x/time/rate
//   - ChanPool: semáforo simples para limitar tarefas em voo
package infra
