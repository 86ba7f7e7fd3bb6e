// Package lotlimit fornece os adapters HTTP (chi) do enforcement de limite de lotes.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (ingestão, avaliação, sincronização, retry) sem net/http
//   - infra: implementações concretas (Redis, Postgres, cliente do sistema de registro)
//   - lotlimit (este pacote): rotas HTTP, decodificação de eventos e throttle de entrada
//
// Fluxo do webhook de lances:
//
//   1) Throttle por origem (token bucket); se bloqueado, responde 429
//   2) Decodifica o corpo (mensagem BID_PLACED ou BidEvent plano); inválido responde 400
//   3) Entrega ao Dispatcher e responde 202; sem vaga nem fila, responde 503
//
// Variáveis de ambiente do binário lotguard (cmd/lotguard) controlam o comportamento,
// como WEBHOOK_RPS, INGEST_MAX_IN_FLIGHT e INGEST_ACQUIRE_TIMEOUT.
package lotlimit
