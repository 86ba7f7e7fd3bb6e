// Package application contém os casos de uso do enforcement de limite de lotes:
// ingestão de lances (Enforcer), decisão de suspensão (Evaluate), sincronização
// com o sistema de registro (Syncer), auditoria (Auditor), replay da fila de
// retry (RetryWorker) e paralelismo limitado da ingestão (Dispatcher).
//
// Ele depende apenas do pacote domain e não conhece Redis, Postgres nem net/http.
package application
