package domain

import (
	"context"
	"time"
)

// IngestStatus descreve o que aconteceu com um evento ingerido.
type IngestStatus string

const (
	IngestIgnored   IngestStatus = "ignored"
	IngestDuplicate IngestStatus = "duplicate"
	IngestDeferred  IngestStatus = "deferred"
	IngestNoop      IngestStatus = "noop"
	IngestOK        IngestStatus = "ok"
	IngestAtLimit   IngestStatus = "atLimit"
	IngestExceeded  IngestStatus = "exceeded"
)

// StatsEvent representa o desfecho de um evento de lance.
//
// Observação: cuidado com cardinalidade ao guardar AuctionID em séries por chave.
type StatsEvent struct {
	AuctionID string
	Status    IngestStatus
	At        time.Time
}

// StatsStore é a estratégia de persistência para estatísticas.
// O chamador trata erro como best-effort.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
