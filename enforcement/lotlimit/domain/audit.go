package domain

import (
	"context"
	"time"
)

type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Tipos de evento gravados na auditoria.
const (
	EventSuspendAttempted   = "suspend_attempted"
	EventSuspendFailed      = "suspend_failed"
	EventUnsuspendAttempted = "unsuspend_attempted"
	EventUnsuspendFailed    = "unsuspend_failed"
	EventLimitExceeded      = "limit_exceeded"
	EventUnresolvable       = "registrant_unresolvable"
	EventSyncSuperseded     = "sync_superseded"
	EventLimitRefreshed     = "limit_refreshed"
)

// AuditRecord é append-only; gravar um ID repetido não tem efeito.
type AuditRecord struct {
	ID            string         `json:"id"`
	AuctionID     string         `json:"auctionId"`
	ParticipantID string         `json:"participantId"`
	RegistrantID  string         `json:"registrantId,omitempty"`
	EventType     string         `json:"eventType"`
	Actor         string         `json:"actor"`
	Severity      Severity       `json:"severity"`
	Meta          map[string]any `json:"meta,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type AuditStatus string

const (
	AuditOK         AuditStatus = "OK"
	AuditBacklogged AuditStatus = "BACKLOGGED"
)

type AuditResult struct {
	Status AuditStatus
	ID     string
}

// AuditStore é a inserção durável (idempotente por ID).
type AuditStore interface {
	InsertAudit(ctx context.Context, rec AuditRecord) error
}

// AuditLog nunca bloqueia o enforcement: se o store durável falhar, o registro
// vai para a fila de retry e o resultado é BACKLOGGED.
type AuditLog interface {
	Record(ctx context.Context, rec AuditRecord) (AuditResult, error)
}
