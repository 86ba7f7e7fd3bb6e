package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/google/uuid"
)

// Auditor grava no store durável e, se ele falhar, guarda o registro na fila
// de retry (BACKLOGGED). O enforcement nunca espera pela auditoria.
type Auditor struct {
	Store  domain.AuditStore
	Retry  domain.RetryQueue
	Logger *slog.Logger
	Now    func() time.Time
}

func (a *Auditor) Record(ctx context.Context, rec domain.AuditRecord) (domain.AuditResult, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		if a.Now != nil {
			rec.CreatedAt = a.Now().UTC()
		} else {
			rec.CreatedAt = time.Now().UTC()
		}
	}
	if rec.Actor == "" {
		rec.Actor = ActorSystem
	}
	if rec.Severity == "" {
		rec.Severity = domain.SeverityInfo
	}

	err := a.Store.InsertAudit(ctx, rec)
	if err == nil {
		return domain.AuditResult{Status: domain.AuditOK, ID: rec.ID}, nil
	}

	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("audit insert failed, backlogging", "id", rec.ID, "event", rec.EventType, "err", err)

	job, jerr := domain.NewJob("", domain.JobAudit, rec, err, rec.CreatedAt)
	if jerr != nil {
		return domain.AuditResult{}, jerr
	}
	if _, qerr := a.Retry.Enqueue(ctx, job); qerr != nil {
		return domain.AuditResult{}, fmt.Errorf("audit %s: %v; backlog: %w", rec.ID, err, qerr)
	}
	return domain.AuditResult{Status: domain.AuditBacklogged, ID: rec.ID}, nil
}

// Replay é o handler de jobs "audit". A inserção é idempotente pelo ID.
func (a *Auditor) Replay(ctx context.Context, job *domain.Job) error {
	var rec domain.AuditRecord
	if err := job.Decode(&rec); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: audit record without id", domain.ErrMalformedJob)
	}
	return a.Store.InsertAudit(ctx, rec)
}
