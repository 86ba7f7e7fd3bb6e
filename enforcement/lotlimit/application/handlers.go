package application

import (
	"context"
	"errors"

	"lotlimit-enforcer/enforcement/lotlimit/domain"
)

// Handlers devolve os handlers de replay dos jobs que pertencem ao Enforcer.
// Jobs "audit" são do Auditor.
func (e *Enforcer) Handlers() map[domain.JobKind]Handler {
	return map[domain.JobKind]Handler{
		domain.JobPendingBid:       e.HandlePendingBid,
		domain.JobRegistrationSync: e.HandleRegistrationSync,
		domain.JobReevaluate:       e.HandleReevaluate,
	}
}

// HandlePendingBid reprocessa um lance adiado. Se o dedup passar e a troca falhar,
// o payload é marcado como Deduped para que a próxima tentativa não o descarte
// como duplicado. Se a troca já tinha sido gravada, o ledger devolve o desfecho
// original e a avaliação roda sobre ele.
func (e *Enforcer) HandlePendingBid(ctx context.Context, job *domain.Job) error {
	var p domain.PendingBidPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	ev := p.Event
	if !ev.Valid() {
		return errors.Join(domain.ErrMalformedJob, errors.New("pending bid without identifiers"))
	}

	if !p.Deduped {
		accepted, err := e.Dedup.Accept(ctx, ev.BidID)
		if err != nil {
			return err
		}
		if !accepted {
			e.finish(ctx, ev, Result{Status: domain.IngestDuplicate})
			return nil
		}
		p.Deduped = true
		updated, err := domain.NewJob(job.ID, job.Kind, p, nil, job.CreatedAt)
		if err != nil {
			return err
		}
		job.Payload = updated.Payload
	}

	out, err := e.apply(ctx, ev)
	if err != nil {
		return err
	}
	e.handleOutcome(ctx, out, ActorRetry)
	e.finish(ctx, ev, Result{Status: ingestStatus(out.Status), Outcome: out})
	return nil
}

// HandleRegistrationSync reaplica um intent que falhou. Se a flag local mudou
// desde então, o intent foi superado e é descartado.
func (e *Enforcer) HandleRegistrationSync(ctx context.Context, job *domain.Job) error {
	var in domain.Intent
	if err := job.Decode(&in); err != nil {
		return err
	}
	if !in.Status.Valid() || in.AuctionID == "" || in.ParticipantID == "" {
		return errors.Join(domain.ErrMalformedJob, errors.New("incomplete intent"))
	}

	awaiting, err := e.Flags.IsAwaiting(ctx, in.AuctionID, in.ParticipantID)
	if err != nil {
		return err
	}
	if awaiting != (in.Status == domain.StatusAwaitingDeposit) {
		e.logger().Info("registration sync superseded",
			"auction", in.AuctionID, "participant", in.ParticipantID, "status", in.Status)
		e.audit(ctx, domain.AuditRecord{
			AuctionID:     in.AuctionID,
			ParticipantID: in.ParticipantID,
			RegistrantID:  in.RegistrantID,
			EventType:     domain.EventSyncSuperseded,
			Actor:         ActorRetry,
			Severity:      domain.SeverityInfo,
			Meta:          map[string]any{"status": string(in.Status), "job": job.ID, "attempts": job.Attempts},
		})
		return nil
	}

	if in.RegistrantID == "" {
		id, err := e.Registrants.Resolve(ctx, in.AuctionID, in.ParticipantID)
		if errors.Is(err, domain.ErrNotFound) {
			e.unresolvable(ctx, transition{intent: in, actor: ActorRetry}, err)
			return nil
		}
		if err != nil {
			return err
		}
		in.RegistrantID = id
	}

	skipped, err := e.Syncer.Apply(ctx, in)
	if err != nil {
		return err
	}

	event := domain.EventSuspendAttempted
	if in.Status == domain.StatusApproved {
		event = domain.EventUnsuspendAttempted
	}
	e.audit(ctx, domain.AuditRecord{
		AuctionID:     in.AuctionID,
		ParticipantID: in.ParticipantID,
		RegistrantID:  in.RegistrantID,
		EventType:     event,
		Actor:         ActorRetry,
		Severity:      domain.SeverityInfo,
		Meta: map[string]any{
			"status": string(in.Status), "synced": !skipped, "skipped": skipped,
			"replay": true, "attempts": job.Attempts,
		},
	})
	return nil
}

// HandleReevaluate recalcula o estado de um participante depois de uma falha
// ocorrida após a troca já ter sido gravada.
func (e *Enforcer) HandleReevaluate(ctx context.Context, job *domain.Job) error {
	var p domain.ReevaluatePayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	if p.AuctionID == "" || p.ParticipantID == "" {
		return errors.Join(domain.ErrMalformedJob, errors.New("reevaluate without participant"))
	}

	limit, err := e.Limits.Ensure(ctx, p.AuctionID, p.ParticipantID, domain.EnsureOptions{})
	if err != nil {
		return err
	}
	changed, err := e.reconcile(ctx, p.AuctionID, p.ParticipantID, limit, true, ActorRetry)
	if err != nil {
		return err
	}
	if changed {
		e.settle(ctx, p.AuctionID, p.ParticipantID, ActorRetry)
	}
	return nil
}
