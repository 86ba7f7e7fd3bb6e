package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"
)

const (
	ActorSystem = "system"
	ActorRetry  = "retry-worker"
	ActorAdmin  = "admin"
)

// Result é o desfecho de Ingest. Outcome só é preenchido quando a troca executou.
type Result struct {
	Status  domain.IngestStatus
	Outcome domain.Outcome
}

// Enforcer orquestra o fluxo de um lance:
// dedup -> aquecimento do limite -> troca atômica -> avaliação -> sincronização/auditoria.
//
// Falhas de infraestrutura antes da troca viram jobs pendingBid; depois da troca
// (que já foi gravada) viram jobs reevaluate, nunca uma segunda troca.
type Enforcer struct {
	Dedup       domain.DedupGate
	Limits      domain.LimitCache
	Ledger      domain.OwnershipLedger
	Flags       domain.SuspensionFlags
	Registrants domain.RegistrantResolver
	Syncer      *Syncer
	Audit       domain.AuditLog
	Retry       domain.RetryQueue
	Review      domain.ReviewQueue
	Stats       domain.StatsStore
	Logger      *slog.Logger
	Now         func() time.Time
}

func (e *Enforcer) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Enforcer) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Ingest processa um evento de lance. Só devolve erro quando o evento não pôde
// ser aplicado nem guardado na fila de retry.
func (e *Enforcer) Ingest(ctx context.Context, ev domain.BidEvent) (Result, error) {
	if !ev.Valid() {
		e.logger().Warn("ignoring incomplete bid event", "auction", ev.AuctionID, "lot", ev.LotID, "bid", ev.BidID)
		return e.finish(ctx, ev, Result{Status: domain.IngestIgnored}), nil
	}
	if !ev.IsLeading {
		return e.finish(ctx, ev, Result{Status: domain.IngestIgnored}), nil
	}

	accepted, err := e.Dedup.Accept(ctx, ev.BidID)
	if err != nil {
		return e.deferBid(ctx, ev, false, err)
	}
	if !accepted {
		e.logger().Debug("duplicate bid", "auction", ev.AuctionID, "bid", ev.BidID)
		return e.finish(ctx, ev, Result{Status: domain.IngestDuplicate}), nil
	}

	out, err := e.apply(ctx, ev)
	if err != nil {
		return e.deferBid(ctx, ev, true, err)
	}
	e.handleOutcome(ctx, out, ActorSystem)
	return e.finish(ctx, ev, Result{Status: ingestStatus(out.Status), Outcome: out}), nil
}

func (e *Enforcer) deferBid(ctx context.Context, ev domain.BidEvent, deduped bool, cause error) (Result, error) {
	e.logger().Warn("bid deferred to retry queue",
		"auction", ev.AuctionID, "lot", ev.LotID, "bid", ev.BidID, "deduped", deduped, "err", cause)

	job, err := domain.NewJob("", domain.JobPendingBid, domain.PendingBidPayload{Event: ev, Deduped: deduped}, cause, e.now())
	if err == nil {
		_, err = e.Retry.Enqueue(ctx, job)
	}
	if err != nil {
		e.logger().Error("bid lost: could not apply nor backlog",
			"auction", ev.AuctionID, "lot", ev.LotID, "bid", ev.BidID, "cause", cause, "err", err)
		return Result{Status: domain.IngestDeferred}, fmt.Errorf("defer bid %s: %w", ev.BidID, err)
	}
	return e.finish(ctx, ev, Result{Status: domain.IngestDeferred}), nil
}

func (e *Enforcer) finish(ctx context.Context, ev domain.BidEvent, res Result) Result {
	if e.Stats != nil {
		if err := e.Stats.Record(ctx, domain.StatsEvent{AuctionID: ev.AuctionID, Status: res.Status, At: e.now()}); err != nil {
			e.logger().Debug("stats record failed", "err", err)
		}
	}
	return res
}

func ingestStatus(s domain.OutcomeStatus) domain.IngestStatus {
	switch s {
	case domain.StatusOK:
		return domain.IngestOK
	case domain.StatusAtLimit:
		return domain.IngestAtLimit
	case domain.StatusExceeded:
		return domain.IngestExceeded
	default:
		return domain.IngestNoop
	}
}

// apply aquece o limite do novo líder e executa a troca. Erro aqui pode vir
// depois da troca já gravada; repetir o mesmo lance devolve o desfecho gravado
// (Replayed), com flags e contagens relidas.
func (e *Enforcer) apply(ctx context.Context, ev domain.BidEvent) (domain.Outcome, error) {
	limit, err := e.Limits.Ensure(ctx, ev.AuctionID, ev.ParticipantID, domain.EnsureOptions{})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("ensure limit: %w", err)
	}

	out, err := e.Ledger.Swap(ctx, domain.SwapRequest{
		AuctionID:   ev.AuctionID,
		LotID:       ev.LotID,
		BidID:       ev.BidID,
		NewLeaderID: ev.ParticipantID,
	})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("swap: %w", err)
	}

	// o cache pode ter expirado entre o Ensure e a troca
	if out.Status.Committed() && !out.NewLimitKnown {
		out.NewLimit = limit
		out.NewLimitKnown = true
		out.Status = domain.Classify(out.NewCount, limit)
	}
	if out.Replayed {
		if err := e.refresh(ctx, &out); err != nil {
			return domain.Outcome{}, fmt.Errorf("refresh replayed swap: %w", err)
		}
	}
	return out, nil
}

// refresh troca as flags e a contagem do antigo líder de um desfecho repetido
// pelos valores atuais.
func (e *Enforcer) refresh(ctx context.Context, out *domain.Outcome) error {
	var err error
	if out.NewAwaiting, err = e.Flags.IsAwaiting(ctx, out.AuctionID, out.NewLeaderID); err != nil {
		return err
	}
	if out.OldLeaderID == "" {
		return nil
	}
	if out.OldAwaiting, err = e.Flags.IsAwaiting(ctx, out.AuctionID, out.OldLeaderID); err != nil {
		return err
	}
	out.OldCount, err = e.Ledger.Count(ctx, out.AuctionID, out.OldLeaderID)
	return err
}

// handleOutcome nunca falha: o que não puder ser feito agora vira job reevaluate.
func (e *Enforcer) handleOutcome(ctx context.Context, out domain.Outcome, actor string) {
	if out.Status.Committed() && out.OldLeaderID != "" && out.OldAwaiting && !out.OldLimitKnown {
		l, err := e.Limits.Ensure(ctx, out.AuctionID, out.OldLeaderID, domain.EnsureOptions{})
		if err != nil {
			e.scheduleReevaluate(ctx, out.AuctionID, out.OldLeaderID, err)
		} else {
			out.OldLimit = l
			out.OldLimitKnown = true
		}
	}

	ev := Evaluate(out)
	if ev.Empty() {
		return
	}

	if ev.Review {
		e.exceeded(ctx, out, actor)
	}
	if ev.Suspend != nil {
		tr := transition{intent: *ev.Suspend, actor: actor, meta: outcomeMeta(out, out.NewCount, out.NewLimit)}
		if err := e.changeStatus(ctx, tr); err != nil {
			e.scheduleReevaluate(ctx, out.AuctionID, out.NewLeaderID, err)
		}
	}
	if ev.Unsuspend != nil {
		tr := transition{intent: *ev.Unsuspend, actor: actor, meta: outcomeMeta(out, out.OldCount, out.OldLimit)}
		if err := e.changeStatus(ctx, tr); err != nil {
			e.scheduleReevaluate(ctx, out.AuctionID, out.OldLeaderID, err)
		}
	}
}

// changeStatus aplica a transição e, se a flag mudou, reconcilia o participante.
//
// A decisão vem das flags lidas dentro da troca; outra troca do mesmo
// participante gravada antes da flag mudar pode tê-la tornado obsoleta.
func (e *Enforcer) changeStatus(ctx context.Context, tr transition) error {
	changed, err := e.transition(ctx, tr)
	if err != nil || !changed {
		return err
	}
	e.settle(ctx, tr.intent.AuctionID, tr.intent.ParticipantID, tr.actor)
	return nil
}

const maxSettleRounds = 3

// settle relê contagem, limite e flag depois de uma troca de flag até não haver
// mais transição a fazer. Quem está no limite ou acima dele fica suspenso; quem
// está abaixo fica liberado.
func (e *Enforcer) settle(ctx context.Context, auctionID, participantID, actor string) {
	for range maxSettleRounds {
		limit, err := e.Limits.Ensure(ctx, auctionID, participantID, domain.EnsureOptions{})
		if err != nil {
			e.scheduleReevaluate(ctx, auctionID, participantID, err)
			return
		}
		changed, err := e.reconcile(ctx, auctionID, participantID, limit, true, actor)
		if err != nil {
			e.scheduleReevaluate(ctx, auctionID, participantID, err)
			return
		}
		if !changed {
			return
		}
	}
	e.scheduleReevaluate(ctx, auctionID, participantID, errors.New("suspension state still changing"))
}

func outcomeMeta(out domain.Outcome, count int, limit domain.Limit) map[string]any {
	return map[string]any{
		"lotId":   out.LotID,
		"bidId":   out.BidID,
		"outcome": string(out.Status),
		"count":   count,
		"limit":   limit.String(),
	}
}

// exceeded não altera o status do participante: registra e pede revisão manual.
func (e *Enforcer) exceeded(ctx context.Context, out domain.Outcome, actor string) {
	e.logger().Error("lot limit exceeded",
		"auction", out.AuctionID, "participant", out.NewLeaderID, "lot", out.LotID,
		"count", out.NewCount, "limit", out.NewLimit.String())

	meta := outcomeMeta(out, out.NewCount, out.NewLimit)
	e.audit(ctx, domain.AuditRecord{
		AuctionID:     out.AuctionID,
		ParticipantID: out.NewLeaderID,
		RegistrantID:  out.NewRegistrantID,
		EventType:     domain.EventLimitExceeded,
		Actor:         actor,
		Severity:      domain.SeverityError,
		Meta:          meta,
	})
	e.review(ctx, domain.ReviewItem{
		Reason:        domain.EventLimitExceeded,
		AuctionID:     out.AuctionID,
		ParticipantID: out.NewLeaderID,
		LotID:         out.LotID,
		BidID:         out.BidID,
	}, meta)
}

type transition struct {
	intent domain.Intent
	actor  string
	meta   map[string]any
}

// transition resolve o registrant, troca a flag local e sincroniza.
// Só quem efetivamente trocou a flag chama o sistema externo; changed diz se
// foi este chamador.
// Erro significa que nada foi decidido e o participante precisa ser reavaliado.
func (e *Enforcer) transition(ctx context.Context, tr transition) (changed bool, err error) {
	in := tr.intent

	if in.RegistrantID == "" {
		id, err := e.Registrants.Resolve(ctx, in.AuctionID, in.ParticipantID)
		if errors.Is(err, domain.ErrNotFound) {
			e.unresolvable(ctx, tr, err)
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("resolve registrant: %w", err)
		}
		in.RegistrantID = id
	}

	suspend := in.Status == domain.StatusAwaitingDeposit
	if suspend {
		changed, err = e.Flags.MarkAwaiting(ctx, in.AuctionID, in.ParticipantID)
	} else {
		changed, err = e.Flags.ClearAwaiting(ctx, in.AuctionID, in.ParticipantID)
	}
	if err != nil {
		return false, fmt.Errorf("suspension flag: %w", err)
	}
	if !changed {
		e.logger().Debug("transition already applied by another caller",
			"auction", in.AuctionID, "participant", in.ParticipantID, "status", in.Status)
		return false, nil
	}

	attempted, failed := domain.EventSuspendAttempted, domain.EventSuspendFailed
	if !suspend {
		attempted, failed = domain.EventUnsuspendAttempted, domain.EventUnsuspendFailed
	}

	meta := make(map[string]any, len(tr.meta)+4)
	for k, v := range tr.meta {
		meta[k] = v
	}
	meta["status"] = string(in.Status)
	meta["reason"] = in.Reason

	res, err := e.Syncer.Sync(ctx, in)
	rec := domain.AuditRecord{
		AuctionID:     in.AuctionID,
		ParticipantID: in.ParticipantID,
		RegistrantID:  in.RegistrantID,
		Actor:         tr.actor,
		Meta:          meta,
	}
	switch {
	case err != nil:
		meta["error"] = err.Error()
		rec.EventType, rec.Severity = failed, domain.SeverityError
		e.logger().Error("status change lost: sync and backlog failed",
			"auction", in.AuctionID, "participant", in.ParticipantID, "status", in.Status, "err", err)
		e.review(ctx, domain.ReviewItem{Reason: failed, AuctionID: in.AuctionID, ParticipantID: in.ParticipantID}, meta)
	case res.Backlogged:
		meta["backlogged"] = true
		rec.EventType, rec.Severity = attempted, domain.SeverityWarn
	default:
		meta["synced"] = res.Applied
		meta["skipped"] = res.Skipped
		rec.EventType, rec.Severity = attempted, domain.SeverityInfo
	}
	e.audit(ctx, rec)

	e.logger().Info("participant status changed",
		"auction", in.AuctionID, "participant", in.ParticipantID, "status", in.Status,
		"synced", res.Applied, "backlogged", res.Backlogged)
	return true, nil
}

func (e *Enforcer) unresolvable(ctx context.Context, tr transition, cause error) {
	in := tr.intent
	e.logger().Warn("registrant unresolvable, no status change",
		"auction", in.AuctionID, "participant", in.ParticipantID, "status", in.Status)

	meta := map[string]any{"status": string(in.Status), "error": cause.Error()}
	for k, v := range tr.meta {
		meta[k] = v
	}
	e.audit(ctx, domain.AuditRecord{
		AuctionID:     in.AuctionID,
		ParticipantID: in.ParticipantID,
		EventType:     domain.EventUnresolvable,
		Actor:         tr.actor,
		Severity:      domain.SeverityWarn,
		Meta:          meta,
	})
	e.review(ctx, domain.ReviewItem{Reason: domain.EventUnresolvable, AuctionID: in.AuctionID, ParticipantID: in.ParticipantID}, meta)
}

func (e *Enforcer) audit(ctx context.Context, rec domain.AuditRecord) {
	if e.Audit == nil {
		return
	}
	if _, err := e.Audit.Record(ctx, rec); err != nil {
		e.logger().Error("audit record lost", "event", rec.EventType, "participant", rec.ParticipantID, "err", err)
	}
}

func (e *Enforcer) review(ctx context.Context, item domain.ReviewItem, detail map[string]any) {
	if e.Review == nil {
		return
	}
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			item.Detail = b
		}
	}
	if err := e.Review.SubmitReview(ctx, item); err != nil {
		e.logger().Error("review submission failed", "reason", item.Reason, "participant", item.ParticipantID, "err", err)
	}
}

func (e *Enforcer) scheduleReevaluate(ctx context.Context, auctionID, participantID string, cause error) {
	e.logger().Warn("participant scheduled for reevaluation", "auction", auctionID, "participant", participantID, "err", cause)

	job, err := domain.NewJob("", domain.JobReevaluate, domain.ReevaluatePayload{AuctionID: auctionID, ParticipantID: participantID}, cause, e.now())
	if err == nil {
		_, err = e.Retry.Enqueue(ctx, job)
	}
	if err != nil {
		e.logger().Error("reevaluation lost", "auction", auctionID, "participant", participantID, "err", err)
		e.review(ctx, domain.ReviewItem{Reason: "reevaluation_lost", AuctionID: auctionID, ParticipantID: participantID},
			map[string]any{"cause": cause.Error(), "error": err.Error()})
	}
}
