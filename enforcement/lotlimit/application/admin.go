package application

import (
	"context"
	"fmt"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"golang.org/x/sync/errgroup"
)

type RefreshOptions struct {
	// Enforce também suspende quem ficou no limite ou acima dele.
	Enforce bool
	Actor   string
}

// ParticipantStatus é a visão de leitura de um participante num leilão.
type ParticipantStatus struct {
	AuctionID     string                    `json:"auctionId"`
	ParticipantID string                    `json:"participantId"`
	ActiveLeads   int                       `json:"activeLeads"`
	Limit         domain.Limit              `json:"limit"`
	Status        domain.RegistrationStatus `json:"status"`
	LastSynced    domain.RegistrationStatus `json:"lastSynced,omitempty"`
}

// RefreshLimit relê o limite do store durável (ignorando o cache) e reavalia o
// participante na hora: quem caiu abaixo do novo limite é liberado.
func (e *Enforcer) RefreshLimit(ctx context.Context, auctionID, participantID string, opts RefreshOptions) (ParticipantStatus, error) {
	if opts.Actor == "" {
		opts.Actor = ActorAdmin
	}

	limit, err := e.Limits.Ensure(ctx, auctionID, participantID, domain.EnsureOptions{ForceRefresh: true})
	if err != nil {
		return ParticipantStatus{}, fmt.Errorf("refresh limit: %w", err)
	}
	e.audit(ctx, domain.AuditRecord{
		AuctionID:     auctionID,
		ParticipantID: participantID,
		EventType:     domain.EventLimitRefreshed,
		Actor:         opts.Actor,
		Severity:      domain.SeverityInfo,
		Meta:          map[string]any{"limit": limit.String(), "enforce": opts.Enforce},
	})

	changed, err := e.reconcile(ctx, auctionID, participantID, limit, opts.Enforce, opts.Actor)
	if err != nil {
		return ParticipantStatus{}, err
	}
	if changed {
		e.settle(ctx, auctionID, participantID, opts.Actor)
	}
	return e.Status(ctx, auctionID, participantID)
}

// reconcile compara contagem, limite e flag atuais e aplica a transição necessária.
// changed diz se este chamador trocou a flag.
func (e *Enforcer) reconcile(ctx context.Context, auctionID, participantID string, limit domain.Limit, enforce bool, actor string) (bool, error) {
	count, err := e.Ledger.Count(ctx, auctionID, participantID)
	if err != nil {
		return false, fmt.Errorf("count: %w", err)
	}
	awaiting, err := e.Flags.IsAwaiting(ctx, auctionID, participantID)
	if err != nil {
		return false, fmt.Errorf("suspension flag: %w", err)
	}

	ev := EvaluateStanding(auctionID, participantID, count, limit, awaiting, enforce)
	meta := map[string]any{"count": count, "limit": limit.String(), "enforce": enforce}
	if ev.Suspend != nil {
		return e.transition(ctx, transition{intent: *ev.Suspend, actor: actor, meta: meta})
	}
	if ev.Unsuspend != nil {
		return e.transition(ctx, transition{intent: *ev.Unsuspend, actor: actor, meta: meta})
	}
	return false, nil
}

// Status é somente leitura, exceto pelo aquecimento do cache de limite.
func (e *Enforcer) Status(ctx context.Context, auctionID, participantID string) (ParticipantStatus, error) {
	st := ParticipantStatus{AuctionID: auctionID, ParticipantID: participantID, Status: domain.StatusApproved}

	count, err := e.Ledger.Count(ctx, auctionID, participantID)
	if err != nil {
		return st, fmt.Errorf("count: %w", err)
	}
	st.ActiveLeads = count

	if st.Limit, err = e.Limits.Ensure(ctx, auctionID, participantID, domain.EnsureOptions{}); err != nil {
		return st, fmt.Errorf("limit: %w", err)
	}

	awaiting, err := e.Flags.IsAwaiting(ctx, auctionID, participantID)
	if err != nil {
		return st, fmt.Errorf("suspension flag: %w", err)
	}
	if awaiting {
		st.Status = domain.StatusAwaitingDeposit
	}

	if e.Syncer != nil && e.Syncer.State != nil {
		if last, err := e.Syncer.State.LastSynced(ctx, auctionID, participantID); err == nil {
			st.LastSynced = last
		}
	}
	return st, nil
}

// StatusMany consulta vários participantes em paralelo, preservando a ordem.
func (e *Enforcer) StatusMany(ctx context.Context, auctionID string, participantIDs []string) ([]ParticipantStatus, error) {
	out := make([]ParticipantStatus, len(participantIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, p := range participantIDs {
		g.Go(func() error {
			st, err := e.Status(gctx, auctionID, p)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
