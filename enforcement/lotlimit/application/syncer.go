package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"
)

// SyncResult descreve o que aconteceu com um intent.
type SyncResult struct {
	Applied    bool
	Skipped    bool
	Backlogged bool
	Attempts   int
}

// Syncer aplica intents no sistema de registro externo.
//
// É idempotente por (participante, status): se o último status aplicado com
// sucesso já é o desejado, a chamada externa não é repetida.
type Syncer struct {
	Registry domain.RegistrationSystem
	State    domain.SyncState
	Retry    domain.RetryQueue
	Timeout  time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

func (s *Syncer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Syncer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Sync tenta aplicar o intent uma vez e, se falhar, o enfileira como
// registrationSync. Só devolve erro quando a chamada e o enfileiramento falham.
func (s *Syncer) Sync(ctx context.Context, in domain.Intent) (SyncResult, error) {
	skipped, err := s.Apply(ctx, in)
	if err == nil {
		return SyncResult{Applied: !skipped, Skipped: skipped}, nil
	}
	if errors.Is(err, domain.ErrMalformedJob) {
		return SyncResult{}, err
	}

	s.logger().Warn("registration sync failed, backlogging",
		"auction", in.AuctionID, "participant", in.ParticipantID, "status", in.Status, "err", err)

	job, jerr := domain.NewJob("", domain.JobRegistrationSync, in, err, s.now())
	if jerr != nil {
		return SyncResult{}, jerr
	}
	res, qerr := s.Retry.Enqueue(ctx, job)
	if qerr != nil {
		return SyncResult{}, fmt.Errorf("sync %s/%s: %v; backlog: %w", in.AuctionID, in.ParticipantID, err, qerr)
	}
	return SyncResult{Backlogged: true, Attempts: res.Attempts}, nil
}

// Apply faz uma única tentativa, sem backlog. skipped=true quando o status já
// estava sincronizado.
func (s *Syncer) Apply(ctx context.Context, in domain.Intent) (skipped bool, err error) {
	if !in.Status.Valid() {
		return false, fmt.Errorf("%w: invalid status %q", domain.ErrMalformedJob, in.Status)
	}
	if in.RegistrantID == "" {
		return false, fmt.Errorf("sync %s/%s: missing registrant", in.AuctionID, in.ParticipantID)
	}

	if s.State != nil {
		last, err := s.State.LastSynced(ctx, in.AuctionID, in.ParticipantID)
		if err != nil {
			s.logger().Warn("sync state read failed", "auction", in.AuctionID, "participant", in.ParticipantID, "err", err)
		} else if last == in.Status {
			return true, nil
		}
	}

	callCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	if err := s.Registry.SetStatus(callCtx, in.AuctionID, in.RegistrantID, in.Status); err != nil {
		return false, err
	}

	if s.State != nil {
		if err := s.State.MarkSynced(ctx, in.AuctionID, in.ParticipantID, in.Status); err != nil {
			// a próxima chamada só repete o PATCH, que é idempotente no sistema externo
			s.logger().Warn("sync state write failed", "auction", in.AuctionID, "participant", in.ParticipantID, "err", err)
		}
	}
	s.logger().Info("registration status synced",
		"auction", in.AuctionID, "participant", in.ParticipantID, "registrant", in.RegistrantID, "status", in.Status)
	return false, nil
}
