package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"
)

// Ingester é o que o Dispatcher executa por evento.
type Ingester interface {
	Ingest(ctx context.Context, ev domain.BidEvent) (Result, error)
}

var errSlotsExhausted = errors.New("ingest slots exhausted")

// Dispatcher executa a ingestão em goroutines com paralelismo limitado.
//
// Submit tenta adquirir uma vaga:
// - Se `AcquireTimeout <= 0`, espera até o ctx cancelar.
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Sem vaga, o evento vira um job pendingBid; nunca é descartado.
type Dispatcher struct {
	Ingester       Ingester
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
	// EventTimeout limita cada ingestão; 0 = sem limite.
	EventTimeout time.Duration
	Retry        domain.RetryQueue
	Logger       *slog.Logger
	Now          func() time.Time

	wg sync.WaitGroup
}

func (d *Dispatcher) acquire(ctx context.Context) (func(), bool) {
	if d.Pool == nil {
		return func() {}, true
	}
	if d.AcquireTimeout <= 0 {
		return d.Pool.Acquire(ctx)
	}
	acqCtx, cancel := context.WithTimeout(ctx, d.AcquireTimeout)
	defer cancel()
	return d.Pool.Acquire(acqCtx)
}

// Submit não espera a ingestão terminar. Só devolve erro quando o evento não
// pôde nem ser executado nem ir para a fila de retry.
func (d *Dispatcher) Submit(ctx context.Context, ev domain.BidEvent) error {
	release, ok := d.acquire(ctx)
	if !ok {
		return d.backlog(ctx, ev)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer release()

		// o ctx da requisição termina antes da ingestão
		runCtx := context.WithoutCancel(ctx)
		if d.EventTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, d.EventTimeout)
			defer cancel()
		}
		if _, err := d.Ingester.Ingest(runCtx, ev); err != nil {
			d.logger().Error("ingest failed", "auction", ev.AuctionID, "bid", ev.BidID, "err", err)
		}
	}()
	return nil
}

func (d *Dispatcher) backlog(ctx context.Context, ev domain.BidEvent) error {
	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	job, err := domain.NewJob("", domain.JobPendingBid, domain.PendingBidPayload{Event: ev}, errSlotsExhausted, now)
	if err != nil {
		return err
	}
	if _, err := d.Retry.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("backlog bid %s: %w", ev.BidID, err)
	}
	d.logger().Warn("ingest saturated, bid backlogged", "auction", ev.AuctionID, "bid", ev.BidID)
	return nil
}

// Wait bloqueia até as ingestões em voo terminarem.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}
