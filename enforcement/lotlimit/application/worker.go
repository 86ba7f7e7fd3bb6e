package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"
)

// Handler processa um job. Pode alterar o job (ex: payload) antes de devolver
// erro; o job alterado é o que volta para a fila.
type Handler func(ctx context.Context, job *domain.Job) error

// WorkerMetrics é opcional.
type WorkerMetrics interface {
	JobProcessed(kind domain.JobKind, result string)
}

const (
	jobDone         = "done"
	jobRetried      = "retried"
	jobDeadLettered = "dead_lettered"
)

// RetryWorker consome a fila de retry: reserva jobs vencidos, despacha por tipo e
// reagenda com backoff quando o handler falha.
type RetryWorker struct {
	Store    domain.JobStore
	Handlers map[domain.JobKind]Handler
	Batch    int
	Interval time.Duration
	Metrics  WorkerMetrics
	Logger   *slog.Logger
	Now      func() time.Time
}

func (w *RetryWorker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

func (w *RetryWorker) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

// Run processa a fila a cada Interval até o ctx encerrar.
func (w *RetryWorker) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger().Error("retry worker pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// RunOnce reserva até Batch jobs vencidos e os processa em sequência.
// Devolve quantos jobs foram reservados.
func (w *RetryWorker) RunOnce(ctx context.Context) (int, error) {
	batch := w.Batch
	if batch <= 0 {
		batch = 5
	}
	raws, err := w.Store.Claim(ctx, w.now(), batch)
	if err != nil {
		return 0, fmt.Errorf("claim: %w", err)
	}
	for _, raw := range raws {
		if ctx.Err() != nil {
			// o lease expira e o job volta para a fila
			return len(raws), ctx.Err()
		}
		if err := w.process(ctx, raw); err != nil {
			w.logger().Error("retry job bookkeeping failed", "err", err)
		}
	}
	return len(raws), nil
}

func (w *RetryWorker) process(ctx context.Context, raw string) error {
	job, err := domain.DecodeJob(raw)
	if err != nil {
		return w.deadLetter(ctx, raw, "", err)
	}

	h := w.Handlers[job.Kind]
	if h == nil {
		return w.deadLetter(ctx, raw, job.Kind, fmt.Errorf("%w: %s", domain.ErrUnknownJobKind, job.Kind))
	}

	herr := h(ctx, &job)
	if herr == nil {
		w.observe(job.Kind, jobDone)
		return w.Store.Complete(ctx, raw)
	}
	if errors.Is(herr, domain.ErrMalformedJob) {
		return w.deadLetter(ctx, raw, job.Kind, herr)
	}

	job.LastError = herr.Error()
	res, err := w.Store.Enqueue(ctx, job)
	if err != nil {
		// o job continua reservado e volta quando o lease expirar
		return fmt.Errorf("reschedule %s: %w", job.ID, err)
	}
	if res.DeadLettered {
		w.observe(job.Kind, jobDeadLettered)
	} else {
		w.observe(job.Kind, jobRetried)
	}
	w.logger().Warn("retry job failed",
		"job", job.ID, "kind", job.Kind, "attempt", res.Attempts, "deadLettered", res.DeadLettered, "err", herr)
	return w.Store.Complete(ctx, raw)
}

func (w *RetryWorker) deadLetter(ctx context.Context, raw string, kind domain.JobKind, cause error) error {
	w.observe(kind, jobDeadLettered)
	w.logger().Error("retry job dead-lettered", "kind", kind, "err", cause)
	return w.Store.DeadLetter(ctx, raw, cause.Error())
}

func (w *RetryWorker) observe(kind domain.JobKind, result string) {
	if w.Metrics != nil {
		w.Metrics.JobProcessed(kind, result)
	}
}
