package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type JobKind string

const (
	JobPendingBid       JobKind = "pendingBid"
	JobRegistrationSync JobKind = "registrationSync"
	JobAudit            JobKind = "audit"
	JobReevaluate       JobKind = "reevaluate"
)

// Job é uma operação que falhou e será reexecutada com backoff exponencial.
type Job struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	ScheduledAt time.Time       `json:"scheduledAt"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// PendingBidPayload é um lance que não pôde ser aplicado.
// Deduped indica que o marcador de dedup já foi reivindicado por este lance.
type PendingBidPayload struct {
	Event   BidEvent `json:"event"`
	Deduped bool     `json:"deduped"`
}

type ReevaluatePayload struct {
	AuctionID     string `json:"auctionId"`
	ParticipantID string `json:"participantId"`
}

// NewJob monta um job com o payload serializado. cause pode ser nil.
func NewJob(id string, kind JobKind, payload any, cause error, now time.Time) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	j := Job{ID: id, Kind: kind, Payload: raw, CreatedAt: now}
	if cause != nil {
		j.LastError = cause.Error()
	}
	return j, nil
}

// Decode lê o payload no tipo esperado pelo handler.
func (j Job) Decode(into any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedJob)
	}
	if err := json.Unmarshal(j.Payload, into); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	return nil
}

func EncodeJob(j Job) (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeJob(raw string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if j.Kind == "" {
		return Job{}, fmt.Errorf("%w: missing kind", ErrMalformedJob)
	}
	return j, nil
}

// BackoffDelay devolve base * 2^(attempts-1).
func BackoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return base << uint(attempts-1)
}

type EnqueueResult struct {
	Attempts     int
	ScheduledAt  time.Time
	DeadLettered bool
}

// RetryQueue é o único destino de falhas transitórias. Não existe fallback silencioso.
type RetryQueue interface {
	Enqueue(ctx context.Context, job Job) (EnqueueResult, error)
}

// JobStore é a visão do worker de replay sobre a fila.
//
// Claim devolve os jobs vencidos na forma serializada e os reserva por um lease,
// para que outro worker (ou um restart) não os processe ao mesmo tempo.
type JobStore interface {
	RetryQueue
	Claim(ctx context.Context, now time.Time, n int) ([]string, error)
	Complete(ctx context.Context, raw string) error
	DeadLetter(ctx context.Context, raw string, reason string) error
}

type DeadLetter struct {
	Job    string    `json:"job"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// ReviewItem é algo que exige intervenção manual (EXCEEDED, registrant desconhecido).
type ReviewItem struct {
	ID            string          `json:"id"`
	Reason        string          `json:"reason"`
	AuctionID     string          `json:"auctionId"`
	ParticipantID string          `json:"participantId"`
	LotID         string          `json:"lotId,omitempty"`
	BidID         string          `json:"bidId,omitempty"`
	Detail        json.RawMessage `json:"detail,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type ReviewQueue interface {
	SubmitReview(ctx context.Context, item ReviewItem) error
}
