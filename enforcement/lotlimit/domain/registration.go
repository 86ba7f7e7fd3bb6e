package domain

import "context"

// RegistrationStatus é o estado do participante no sistema de registro externo.
type RegistrationStatus string

const (
	StatusApproved        RegistrationStatus = "APPROVED"
	StatusAwaitingDeposit RegistrationStatus = "AWAITING_DEPOSIT"
)

func (s RegistrationStatus) Valid() bool {
	return s == StatusApproved || s == StatusAwaitingDeposit
}

// Intent é um pedido de mudança de status no sistema externo.
type Intent struct {
	AuctionID     string             `json:"auctionId"`
	ParticipantID string             `json:"participantId"`
	RegistrantID  string             `json:"registrantId,omitempty"`
	Status        RegistrationStatus `json:"status"`
	Reason        string             `json:"reason,omitempty"`
}

// RegistrationSystem é o sistema de registro externo (fonte da verdade do status).
type RegistrationSystem interface {
	SetStatus(ctx context.Context, auctionID, registrantID string, status RegistrationStatus) error
}

// RegistrantSource resolve o registrant a partir do participante no store durável.
// Devolve ErrNotFound quando não há registro.
type RegistrantSource interface {
	RegistrantID(ctx context.Context, auctionID, participantID string) (string, error)
}

// RegistrantResolver é a busca cache-then-durable usada no caminho de enforcement.
type RegistrantResolver interface {
	Resolve(ctx context.Context, auctionID, participantID string) (string, error)
}

// SuspensionFlags guarda o estado local APPROVED/AWAITING_DEPOSIT.
//
// MarkAwaiting e ClearAwaiting devolvem true apenas para o chamador que
// efetivamente fez a transição.
type SuspensionFlags interface {
	MarkAwaiting(ctx context.Context, auctionID, participantID string) (bool, error)
	ClearAwaiting(ctx context.Context, auctionID, participantID string) (bool, error)
	IsAwaiting(ctx context.Context, auctionID, participantID string) (bool, error)
}

// SyncState lembra o último status aplicado com sucesso no sistema externo,
// para que a sincronização seja idempotente por (participante, status).
type SyncState interface {
	LastSynced(ctx context.Context, auctionID, participantID string) (RegistrationStatus, error)
	MarkSynced(ctx context.Context, auctionID, participantID string, status RegistrationStatus) error
}
