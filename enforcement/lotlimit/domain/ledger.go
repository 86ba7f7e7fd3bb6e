package domain

import "context"

// OutcomeStatus é o resultado da transação atômica de troca de liderança.
type OutcomeStatus string

const (
	StatusNoop     OutcomeStatus = "NOOP"
	StatusOK       OutcomeStatus = "OK"
	StatusAtLimit  OutcomeStatus = "ATLIMIT"
	StatusExceeded OutcomeStatus = "EXCEEDED"
)

// Committed informa se a liderança do lote mudou.
func (s OutcomeStatus) Committed() bool {
	return s == StatusOK || s == StatusAtLimit || s == StatusExceeded
}

type SwapRequest struct {
	AuctionID   string
	LotID       string
	BidID       string
	NewLeaderID string
}

// Outcome carrega tudo o que a avaliação precisa, inclusive os registrants
// resolvidos e as flags de suspensão lidas dentro da mesma transação, para
// que o chamador não precise de uma segunda ida ao store.
type Outcome struct {
	Status    OutcomeStatus
	AuctionID string
	LotID     string
	BidID     string

	NewLeaderID     string
	NewCount        int
	NewLimit        Limit
	NewLimitKnown   bool
	NewRegistrantID string
	NewAwaiting     bool

	// OldLeaderID é vazio quando o lote não tinha líder.
	OldLeaderID     string
	OldCount        int
	OldLimit        Limit
	OldLimitKnown   bool
	OldRegistrantID string
	OldAwaiting     bool

	// Replayed indica que a troca já tinha sido gravada por uma tentativa
	// anterior do mesmo lance; contagens e flags são as daquele momento.
	Replayed bool
}

type LotLeadership struct {
	AuctionID string `json:"auctionId"`
	LotID     string `json:"lotId"`
	LeaderID  string `json:"leaderId"`
	BidID     string `json:"bidId"`
}

// LedgerSnapshot é uma leitura não atômica do ledger de um leilão, usada por
// ferramentas administrativas e verificações.
type LedgerSnapshot struct {
	AuctionID string
	Lots      []LotLeadership
	Counts    map[string]int
}

// OwnershipLedger é o registro autoritativo de liderança e contagem ativa.
//
// Swap deve executar como uma única transação atômica: duas trocas concorrentes
// para lotes diferentes do mesmo participante disputam o mesmo contador.
type OwnershipLedger interface {
	Swap(ctx context.Context, req SwapRequest) (Outcome, error)
	Count(ctx context.Context, auctionID, participantID string) (int, error)
}

// DedupGate marca lances já processados.
// Accept devolve true apenas na primeira reivindicação de bidID.
type DedupGate interface {
	Accept(ctx context.Context, bidID string) (bool, error)
}

type EnsureOptions struct {
	ForceRefresh bool
}

// LimitStore é a fonte durável dos limites configurados.
// Participante sem registro é tratado como ilimitado.
type LimitStore interface {
	ParticipantLimit(ctx context.Context, auctionID, participantID string) (Limit, error)
}

// LimitCache aquece o limite de um participante no store rápido antes da troca.
type LimitCache interface {
	Ensure(ctx context.Context, auctionID, participantID string, opts EnsureOptions) (Limit, error)
}
