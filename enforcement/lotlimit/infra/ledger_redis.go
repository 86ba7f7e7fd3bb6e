package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisLedger implementa domain.OwnershipLedger com um único script Lua.
//
// A contagem ativa de um participante é a cardinalidade do set de lotes que ele
// lidera; SADD/SREM garantem que ela nunca fica negativa nem diverge do ledger.
//
// O desfecho de cada troca gravada fica guardado por lance durante outcomeTTL:
// repetir Swap com o mesmo BidID (ex: depois de um timeout na resposta) devolve
// esse desfecho com Replayed=true em vez de um NOOP.
type RedisLedger struct {
	rdb        *redis.Client
	keys       Keyspace
	outcomeTTL time.Duration
}

type LedgerOption func(*RedisLedger)

// WithOutcomeTTL define por quanto tempo o desfecho de um lance é lembrado.
// Deve cobrir toda a janela de retry de um pendingBid.
func WithOutcomeTTL(d time.Duration) LedgerOption {
	return func(r *RedisLedger) { r.outcomeTTL = d }
}

func NewRedisLedger(rdb *redis.Client, keys Keyspace, opts ...LedgerOption) *RedisLedger {
	r := &RedisLedger{rdb: rdb, keys: keys, outcomeTTL: 24 * time.Hour}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// swapReply espelha o objeto JSON devolvido por scripts/swap.lua.
type swapReply struct {
	Status          string `json:"status"`
	LotID           string `json:"lotId"`
	BidID           string `json:"bidId"`
	NewLeaderID     string `json:"newLeaderId"`
	NewCount        int    `json:"newCount"`
	NewLimit        string `json:"newLimit"`
	NewLimitKnown   bool   `json:"newLimitKnown"`
	NewRegistrantID string `json:"newRegistrantId"`
	NewAwaiting     bool   `json:"newAwaiting"`
	OldLeaderID     string `json:"oldLeaderId"`
	OldCount        int    `json:"oldCount"`
	OldLimit        string `json:"oldLimit"`
	OldLimitKnown   bool   `json:"oldLimitKnown"`
	OldRegistrantID string `json:"oldRegistrantId"`
	OldAwaiting     bool   `json:"oldAwaiting"`
	Replayed        bool   `json:"replayed"`
}

func (r *RedisLedger) Swap(ctx context.Context, req domain.SwapRequest) (domain.Outcome, error) {
	if req.AuctionID == "" || req.LotID == "" || req.NewLeaderID == "" {
		return domain.Outcome{}, errors.New("swap: auction, lot and leader are required")
	}

	keys := []string{
		r.keys.Lot(req.AuctionID, req.LotID),
		r.keys.Lots(req.AuctionID),
		r.keys.Limits(req.AuctionID),
		r.keys.Registrants(req.AuctionID),
		r.keys.ParticipantLots(req.AuctionID, req.NewLeaderID),
		r.keys.Awaiting(req.AuctionID, req.NewLeaderID),
		r.keys.SwapOutcome(req.AuctionID, req.BidID),
	}
	raw, err := swapScript.Run(ctx, r.rdb, keys,
		r.keys.auction(req.AuctionID), req.LotID, req.NewLeaderID, req.BidID,
		strconv.Itoa(int(r.outcomeTTL/time.Second))).Text()
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("swap script: %w", err)
	}

	var rep swapReply
	if err := json.Unmarshal([]byte(raw), &rep); err != nil {
		return domain.Outcome{}, fmt.Errorf("swap reply %q: %w", raw, err)
	}
	return rep.outcome(req.AuctionID)
}

func (rep swapReply) outcome(auctionID string) (domain.Outcome, error) {
	out := domain.Outcome{
		Status:          domain.OutcomeStatus(rep.Status),
		AuctionID:       auctionID,
		LotID:           rep.LotID,
		BidID:           rep.BidID,
		NewLeaderID:     rep.NewLeaderID,
		NewCount:        rep.NewCount,
		NewLimit:        domain.Unlimited,
		NewLimitKnown:   rep.NewLimitKnown,
		NewRegistrantID: rep.NewRegistrantID,
		NewAwaiting:     rep.NewAwaiting,
		OldLeaderID:     rep.OldLeaderID,
		OldCount:        rep.OldCount,
		OldLimit:        domain.Unlimited,
		OldLimitKnown:   rep.OldLimitKnown,
		OldRegistrantID: rep.OldRegistrantID,
		OldAwaiting:     rep.OldAwaiting,
		Replayed:        rep.Replayed,
	}
	switch out.Status {
	case domain.StatusNoop, domain.StatusOK, domain.StatusAtLimit, domain.StatusExceeded:
	default:
		return domain.Outcome{}, fmt.Errorf("swap reply: unknown status %q", rep.Status)
	}

	// um limite ilegível no cache é tratado como desconhecido; o chamador reaquece.
	if rep.NewLimitKnown {
		if l, err := domain.ParseLimit(rep.NewLimit); err == nil {
			out.NewLimit = l
		} else {
			out.NewLimitKnown = false
		}
	}
	if rep.OldLimitKnown {
		if l, err := domain.ParseLimit(rep.OldLimit); err == nil {
			out.OldLimit = l
		} else {
			out.OldLimitKnown = false
		}
	}
	return out, nil
}

func (r *RedisLedger) Count(ctx context.Context, auctionID, participantID string) (int, error) {
	n, err := r.rdb.SCard(ctx, r.keys.ParticipantLots(auctionID, participantID)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Leader devolve o líder atual do lote, ou domain.ErrNotFound.
func (r *RedisLedger) Leader(ctx context.Context, auctionID, lotID string) (domain.LotLeadership, error) {
	vals, err := r.rdb.HGetAll(ctx, r.keys.Lot(auctionID, lotID)).Result()
	if err != nil {
		return domain.LotLeadership{}, err
	}
	if vals["leader"] == "" {
		return domain.LotLeadership{}, domain.ErrNotFound
	}
	return domain.LotLeadership{AuctionID: auctionID, LotID: lotID, LeaderID: vals["leader"], BidID: vals["bid"]}, nil
}

// Snapshot lê todas as lideranças e as contagens dos líderes encontrados.
// Não é atômico em relação a trocas concorrentes.
func (r *RedisLedger) Snapshot(ctx context.Context, auctionID string) (domain.LedgerSnapshot, error) {
	snap := domain.LedgerSnapshot{AuctionID: auctionID, Counts: make(map[string]int)}

	lots, err := r.rdb.SMembers(ctx, r.keys.Lots(auctionID)).Result()
	if err != nil {
		return snap, err
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(lots))
	for i, lot := range lots {
		cmds[i] = pipe.HGetAll(ctx, r.keys.Lot(auctionID, lot))
	}
	if len(lots) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return snap, err
		}
	}

	for i, lot := range lots {
		vals := cmds[i].Val()
		if vals["leader"] == "" {
			continue
		}
		snap.Lots = append(snap.Lots, domain.LotLeadership{
			AuctionID: auctionID, LotID: lot, LeaderID: vals["leader"], BidID: vals["bid"],
		})
		if _, seen := snap.Counts[vals["leader"]]; !seen {
			n, err := r.Count(ctx, auctionID, vals["leader"])
			if err != nil {
				return snap, err
			}
			snap.Counts[vals["leader"]] = n
		}
	}
	return snap, nil
}
