package infra

import (
	"fmt"
	"strings"
)

const defaultPrefix = "lotlimit"

// Keyspace monta as chaves Redis. Todas as chaves de um leilão levam o hash tag
// {auctionID}, então caem no mesmo slot em Redis Cluster e o script do ledger
// pode tocar nas chaves do participante antigo.
type Keyspace struct {
	Prefix string
}

func (k Keyspace) prefix() string {
	p := strings.Trim(k.Prefix, ":")
	if p == "" {
		return defaultPrefix
	}
	return p
}

// auction devolve o prefixo comum das chaves de um leilão, terminando em ":".
func (k Keyspace) auction(auctionID string) string {
	return fmt.Sprintf("%s:auction:{%s}:", k.prefix(), auctionID)
}

func (k Keyspace) Lot(auctionID, lotID string) string {
	return k.auction(auctionID) + "lot:" + lotID
}

func (k Keyspace) Lots(auctionID string) string { return k.auction(auctionID) + "lots" }

func (k Keyspace) ParticipantLots(auctionID, participantID string) string {
	return k.auction(auctionID) + "participant:" + participantID + ":lots"
}

func (k Keyspace) Limits(auctionID string) string { return k.auction(auctionID) + "limits" }

func (k Keyspace) LimitLock(auctionID, participantID string) string {
	return k.auction(auctionID) + "limits:lock:" + participantID
}

func (k Keyspace) Registrants(auctionID string) string { return k.auction(auctionID) + "registrants" }

func (k Keyspace) Awaiting(auctionID, participantID string) string {
	return k.auction(auctionID) + "awaiting:" + participantID
}

// SwapOutcome guarda o desfecho da troca feita por um lance.
func (k Keyspace) SwapOutcome(auctionID, bidID string) string {
	return k.auction(auctionID) + "swap:" + bidID
}

func (k Keyspace) Suspended(auctionID string) string { return k.auction(auctionID) + "suspended" }

func (k Keyspace) Synced(auctionID string) string { return k.auction(auctionID) + "synced" }

func (k Keyspace) ProcessedBid(bidID string) string { return k.prefix() + ":processedBid:" + bidID }

func (k Keyspace) RetryQueue() string { return k.prefix() + ":retry" }

func (k Keyspace) DeadLetters() string { return k.prefix() + ":retry:dead" }

func (k Keyspace) Review() string { return k.prefix() + ":review" }

func (k Keyspace) Stats() string { return k.prefix() + ":stats" }
