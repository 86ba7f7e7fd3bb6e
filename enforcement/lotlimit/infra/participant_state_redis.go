package infra

import (
	"context"
	"errors"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisParticipantState guarda a flag de suspensão (domain.SuspensionFlags) e o
// último status sincronizado com o sistema externo (domain.SyncState).
type RedisParticipantState struct {
	rdb  *redis.Client
	keys Keyspace
}

func NewRedisParticipantState(rdb *redis.Client, keys Keyspace) *RedisParticipantState {
	return &RedisParticipantState{rdb: rdb, keys: keys}
}

func (s *RedisParticipantState) MarkAwaiting(ctx context.Context, auctionID, participantID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.keys.Awaiting(auctionID, participantID), "1", 0).Result()
	if err != nil {
		return false, err
	}
	// o set de suspensos é só um índice para listagem
	if err := s.rdb.SAdd(ctx, s.keys.Suspended(auctionID), participantID).Err(); err != nil {
		return ok, err
	}
	return ok, nil
}

func (s *RedisParticipantState) ClearAwaiting(ctx context.Context, auctionID, participantID string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.keys.Awaiting(auctionID, participantID)).Result()
	if err != nil {
		return false, err
	}
	if err := s.rdb.SRem(ctx, s.keys.Suspended(auctionID), participantID).Err(); err != nil {
		return n == 1, err
	}
	return n == 1, nil
}

func (s *RedisParticipantState) IsAwaiting(ctx context.Context, auctionID, participantID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.keys.Awaiting(auctionID, participantID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Suspended lista os participantes com flag de suspensão no leilão.
func (s *RedisParticipantState) Suspended(ctx context.Context, auctionID string) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keys.Suspended(auctionID)).Result()
}

func (s *RedisParticipantState) LastSynced(ctx context.Context, auctionID, participantID string) (domain.RegistrationStatus, error) {
	v, err := s.rdb.HGet(ctx, s.keys.Synced(auctionID), participantID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return domain.RegistrationStatus(v), nil
}

func (s *RedisParticipantState) MarkSynced(ctx context.Context, auctionID, participantID string, status domain.RegistrationStatus) error {
	return s.rdb.HSet(ctx, s.keys.Synced(auctionID), participantID, string(status)).Err()
}
