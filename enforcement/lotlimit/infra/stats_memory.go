package infra

import (
	"context"
	"sync"

	"lotlimit-enforcer/enforcement/lotlimit/domain"
)

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu        sync.Mutex
	total     map[domain.IngestStatus]int64
	byAuction map[string]map[domain.IngestStatus]int64
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		total:     make(map[domain.IngestStatus]int64),
		byAuction: make(map[string]map[domain.IngestStatus]int64),
	}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total[ev.Status]++
	if ev.AuctionID == "" {
		return nil
	}
	m := s.byAuction[ev.AuctionID]
	if m == nil {
		m = make(map[domain.IngestStatus]int64)
		s.byAuction[ev.AuctionID] = m
	}
	m[ev.Status]++
	return nil
}

func (s *MemoryStatsStore) Total(status domain.IngestStatus) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total[status]
}

func (s *MemoryStatsStore) ByAuction(auctionID string) map[domain.IngestStatus]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.IngestStatus]int64, len(s.byAuction[auctionID]))
	for k, v := range s.byAuction[auctionID] {
		out[k] = v
	}
	return out
}

// FanOutStats repassa cada evento para vários stores e devolve o primeiro erro.
type FanOutStats []domain.StatsStore

func (f FanOutStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
