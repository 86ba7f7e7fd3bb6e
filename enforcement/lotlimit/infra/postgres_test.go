package infra

import (
	"context"
	"os"
	"testing"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("LOTGUARD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LOTGUARD_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := OpenPostgres(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestPostgresStore_LimitsAndRegistrants(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	auction := "pg-" + uuid.NewString()

	l, err := s.ParticipantLimit(ctx, auction, "A")
	require.NoError(t, err)
	require.True(t, l.IsUnlimited(), "missing row is unlimited")

	_, err = s.RegistrantID(ctx, auction, "A")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.UpsertRegistrant(ctx, auction, "A", "reg-A", 2))
	l, err = s.ParticipantLimit(ctx, auction, "A")
	require.NoError(t, err)
	require.Equal(t, domain.Limit(2), l)

	id, err := s.RegistrantID(ctx, auction, "A")
	require.NoError(t, err)
	require.Equal(t, "reg-A", id)

	require.NoError(t, s.UpsertRegistrant(ctx, auction, "A", "reg-A", domain.Unlimited))
	l, err = s.ParticipantLimit(ctx, auction, "A")
	require.NoError(t, err)
	require.True(t, l.IsUnlimited(), "NULL is unlimited")
}

func TestPostgresStore_InsertAuditIsIdempotent(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	auction := "pg-" + uuid.NewString()

	rec := domain.AuditRecord{
		ID:            uuid.NewString(),
		AuctionID:     auction,
		ParticipantID: "A",
		EventType:     domain.EventSuspendAttempted,
		Actor:         "system",
		Severity:      domain.SeverityInfo,
		Meta:          map[string]any{"count": 2},
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.InsertAudit(ctx, rec))
	require.NoError(t, s.InsertAudit(ctx, rec))

	n, err := s.CountAudit(ctx, auction, "A")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
