package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxConn é o subconjunto de *pgxpool.Pool usado aqui.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgxConn = (*pgxpool.Pool)(nil)

// PostgresStore é o store durável: limites configurados, mapeamento
// participante -> registrant e a tabela de auditoria.
//
// Implementa domain.LimitStore, domain.RegistrantSource e domain.AuditStore.
type PostgresStore struct {
	db     PgxConn
	logger *slog.Logger
}

type PostgresOption func(*PostgresStore)

func WithPostgresLogger(l *slog.Logger) PostgresOption {
	return func(s *PostgresStore) { s.logger = l }
}

func NewPostgresStore(db PgxConn, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenPostgres cria o pool e valida a conexão.
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS registrants (
	auction_id     TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	registrant_id  TEXT NOT NULL,
	lot_limit      INTEGER NULL CHECK (lot_limit IS NULL OR lot_limit >= 0),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (auction_id, participant_id)
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id             TEXT PRIMARY KEY,
	auction_id     TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	registrant_id  TEXT NULL,
	event_type     TEXT NOT NULL,
	actor          TEXT NOT NULL,
	severity       TEXT NOT NULL,
	meta           JSONB NULL,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_logs_participant_idx ON audit_logs (auction_id, participant_id, created_at);
`

// EnsureSchema cria as tabelas se não existirem. Usado em desenvolvimento e testes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) ParticipantLimit(ctx context.Context, auctionID, participantID string) (domain.Limit, error) {
	var lim *int32
	err := s.db.QueryRow(ctx, `
		SELECT lot_limit FROM registrants
		WHERE auction_id = $1 AND participant_id = $2
	`, auctionID, participantID).Scan(&lim)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Unlimited, nil
	}
	if err != nil {
		return domain.Unlimited, err
	}
	if lim == nil {
		return domain.Unlimited, nil
	}
	if *lim < 0 {
		s.logger.Warn("negative lot limit in store, treating as unlimited",
			"auction", auctionID, "participant", participantID, "limit", *lim)
		return domain.Unlimited, nil
	}
	return domain.Limit(*lim), nil
}

func (s *PostgresStore) RegistrantID(ctx context.Context, auctionID, participantID string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		SELECT registrant_id FROM registrants
		WHERE auction_id = $1 AND participant_id = $2
	`, auctionID, participantID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpsertRegistrant grava o registrant e o limite (Unlimited vira NULL).
func (s *PostgresStore) UpsertRegistrant(ctx context.Context, auctionID, participantID, registrantID string, limit domain.Limit) error {
	var lim *int
	if !limit.IsUnlimited() {
		n := int(limit)
		lim = &n
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO registrants (auction_id, participant_id, registrant_id, lot_limit, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (auction_id, participant_id)
		DO UPDATE SET registrant_id = EXCLUDED.registrant_id, lot_limit = EXCLUDED.lot_limit, updated_at = now()
	`, auctionID, participantID, registrantID, lim)
	return err
}

func (s *PostgresStore) InsertAudit(ctx context.Context, rec domain.AuditRecord) error {
	var meta []byte
	if len(rec.Meta) > 0 {
		b, err := json.Marshal(rec.Meta)
		if err != nil {
			return fmt.Errorf("encode audit meta: %w", err)
		}
		meta = b
	}
	var registrant *string
	if rec.RegistrantID != "" {
		registrant = &rec.RegistrantID
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_logs (id, auction_id, participant_id, registrant_id, event_type, actor, severity, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.AuctionID, rec.ParticipantID, registrant, rec.EventType, rec.Actor, string(rec.Severity), meta, rec.CreatedAt)
	return err
}

// CountAudit conta os registros de auditoria de um participante (verificação e testes).
func (s *PostgresStore) CountAudit(ctx context.Context, auctionID, participantID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM audit_logs WHERE auction_id = $1 AND participant_id = $2
	`, auctionID, participantID).Scan(&n)
	return n, err
}
