package lotlimit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"lotlimit-enforcer/enforcement/lotlimit/application"
	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	auctionIDKey     = "auctionID"
	participantIDKey = "participantID"

	defaultMaxBody = 64 << 10
)

// Submitter recebe eventos para ingestão assíncrona (application.Dispatcher).
type Submitter interface {
	Submit(ctx context.Context, ev domain.BidEvent) error
}

// Participants é a superfície de consulta e ajuste (application.Enforcer).
type Participants interface {
	Status(ctx context.Context, auctionID, participantID string) (application.ParticipantStatus, error)
	StatusMany(ctx context.Context, auctionID string, participantIDs []string) ([]application.ParticipantStatus, error)
	RefreshLimit(ctx context.Context, auctionID, participantID string, opts application.RefreshOptions) (application.ParticipantStatus, error)
}

// RegistrantWriter grava registrant e limite no store durável (infra.PostgresStore).
type RegistrantWriter interface {
	UpsertRegistrant(ctx context.Context, auctionID, participantID, registrantID string, limit domain.Limit) error
}

// RegistrantCache recebe o mapeamento recém-gravado (infra.RedisRegistrantCache).
type RegistrantCache interface {
	Put(ctx context.Context, auctionID, participantID, registrantID string) error
}

type Options struct {
	Bids         Submitter
	Participants Participants
	// Registrants e Cache são opcionais; sem Registrants a rota de registrants não existe.
	Registrants RegistrantWriter
	Cache       RegistrantCache
	Throttle    ThrottleOptions
	MaxBody     int64
	Logger      *slog.Logger
}

type api struct {
	opts   Options
	logger *slog.Logger
}

// NewRouter monta as rotas HTTP.
func NewRouter(opts Options) http.Handler {
	if opts.MaxBody <= 0 {
		opts.MaxBody = defaultMaxBody
	}
	a := &api{opts: opts, logger: opts.Logger}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(Throttle(opts.Throttle))
		r.Post("/bids", a.postBid)
		if opts.Registrants != nil {
			r.Post("/registrants", a.postRegistrant)
		}
	})

	r.Route("/auctions/{"+auctionIDKey+"}/participants", func(r chi.Router) {
		r.Get("/", a.getParticipants)
		r.Get("/{"+participantIDKey+"}", a.getParticipant)
		r.Post("/{"+participantIDKey+"}/limit/refresh", a.refreshLimit)
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (a *api) postBid(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.opts.MaxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	ev, err := DecodeBidEvent(body)
	switch {
	case errors.Is(err, errIgnoredAction):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": string(domain.IngestIgnored)})
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.opts.Bids.Submit(r.Context(), ev); err != nil {
		a.logger.Error("bid not accepted", "auction", ev.AuctionID, "bid", ev.BidID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "bidId": ev.BidID})
}

// registrantPayload segue o webhook de inscrição do motor de leilão.
type registrantPayload struct {
	AuctionUUID    string        `json:"auctionUuid"`
	RegistrantUUID string        `json:"registrantUuid"`
	UserUUID       string        `json:"userUuid"`
	BidLimit       *domain.Limit `json:"bidLimit"`
}

func (a *api) postRegistrant(w http.ResponseWriter, r *http.Request) {
	var p registrantPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.opts.MaxBody)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if p.AuctionUUID == "" || p.RegistrantUUID == "" || p.UserUUID == "" {
		writeError(w, http.StatusBadRequest, "auctionUuid, registrantUuid and userUuid are required")
		return
	}
	limit := domain.Unlimited
	if p.BidLimit != nil {
		limit = *p.BidLimit
	}

	ctx := r.Context()
	if err := a.opts.Registrants.UpsertRegistrant(ctx, p.AuctionUUID, p.UserUUID, p.RegistrantUUID, limit); err != nil {
		a.logger.Error("registrant upsert failed", "auction", p.AuctionUUID, "participant", p.UserUUID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	if a.opts.Cache != nil {
		if err := a.opts.Cache.Put(ctx, p.AuctionUUID, p.UserUUID, p.RegistrantUUID); err != nil {
			a.logger.Warn("registrant cache write failed", "auction", p.AuctionUUID, "participant", p.UserUUID, "err", err)
		}
	}

	st, err := a.opts.Participants.RefreshLimit(ctx, p.AuctionUUID, p.UserUUID, application.RefreshOptions{Actor: "registrant-webhook"})
	if err != nil {
		a.logger.Error("limit refresh after registration failed", "auction", p.AuctionUUID, "participant", p.UserUUID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) getParticipant(w http.ResponseWriter, r *http.Request) {
	st, err := a.opts.Participants.Status(r.Context(), chi.URLParam(r, auctionIDKey), chi.URLParam(r, participantIDKey))
	if err != nil {
		a.logger.Error("status query failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// getParticipants atende ?ids=A,B,C.
func (a *api) getParticipants(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids query parameter is required")
		return
	}

	sts, err := a.opts.Participants.StatusMany(r.Context(), chi.URLParam(r, auctionIDKey), ids)
	if err != nil {
		a.logger.Error("status query failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, sts)
}

type refreshRequest struct {
	Enforce bool   `json:"enforce"`
	Actor   string `json:"actor"`
}

func (a *api) refreshLimit(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.opts.MaxBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}
	}
	if req.Actor == "" {
		req.Actor = application.ActorAdmin
	}

	st, err := a.opts.Participants.RefreshLimit(r.Context(), chi.URLParam(r, auctionIDKey), chi.URLParam(r, participantIDKey),
		application.RefreshOptions{Enforce: req.Enforce, Actor: req.Actor})
	if err != nil {
		a.logger.Error("limit refresh failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
