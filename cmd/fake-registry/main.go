// fake-registry simula o sistema de registro para testes locais do lotguard.
//
// PATCH /v2/auctions/{auctionID}/registrants/{registrantID} grava o status
// recebido; GET /registrants lista o que foi gravado. POST /bids encaminha um
// lance como mensagem BID_PLACED para o lotguard (LOTGUARD_URL).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type statusChange struct {
	AuctionID    string    `json:"auctionId"`
	RegistrantID string    `json:"registrantId"`
	Status       string    `json:"statusChange"`
	At           time.Time `json:"at"`
}

type registry struct {
	mu      sync.Mutex
	changes []statusChange
	current map[string]string

	apiKey   string
	failRate float64
	lotguard string
	client   *http.Client
	logger   *slog.Logger
}

func (g *registry) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Patch("/v2/auctions/{auctionID}/registrants/{registrantID}", g.patchRegistrant)
	r.Get("/registrants", g.listRegistrants)
	r.Post("/bids", g.postBid)
	return r
}

func (g *registry) patchRegistrant(w http.ResponseWriter, r *http.Request) {
	if g.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+g.apiKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if g.failRate > 0 && rand.Float64() < g.failRate {
		g.logger.Info("injected failure", "path", r.URL.Path)
		http.Error(w, "injected failure", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		StatusChange string `json:"statusChange"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.StatusChange == "" {
		http.Error(w, "statusChange is required", http.StatusBadRequest)
		return
	}

	ch := statusChange{
		AuctionID:    chi.URLParam(r, "auctionID"),
		RegistrantID: chi.URLParam(r, "registrantID"),
		Status:       body.StatusChange,
		At:           time.Now(),
	}
	g.mu.Lock()
	g.changes = append(g.changes, ch)
	g.current[ch.AuctionID+"/"+ch.RegistrantID] = ch.Status
	g.mu.Unlock()

	g.logger.Info("registrant status changed", "auction", ch.AuctionID, "registrant", ch.RegistrantID, "status", ch.Status)
	w.WriteHeader(http.StatusNoContent)
}

func (g *registry) listRegistrants(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	out := map[string]any{"current": g.current, "changes": g.changes}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
	g.mu.Unlock()
}

// postBid recebe {auctionId, lotId, participantId, leading} e envia um BID_PLACED.
func (g *registry) postBid(w http.ResponseWriter, r *http.Request) {
	if g.lotguard == "" {
		http.Error(w, "LOTGUARD_URL not set", http.StatusNotImplemented)
		return
	}
	var in struct {
		AuctionID     string `json:"auctionId"`
		LotID         string `json:"lotId"`
		ParticipantID string `json:"participantId"`
		Leading       *bool  `json:"leading"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	bidID := uuid.NewString()
	highest := bidID
	if in.Leading != nil && !*in.Leading {
		highest = uuid.NewString()
	}
	msg := map[string]any{
		"action": "BID_PLACED",
		"data": map[string]any{
			"auctionUuid": in.AuctionID,
			"bid":         map[string]string{"uuid": bidID, "userUuid": in.ParticipantID, "listingUuid": in.LotID},
			"saleStatus":  map[string]string{"highestBidUuid": highest, "listingUuid": in.LotID},
		},
	}
	b, _ := json.Marshal(msg)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, g.lotguard+"/webhooks/bids", bytes.NewReader(b))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	g.logger.Info("bid forwarded", "auction", in.AuctionID, "lot", in.LotID, "participant", in.ParticipantID, "bid", bidID, "status", resp.StatusCode)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"bidId": bidID})
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	failRate, _ := strconv.ParseFloat(os.Getenv("FAIL_RATE"), 64)
	g := &registry{
		current:  make(map[string]string),
		apiKey:   os.Getenv("REGISTRY_API_KEY"),
		failRate: failRate,
		lotguard: os.Getenv("LOTGUARD_URL"),
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	srv := &http.Server{Addr: addr, Handler: g.routes(), ReadHeaderTimeout: 10 * time.Second}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("fake registry listening", "addr", addr, "failRate", failRate, "lotguard", g.lotguard)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
