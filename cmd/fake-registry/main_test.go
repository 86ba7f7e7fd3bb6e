package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestRegistry(lotguard string) *registry {
	return &registry{
		current:  make(map[string]string),
		apiKey:   "secret",
		lotguard: lotguard,
		client:   http.DefaultClient,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestPatchRegistrant(t *testing.T) {
	g := newTestRegistry("")
	h := g.routes()

	r := httptest.NewRequest(http.MethodPatch, "/v2/auctions/A/registrants/R1", strings.NewReader(`{"statusChange":"AWAITING_DEPOSIT"}`))
	r.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := g.current["A/R1"]; got != "AWAITING_DEPOSIT" {
		t.Fatalf("expected status recorded, got %q", got)
	}

	r = httptest.NewRequest(http.MethodPatch, "/v2/auctions/A/registrants/R1", strings.NewReader(`{"statusChange":"APPROVED"}`))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}
}

func TestPostBidForwardsBidPlaced(t *testing.T) {
	var got map[string]any
	lotguard := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhooks/bids" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer lotguard.Close()

	g := newTestRegistry(lotguard.URL)
	r := httptest.NewRequest(http.MethodPost, "/bids", strings.NewReader(`{"auctionId":"A","lotId":"L1","participantId":"p1"}`))
	w := httptest.NewRecorder()
	g.routes().ServeHTTP(w, r)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if got["action"] != "BID_PLACED" {
		t.Fatalf("expected BID_PLACED, got %v", got["action"])
	}
	data := got["data"].(map[string]any)
	bid := data["bid"].(map[string]any)
	sale := data["saleStatus"].(map[string]any)
	if bid["uuid"] != sale["highestBidUuid"] {
		t.Fatalf("expected leading bid, got bid=%v highest=%v", bid["uuid"], sale["highestBidUuid"])
	}
}
