package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseLimit_EmptyIsUnlimited(t *testing.T) {
	l, err := ParseLimit("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.IsUnlimited() {
		t.Fatalf("expected unlimited, got %s", l)
	}
	if l.Encode() != "" {
		t.Fatalf("expected empty encoding, got %q", l.Encode())
	}
}

func TestParseLimit_RejectsNegativeAndGarbage(t *testing.T) {
	if _, err := ParseLimit("-2"); !errors.Is(err, ErrNegativeLimit) {
		t.Fatalf("expected ErrNegativeLimit, got %v", err)
	}
	if _, err := ParseLimit("two"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseLimit_RoundTrip(t *testing.T) {
	l, err := ParseLimit(" 3 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l != 3 || l.Encode() != "3" {
		t.Fatalf("expected 3, got %s", l)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		count int
		limit Limit
		want  OutcomeStatus
	}{
		{1, Unlimited, StatusOK},
		{1, 2, StatusOK},
		{2, 2, StatusAtLimit},
		{3, 2, StatusExceeded},
		{1, 0, StatusExceeded},
	}
	for _, c := range cases {
		if got := Classify(c.count, c.limit); got != c.want {
			t.Fatalf("Classify(%d, %s): expected %s, got %s", c.count, c.limit, c.want, got)
		}
	}
}

func TestLimitAllows(t *testing.T) {
	if !Unlimited.Allows(1000) {
		t.Fatalf("expected unlimited to allow any count")
	}
	if !Limit(2).Allows(1) {
		t.Fatalf("expected 1 < 2 to be allowed")
	}
	if Limit(2).Allows(2) {
		t.Fatalf("expected count at limit not to be allowed")
	}
}

func TestBidEventValid(t *testing.T) {
	ev := BidEvent{AuctionID: "a", LotID: "l", BidID: "b", ParticipantID: "p"}
	if !ev.Valid() {
		t.Fatalf("expected valid event")
	}
	ev.BidID = ""
	if ev.Valid() {
		t.Fatalf("expected event without bid id to be invalid")
	}
}

func TestLimitJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Limit `json:"a"`
		B Limit `json:"b"`
	}{Unlimited, 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"a":null,"b":3}` {
		t.Fatalf("unexpected json %s", b)
	}

	var back struct {
		A Limit `json:"a"`
		B Limit `json:"b"`
	}
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.A.IsUnlimited() || back.B != 3 {
		t.Fatalf("unexpected round trip %+v", back)
	}
}
