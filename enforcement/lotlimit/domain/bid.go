package domain

import (
	"strconv"
	"strings"
)

// BidEvent é um lance observado no motor de leilão externo.
//
// BidID é único por tentativa de lance. Só eventos com IsLeading=true
// alteram a liderança de um lote.
type BidEvent struct {
	AuctionID     string `json:"auctionId"`
	LotID         string `json:"lotId"`
	BidID         string `json:"bidId"`
	ParticipantID string `json:"participantId"`
	IsLeading     bool   `json:"isLeading"`
}

// Valid informa se o evento tem todos os identificadores necessários.
func (e BidEvent) Valid() bool {
	return e.AuctionID != "" && e.LotID != "" && e.BidID != "" && e.ParticipantID != ""
}

// Limit é o número máximo de lotes que um participante pode liderar ao mesmo tempo.
// Valores negativos significam "sem limite".
type Limit int

const Unlimited Limit = -1

func (l Limit) IsUnlimited() bool { return l < 0 }

// Allows informa se count está estritamente abaixo do limite.
func (l Limit) Allows(count int) bool {
	return l.IsUnlimited() || count < int(l)
}

// Encode devolve a forma usada no cache: "" para ilimitado.
func (l Limit) Encode() string {
	if l.IsUnlimited() {
		return ""
	}
	return strconv.Itoa(int(l))
}

func (l Limit) String() string {
	if l.IsUnlimited() {
		return "unlimited"
	}
	return strconv.Itoa(int(l))
}

// ParseLimit interpreta a forma de cache produzida por Encode.
func ParseLimit(s string) (Limit, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unlimited, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Unlimited, err
	}
	if n < 0 {
		return Unlimited, ErrNegativeLimit
	}
	return Limit(n), nil
}

// Classify compara uma contagem ativa recém-incrementada com o limite.
func Classify(count int, limit Limit) OutcomeStatus {
	switch {
	case limit.IsUnlimited():
		return StatusOK
	case count < int(limit):
		return StatusOK
	case count == int(limit):
		return StatusAtLimit
	default:
		return StatusExceeded
	}
}

// MarshalJSON escreve null para ilimitado.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.IsUnlimited() {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(l))), nil
}

func (l *Limit) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*l = Unlimited
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if n < 0 {
		return ErrNegativeLimit
	}
	*l = Limit(n)
	return nil
}
