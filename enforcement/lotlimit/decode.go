package lotlimit

import (
	"encoding/json"
	"errors"
	"fmt"

	"lotlimit-enforcer/enforcement/lotlimit/domain"
)

const actionBidPlaced = "BID_PLACED"

var (
	errMalformedEvent = errors.New("malformed bid event")
	// errIgnoredAction é uma mensagem válida que não é um lance.
	errIgnoredAction = errors.New("ignored action")
)

// bidPlaced é a mensagem do motor de leilão.
type bidPlaced struct {
	Action string `json:"action"`
	Data   struct {
		AuctionUUID string `json:"auctionUuid"`
		Bid         struct {
			UUID        string `json:"uuid"`
			UserUUID    string `json:"userUuid"`
			ListingUUID string `json:"listingUuid"`
		} `json:"bid"`
		SaleStatus struct {
			HighestBidUUID string `json:"highestBidUuid"`
			ListingUUID    string `json:"listingUuid"`
		} `json:"saleStatus"`
	} `json:"data"`
}

// DecodeBidEvent aceita a mensagem BID_PLACED do motor de leilão ou um BidEvent plano.
//
// Na mensagem, o lance lidera quando saleStatus.highestBidUuid == bid.uuid e o lote
// vem de saleStatus.listingUuid (ou bid.listingUuid).
func DecodeBidEvent(body []byte) (domain.BidEvent, error) {
	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return domain.BidEvent{}, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}

	var ev domain.BidEvent
	switch probe.Action {
	case "":
		if err := json.Unmarshal(body, &ev); err != nil {
			return domain.BidEvent{}, fmt.Errorf("%w: %v", errMalformedEvent, err)
		}
	case actionBidPlaced:
		var msg bidPlaced
		if err := json.Unmarshal(body, &msg); err != nil {
			return domain.BidEvent{}, fmt.Errorf("%w: %v", errMalformedEvent, err)
		}
		lot := msg.Data.SaleStatus.ListingUUID
		if lot == "" {
			lot = msg.Data.Bid.ListingUUID
		}
		ev = domain.BidEvent{
			AuctionID:     msg.Data.AuctionUUID,
			LotID:         lot,
			BidID:         msg.Data.Bid.UUID,
			ParticipantID: msg.Data.Bid.UserUUID,
			IsLeading:     msg.Data.Bid.UUID != "" && msg.Data.SaleStatus.HighestBidUUID == msg.Data.Bid.UUID,
		}
	default:
		return domain.BidEvent{}, fmt.Errorf("%w: %s", errIgnoredAction, probe.Action)
	}

	if !ev.Valid() {
		return domain.BidEvent{}, fmt.Errorf("%w: missing auction, lot, bid or participant", errMalformedEvent)
	}
	return ev, nil
}
