package event_test

import (
	"encoding/json"
	"testing"

	"github.com/jensholdgaard/auction-bid-engine/internal/event"
)

func TestDecode(t *testing.T) {
	e := event.Event{
		ID:   "7",
		Type: event.AuctionBidPlaced,
		Data: json.RawMessage(`{"bid_id":"b-1","bidder_id":"u1","amount":81000,"is_auto_bid":true}`),
	}

	got, err := event.Decode[event.BidPlacedData](e)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := event.BidPlacedData{BidID: "b-1", BidderID: "u1", Amount: 81_000, IsAutoBid: true}
	if got != want {
		t.Errorf("Decode() = %+v, want %+v", got, want)
	}
}

func TestDecode_InvalidPayload(t *testing.T) {
	e := event.Event{ID: "8", Type: event.AuctionEnded, Data: json.RawMessage(`{"sold":`)}
	if _, err := event.Decode[event.AuctionEndedData](e); err == nil {
		t.Fatal("Decode() with a truncated payload should fail")
	}
}
