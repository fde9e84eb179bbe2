package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	AuctionBidPlaced Type = "auction.bid_placed"
	AuctionEnded     Type = "auction.ended"
	AuctionDeleted   Type = "auction.deleted"

	AutoBidConfigured Type = "autobid.configured"
	AutoBidCancelled  Type = "autobid.cancelled"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// BidPlacedData is the payload for AuctionBidPlaced events.
type BidPlacedData struct {
	BidID     string `json:"bid_id"`
	BidderID  string `json:"bidder_id"`
	Amount    int64  `json:"amount"`
	IsAutoBid bool   `json:"is_auto_bid"`
}

// AuctionEndedData is the payload for AuctionEnded events.
// WinnerID is empty when the item was not sold.
type AuctionEndedData struct {
	Sold       bool   `json:"sold"`
	WinnerID   string `json:"winner_id,omitempty"`
	FinalPrice int64  `json:"final_price"`
	HighestBid *int64 `json:"highest_bid,omitempty"`
}

// AutoBidConfiguredData is the payload for AutoBidConfigured events.
type AutoBidConfiguredData struct {
	BidderID           string `json:"bidder_id"`
	MaxAmount          int64  `json:"max_amount"`
	ReactionPercentage *int   `json:"reaction_percentage,omitempty"`
}

// AutoBidCancelledData is the payload for AutoBidCancelled events.
type AutoBidCancelledData struct {
	BidderID string `json:"bidder_id"`
}
