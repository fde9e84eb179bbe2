package auction

import "time"

// PlacedBid is an append-only ledger entry.
type PlacedBid struct {
	ID        string    `db:"id"`
	AuctionID string    `db:"auction_id"`
	BidderID  string    `db:"bidder_id"`
	Amount    int64     `db:"amount"`
	IsAutoBid bool      `db:"is_auto_bid"`
	PlacedAt  time.Time `db:"placed_at"`
}

// Instruction is a standing proxy bid: the bidder authorizes the engine to
// bid on their behalf up to MaxAmount.
type Instruction struct {
	ID                 string    `db:"id"`
	AuctionID          string    `db:"auction_id"`
	BidderID           string    `db:"bidder_id"`
	MaxAmount          int64     `db:"max_amount"`
	ReactionPercentage *int      `db:"reaction_percentage"`
	Active             bool      `db:"active"`
	ConfiguredAt       time.Time `db:"configured_at"`
}

// Reaction percentage bounds, inclusive.
const (
	MinReactionPercentage = 5
	MaxReactionPercentage = 10
)

// ValidReactionPercentage reports whether pct is an acceptable override.
// A nil pct means the tiered increment is used.
func ValidReactionPercentage(pct *int) bool {
	if pct == nil {
		return true
	}
	return *pct >= MinReactionPercentage && *pct <= MaxReactionPercentage
}

// Outcome is the result of ending an auction.
type Outcome struct {
	AuctionID  string
	Sold       bool
	WinnerID   string
	FinalPrice int64
	// HighestBid is the best rejected amount of an unsold auction; nil when
	// there were no bids.
	HighestBid *int64
	EndedAt    time.Time
}
