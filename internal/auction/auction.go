package auction

import (
	"encoding/json"
	"time"

	"github.com/jensholdgaard/auction-bid-engine/internal/event"
)

// Status is the lifecycle state of an auction.
type Status string

const (
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
	StatusDeleted Status = "deleted"
)

// Auction is the aggregate root holding price, status and winner state.
// It is not safe for concurrent use; callers mutate it only while holding
// the auction lock provided by the store.
type Auction struct {
	ID           string     `db:"id"`
	SellerID     string     `db:"seller_id"`
	StartPrice   int64      `db:"start_price"`
	HopePrice    int64      `db:"hope_price"`
	ReservePrice *int64     `db:"reserve_price"`
	CurrentPrice int64      `db:"current_price"`
	BidCount     int        `db:"bid_count"`
	Status       Status     `db:"status"`
	EndAt        time.Time  `db:"end_at"`
	WinnerID     *string    `db:"winner_id"`
	EndedAt      *time.Time `db:"ended_at"`
	Version      int        `db:"version"`
	CreatedAt    time.Time  `db:"created_at"`

	events []event.Event
}

// New returns an active auction priced at its start price.
func New(id, sellerID string, startPrice int64, endAt time.Time) *Auction {
	return &Auction{
		ID:           id,
		SellerID:     sellerID,
		StartPrice:   startPrice,
		CurrentPrice: startPrice,
		Status:       StatusActive,
		EndAt:        endAt,
	}
}

// IsActive reports whether the auction still accepts bids at now.
func (a *Auction) IsActive(now time.Time) bool {
	return a.Status == StatusActive && now.Before(a.EndAt)
}

// HasBids reports whether any bid has been committed.
func (a *Auction) HasBids() bool { return a.BidCount > 0 }

// ApplyBid commits an already validated bid to the aggregate.
func (a *Auction) ApplyBid(b PlacedBid) {
	a.CurrentPrice = b.Amount
	a.BidCount++

	data, _ := json.Marshal(event.BidPlacedData{
		BidID:     b.ID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		IsAutoBid: b.IsAutoBid,
	})
	a.recordEvent(event.AuctionBidPlaced, data)
}

// ReservePriceMet reports whether amount satisfies the seller's reserve.
// An auction without a reserve always meets it.
func (a *Auction) ReservePriceMet(amount int64) bool {
	return a.ReservePrice == nil || amount >= *a.ReservePrice
}

// End closes the auction. highest is the ledger's highest bid, or nil when
// nobody bid. An unmet reserve ends the auction unsold with a zero price.
func (a *Auction) End(highest *PlacedBid, now time.Time) (Outcome, error) {
	switch a.Status {
	case StatusActive:
	case StatusEnded:
		return Outcome{}, ErrAuctionEnded
	default:
		return Outcome{}, ErrAuctionNotActive
	}

	out := Outcome{AuctionID: a.ID, EndedAt: now}
	if highest != nil && a.ReservePriceMet(highest.Amount) {
		winner := highest.BidderID
		a.WinnerID = &winner
		a.CurrentPrice = highest.Amount
		out.Sold = true
		out.WinnerID = winner
		out.FinalPrice = highest.Amount
	} else {
		a.WinnerID = nil
		a.CurrentPrice = 0
		if highest != nil {
			amount := highest.Amount
			out.HighestBid = &amount
		}
	}

	a.Status = StatusEnded
	ended := now
	a.EndedAt = &ended

	data, _ := json.Marshal(event.AuctionEndedData{
		Sold:       out.Sold,
		WinnerID:   out.WinnerID,
		FinalPrice: out.FinalPrice,
		HighestBid: out.HighestBid,
	})
	a.recordEvent(event.AuctionEnded, data)
	return out, nil
}

// Outcome reconstructs the result of an already ended auction.
func (a *Auction) Outcome(highest *PlacedBid) Outcome {
	out := Outcome{AuctionID: a.ID}
	if a.EndedAt != nil {
		out.EndedAt = *a.EndedAt
	}
	if a.WinnerID != nil {
		out.Sold = true
		out.WinnerID = *a.WinnerID
		out.FinalPrice = a.CurrentPrice
		return out
	}
	if highest != nil {
		amount := highest.Amount
		out.HighestBid = &amount
	}
	return out
}

// MarkDeleted withdraws an auction that never received a bid.
func (a *Auction) MarkDeleted() error {
	if a.Status != StatusActive {
		return ErrAuctionNotActive
	}
	if a.HasBids() {
		return ErrDeleteNotAllowed
	}
	a.Status = StatusDeleted
	a.recordEvent(event.AuctionDeleted, json.RawMessage(`{}`))
	return nil
}

// RecordAutoBidConfigured adds an instruction change to the auction's history.
func (a *Auction) RecordAutoBidConfigured(in Instruction) {
	data, _ := json.Marshal(event.AutoBidConfiguredData{
		BidderID:           in.BidderID,
		MaxAmount:          in.MaxAmount,
		ReactionPercentage: in.ReactionPercentage,
	})
	a.recordEvent(event.AutoBidConfigured, data)
}

// RecordAutoBidCancelled adds an instruction cancellation to the auction's history.
func (a *Auction) RecordAutoBidCancelled(bidderID string) {
	data, _ := json.Marshal(event.AutoBidCancelledData{BidderID: bidderID})
	a.recordEvent(event.AutoBidCancelled, data)
}

// PendingEvents returns uncommitted events and clears the buffer.
func (a *Auction) PendingEvents() []event.Event {
	events := a.events
	a.events = nil
	return events
}

func (a *Auction) recordEvent(t event.Type, data json.RawMessage) {
	a.Version++
	a.events = append(a.events, event.Event{
		AggregateID: a.ID,
		Type:        t,
		Data:        data,
		Version:     a.Version,
	})
}
