package auction

import (
	"time"

	"github.com/jensholdgaard/auction-bid-engine/internal/tier"
)

// Validate checks a candidate bid against the locked auction snapshot.
// Checks run in a fixed order and the first failure wins.
func Validate(a *Auction, bidderID string, amount int64, now time.Time) error {
	if err := checkActive(a, now); err != nil {
		return err
	}

	price := a.CurrentPrice
	if !tier.IsValidUnit(amount, price) {
		return ErrInvalidUnit
	}

	if a.HasBids() {
		if amount < tier.NextMinimum(price) {
			return ErrBelowMinimumIncrement
		}
	} else if amount != a.StartPrice && amount < tier.NextMinimum(a.StartPrice) {
		return ErrBelowMinimumIncrement
	}

	if limit := tier.MaxLimit(price); amount > limit {
		return &MaxLimitError{Limit: limit}
	}

	if bidderID == a.SellerID {
		return ErrSelfBidNotAllowed
	}
	return nil
}

// ValidateInstruction checks a new auto-bid ceiling. The ceiling must be a
// valid unit in its own band so that it stays valid at every lower price.
func ValidateInstruction(a *Auction, bidderID string, maxAmount int64, pct *int, now time.Time) error {
	if err := checkActive(a, now); err != nil {
		return err
	}
	if bidderID == a.SellerID {
		return ErrSelfBidNotAllowed
	}
	if !ValidReactionPercentage(pct) {
		return ErrInvalidReactionPercentage
	}
	if !tier.IsValidUnit(maxAmount, maxAmount) {
		return ErrInvalidUnit
	}

	floor := a.StartPrice
	if a.HasBids() {
		floor = tier.NextMinimum(a.CurrentPrice)
	}
	if maxAmount < floor {
		return ErrAutoBidMaxBelowCurrentPrice
	}
	return nil
}

func checkActive(a *Auction, now time.Time) error {
	switch a.Status {
	case StatusActive:
	case StatusEnded:
		return ErrAuctionEnded
	default:
		return ErrAuctionNotActive
	}
	if !now.Before(a.EndAt) {
		return ErrAuctionEnded
	}
	return nil
}
