package auction

import (
	"errors"
	"fmt"
)

// Errors returned by bid validation and auction lifecycle operations.
//
// ErrInvalidUnit and ErrBelowMinimumIncrement never carry amounts: they would
// reveal the current price.
var (
	ErrAuctionNotActive            = errors.New("auction is not active")
	ErrAuctionEnded                = errors.New("auction has ended")
	ErrInvalidUnit                 = errors.New("bid amount is not a valid bid unit")
	ErrBelowMinimumIncrement       = errors.New("bid does not meet the minimum increment")
	ErrMaxLimitExceeded            = errors.New("bid exceeds the maximum allowed amount")
	ErrSelfBidNotAllowed           = errors.New("sellers cannot bid on their own auction")
	ErrAutoBidMaxBelowCurrentPrice = errors.New("auto-bid maximum is below the current price")
	ErrInvalidReactionPercentage   = errors.New("reaction percentage must be between 5 and 10")
	ErrDeleteNotAllowed            = errors.New("auction cannot be deleted once bids exist")
	ErrNotFound                    = errors.New("not found")
)

// MaxLimitError reports the limit a bid exceeded. The limit is derivable from
// the public current price, so it is safe to show.
type MaxLimitError struct {
	Limit int64
}

func (e *MaxLimitError) Error() string {
	return fmt.Sprintf("%s (limit %d)", ErrMaxLimitExceeded, e.Limit)
}

// Is makes errors.Is(err, ErrMaxLimitExceeded) hold.
func (e *MaxLimitError) Is(target error) bool { return target == ErrMaxLimitExceeded }

// NotFoundError reports a missing entity of the given kind.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsValidation reports whether err is a bid rule violation rather than an
// infrastructure failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrAuctionNotActive,
		ErrAuctionEnded,
		ErrInvalidUnit,
		ErrBelowMinimumIncrement,
		ErrMaxLimitExceeded,
		ErrSelfBidNotAllowed,
		ErrAutoBidMaxBelowCurrentPrice,
		ErrInvalidReactionPercentage,
		ErrDeleteNotAllowed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Reason returns a short metric label for a validation error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrAuctionNotActive):
		return "auction_not_active"
	case errors.Is(err, ErrAuctionEnded):
		return "auction_ended"
	case errors.Is(err, ErrInvalidUnit):
		return "invalid_unit"
	case errors.Is(err, ErrBelowMinimumIncrement):
		return "below_minimum_increment"
	case errors.Is(err, ErrMaxLimitExceeded):
		return "max_limit_exceeded"
	case errors.Is(err, ErrSelfBidNotAllowed):
		return "self_bid"
	case errors.Is(err, ErrAutoBidMaxBelowCurrentPrice):
		return "autobid_max_below_price"
	case errors.Is(err, ErrInvalidReactionPercentage):
		return "invalid_percentage"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}
