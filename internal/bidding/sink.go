package bidding

import (
	"context"
	"time"

	"github.com/jensholdgaard/auction-bid-engine/internal/auction"
)

// PriceChange describes a committed bid.
type PriceChange struct {
	AuctionID string
	NewPrice  int64
	BidderID  string
	IsAutoBid bool
	// IsHighest is false for losing proxy bids recorded ahead of the
	// winner in the same resolution pass.
	IsHighest bool
	PlacedAt  time.Time
}

// Sink receives notifications after the auction lock is released.
// Errors are logged by the engine and never undo the committed change.
type Sink interface {
	OnPriceChanged(ctx context.Context, c PriceChange) error
	OnAuctionEnded(ctx context.Context, o auction.Outcome) error
}

type nopSink struct{}

func (nopSink) OnPriceChanged(context.Context, PriceChange) error     { return nil }
func (nopSink) OnAuctionEnded(context.Context, auction.Outcome) error { return nil }
