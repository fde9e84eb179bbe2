package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auction-bid-engine/internal/auction"
)

const bidColumns = `id, auction_id, bidder_id, amount, is_auto_bid, placed_at`

// BidRepo implements store.BidRepository with sqlx.
type BidRepo struct {
	db *sqlx.DB
}

// NewBidRepo returns a new BidRepo.
func NewBidRepo(db *sqlx.DB) *BidRepo {
	return &BidRepo{db: db}
}

func (r *BidRepo) ListByAuction(ctx context.Context, auctionID string) ([]auction.PlacedBid, error) {
	var bids []auction.PlacedBid
	err := r.db.SelectContext(ctx, &bids,
		`SELECT `+bidColumns+` FROM placed_bids WHERE auction_id = $1 ORDER BY seq ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return bids, nil
}

func (r *BidRepo) Highest(ctx context.Context, auctionID string) (*auction.PlacedBid, error) {
	return highestBid(ctx, r.db, auctionID)
}

func highestBid(ctx context.Context, q sqlx.QueryerContext, auctionID string) (*auction.PlacedBid, error) {
	var b auction.PlacedBid
	err := sqlx.GetContext(ctx, q, &b,
		`SELECT `+bidColumns+` FROM placed_bids
		  WHERE auction_id = $1 ORDER BY amount DESC, seq DESC LIMIT 1`, auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting highest bid: %w", err)
	}
	return &b, nil
}
