package store

import (
	"context"

	"github.com/jensholdgaard/auction-bid-engine/internal/auction"
)

// AuctionRepository defines auction persistence operations.
type AuctionRepository interface {
	Create(ctx context.Context, a *auction.Auction) error
	GetByID(ctx context.Context, id string) (*auction.Auction, error)
	ListActive(ctx context.Context) ([]auction.Auction, error)
	// WithLock loads the auction under an exclusive lock and runs fn.
	// Everything fn changes, including the auction returned by Tx.Auction,
	// is committed when fn returns nil and discarded otherwise. The lock is
	// released before WithLock returns.
	WithLock(ctx context.Context, id string, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of the store available while an auction is locked.
type Tx interface {
	// Auction returns the locked snapshot. Mutations are saved on commit.
	Auction() *auction.Auction
	// HighestBid returns the ledger's highest bid, or nil when there is none.
	HighestBid(ctx context.Context) (*auction.PlacedBid, error)
	// AppendBid adds a bid to the ledger. ID and PlacedAt are assigned when empty.
	AppendBid(ctx context.Context, b *auction.PlacedBid) error
	// ActiveInstructions returns active instructions ordered by configuration time.
	ActiveInstructions(ctx context.Context) ([]auction.Instruction, error)
	// PutInstruction stores in as the bidder's only active instruction.
	PutInstruction(ctx context.Context, in *auction.Instruction) error
	// DeactivateInstruction reports whether an active instruction existed.
	DeactivateInstruction(ctx context.Context, bidderID string) (bool, error)
}

// BidRepository reads the append-only bid ledger.
type BidRepository interface {
	// ListByAuction returns bids in commit order.
	ListByAuction(ctx context.Context, auctionID string) ([]auction.PlacedBid, error)
	// Highest returns the auction's highest bid, or nil when there is none.
	Highest(ctx context.Context, auctionID string) (*auction.PlacedBid, error)
}

// InstructionRepository reads standing auto-bid instructions.
type InstructionRepository interface {
	// Get returns the bidder's active instruction, or nil.
	Get(ctx context.Context, auctionID, bidderID string) (*auction.Instruction, error)
	ListActive(ctx context.Context, auctionID string) ([]auction.Instruction, error)
	// AuctionsWithActive lists active auctions that have at least one active instruction.
	AuctionsWithActive(ctx context.Context) ([]string, error)
}
