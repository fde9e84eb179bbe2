package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jensholdgaard/auction-bid-engine/internal/auction"
	"github.com/jensholdgaard/auction-bid-engine/internal/clock"
	"github.com/jensholdgaard/auction-bid-engine/internal/store"
)

// AuctionRepo implements store.AuctionRepository with sqlx.
type AuctionRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sqlx.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clock: clk}
}

func (r *AuctionRepo) Create(ctx context.Context, a *auction.Auction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = auction.StatusActive
	}
	if a.CurrentPrice == 0 {
		a.CurrentPrice = a.StartPrice
	}
	a.CreatedAt = r.clock.Now().UTC()

	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO auctions (id, seller_id, start_price, hope_price, reserve_price, current_price,
		                       bid_count, status, end_at, version, created_at)
		 VALUES (:id, :seller_id, :start_price, :hope_price, :reserve_price, :current_price,
		         :bid_count, :status, :end_at, :version, :created_at)`, a)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("auction %s already exists", a.ID)
		}
		return fmt.Errorf("creating auction: %w", err)
	}
	return nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*auction.Auction, error) {
	var a auction.Auction
	err := r.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &auction.NotFoundError{Kind: "auction", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return &a, nil
}

func (r *AuctionRepo) ListActive(ctx context.Context) ([]auction.Auction, error) {
	var auctions []auction.Auction
	err := r.db.SelectContext(ctx, &auctions,
		`SELECT * FROM auctions WHERE status = 'active' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing active auctions: %w", err)
	}
	return auctions, nil
}

func (r *AuctionRepo) WithLock(ctx context.Context, id string, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var a auction.Auction
	err = tx.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return &auction.NotFoundError{Kind: "auction", ID: id}
	}
	if err != nil {
		return fmt.Errorf("locking auction: %w", err)
	}

	if err := fn(ctx, &lockedTx{tx: tx, auction: &a, clock: r.clock}); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE auctions
		    SET current_price = $1, bid_count = $2, status = $3, winner_id = $4, ended_at = $5, version = $6
		  WHERE id = $7`,
		a.CurrentPrice, a.BidCount, a.Status, a.WinnerID, a.EndedAt, a.Version, a.ID,
	)
	if err != nil {
		return fmt.Errorf("saving auction: %w", err)
	}

	if err := insertEvents(ctx, tx, a.PendingEvents()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// lockedTx implements store.Tx inside a transaction holding the row lock.
type lockedTx struct {
	tx      *sqlx.Tx
	auction *auction.Auction
	clock   clock.Clock
}

func (t *lockedTx) Auction() *auction.Auction { return t.auction }

func (t *lockedTx) HighestBid(ctx context.Context) (*auction.PlacedBid, error) {
	return highestBid(ctx, t.tx, t.auction.ID)
}

func (t *lockedTx) AppendBid(ctx context.Context, b *auction.PlacedBid) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.PlacedAt.IsZero() {
		b.PlacedAt = t.clock.Now().UTC()
	}
	b.AuctionID = t.auction.ID

	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO placed_bids (id, auction_id, bidder_id, amount, is_auto_bid, placed_at)
		 VALUES (:id, :auction_id, :bidder_id, :amount, :is_auto_bid, :placed_at)`, b)
	if err != nil {
		return fmt.Errorf("appending bid: %w", err)
	}
	return nil
}

func (t *lockedTx) ActiveInstructions(ctx context.Context) ([]auction.Instruction, error) {
	return activeInstructions(ctx, t.tx, t.auction.ID)
}

func (t *lockedTx) PutInstruction(ctx context.Context, in *auction.Instruction) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.ConfiguredAt.IsZero() {
		in.ConfiguredAt = t.clock.Now().UTC()
	}
	in.AuctionID = t.auction.ID
	in.Active = true

	if _, err := t.DeactivateInstruction(ctx, in.BidderID); err != nil {
		return err
	}
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO bid_instructions (id, auction_id, bidder_id, max_amount, reaction_percentage, active, configured_at)
		 VALUES (:id, :auction_id, :bidder_id, :max_amount, :reaction_percentage, :active, :configured_at)`, in)
	if err != nil {
		return fmt.Errorf("inserting instruction: %w", err)
	}
	return nil
}

func (t *lockedTx) DeactivateInstruction(ctx context.Context, bidderID string) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE bid_instructions SET active = false
		  WHERE auction_id = $1 AND bidder_id = $2 AND active`,
		t.auction.ID, bidderID,
	)
	if err != nil {
		return false, fmt.Errorf("deactivating instruction: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}
