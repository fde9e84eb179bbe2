package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auction-bid-engine/internal/auction"
)

const instructionColumns = `id, auction_id, bidder_id, max_amount, reaction_percentage, active, configured_at`

// InstructionRepo implements store.InstructionRepository with sqlx.
type InstructionRepo struct {
	db *sqlx.DB
}

// NewInstructionRepo returns a new InstructionRepo.
func NewInstructionRepo(db *sqlx.DB) *InstructionRepo {
	return &InstructionRepo{db: db}
}

func (r *InstructionRepo) Get(ctx context.Context, auctionID, bidderID string) (*auction.Instruction, error) {
	var in auction.Instruction
	err := r.db.GetContext(ctx, &in,
		`SELECT `+instructionColumns+` FROM bid_instructions
		  WHERE auction_id = $1 AND bidder_id = $2 AND active`, auctionID, bidderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting instruction: %w", err)
	}
	return &in, nil
}

func (r *InstructionRepo) ListActive(ctx context.Context, auctionID string) ([]auction.Instruction, error) {
	return activeInstructions(ctx, r.db, auctionID)
}

func (r *InstructionRepo) AuctionsWithActive(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT i.auction_id
		   FROM bid_instructions i
		   JOIN auctions a ON a.id = i.auction_id
		  WHERE i.active AND a.status = 'active'
		  ORDER BY i.auction_id`)
	if err != nil {
		return nil, fmt.Errorf("listing auctions with instructions: %w", err)
	}
	return ids, nil
}

func activeInstructions(ctx context.Context, q sqlx.QueryerContext, auctionID string) ([]auction.Instruction, error) {
	var ins []auction.Instruction
	err := sqlx.SelectContext(ctx, q, &ins,
		`SELECT `+instructionColumns+` FROM bid_instructions
		  WHERE auction_id = $1 AND active ORDER BY configured_at ASC, id ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing active instructions: %w", err)
	}
	return ins, nil
}
