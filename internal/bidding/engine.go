// Package bidding places bids on auctions and resolves competing auto-bid
// instructions.
package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-bid-engine/internal/auction"
	"github.com/jensholdgaard/auction-bid-engine/internal/clock"
	"github.com/jensholdgaard/auction-bid-engine/internal/store"
)

const instrumentationName = "github.com/jensholdgaard/auction-bid-engine/internal/bidding"

// Options tunes an Engine.
type Options struct {
	SettleDelay      time.Duration
	PassTimeout      time.Duration
	OutcomeCacheSize int
}

// Engine is the entry point for bids, auto-bid instructions and auction
// lifecycle changes. All mutations go through the store's per-auction lock.
type Engine struct {
	auctions store.AuctionRepository
	bids     store.BidRepository
	sink     Sink
	resolver *Resolver
	outcomes *lru.Cache

	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock

	placed   metric.Int64Counter
	rejected metric.Int64Counter
}

// NewEngine wires an Engine and its Resolver. A nil sink discards notifications.
func NewEngine(repos *store.Repositories, sink Sink, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, clk clock.Clock, opts Options) (*Engine, error) {
	if sink == nil {
		sink = nopSink{}
	}
	outcomes, err := lru.New(opts.OutcomeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating outcome cache: %w", err)
	}

	meter := mp.Meter(instrumentationName)
	placed, err := meter.Int64Counter("bids.placed",
		metric.WithDescription("Bids committed to the ledger."))
	if err != nil {
		return nil, fmt.Errorf("creating bids.placed counter: %w", err)
	}
	rejected, err := meter.Int64Counter("bids.rejected",
		metric.WithDescription("Bids and instructions rejected by validation."))
	if err != nil {
		return nil, fmt.Errorf("creating bids.rejected counter: %w", err)
	}

	e := &Engine{
		auctions: repos.Auctions,
		bids:     repos.Bids,
		sink:     sink,
		outcomes: outcomes,
		logger:   logger,
		tracer:   tp.Tracer(instrumentationName),
		clock:    clk,
		placed:   placed,
		rejected: rejected,
	}
	e.resolver, err = NewResolver(e.resolvePass, repos.Instructions, logger, tp, mp, clk, opts.SettleDelay, opts.PassTimeout)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Resolver returns the engine's auto-bid resolver.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// PlaceBid validates and commits a manual bid, then schedules a resolution
// pass so standing instructions can react.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) (*auction.PlacedBid, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("bidder_id", bidderID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	var bid auction.PlacedBid
	err := e.auctions.WithLock(ctx, auctionID, func(ctx context.Context, tx store.Tx) error {
		bid = auction.PlacedBid{BidderID: bidderID, Amount: amount}
		return e.commitBid(ctx, tx, &bid)
	})
	if err != nil {
		return nil, e.fail(ctx, span, "placing bid", err)
	}

	e.logger.InfoContext(ctx, "bid placed",
		slog.String("auction_id", auctionID),
		slog.String("bidder_id", bidderID),
		slog.Int64("amount", amount),
	)
	e.committed(ctx, bid, true)
	e.resolver.Trigger(auctionID)
	return &bid, nil
}

// SetupAutoBid stores the bidder's standing instruction, replacing any
// active one. On an auction without bids it opens at the start price;
// otherwise it runs one resolution pass right away. The returned bid is the
// bidder's own bid from that work, or nil when none was placed.
func (e *Engine) SetupAutoBid(ctx context.Context, auctionID, bidderID string, maxAmount int64, pct *int) (*auction.PlacedBid, error) {
	attrs := []attribute.KeyValue{
		attribute.String("auction_id", auctionID),
		attribute.String("bidder_id", bidderID),
		attribute.Int64("max_amount", maxAmount),
	}
	if pct != nil {
		attrs = append(attrs, attribute.Int("reaction_percentage", *pct))
	}
	ctx, span := e.tracer.Start(ctx, "Engine.SetupAutoBid", trace.WithAttributes(attrs...))
	defer span.End()

	var opening *auction.PlacedBid
	err := e.auctions.WithLock(ctx, auctionID, func(ctx context.Context, tx store.Tx) error {
		opening = nil
		a := tx.Auction()
		now := e.clock.Now()
		if err := auction.ValidateInstruction(a, bidderID, maxAmount, pct, now); err != nil {
			return err
		}

		in := &auction.Instruction{
			BidderID:           bidderID,
			MaxAmount:          maxAmount,
			ReactionPercentage: pct,
			ConfiguredAt:       now.UTC(),
		}
		if err := tx.PutInstruction(ctx, in); err != nil {
			return err
		}
		a.RecordAutoBidConfigured(*in)

		if a.HasBids() {
			return nil
		}
		b := &auction.PlacedBid{BidderID: bidderID, Amount: a.StartPrice, IsAutoBid: true}
		if err := e.commitBid(ctx, tx, b); err != nil {
			return err
		}
		opening = b
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, span, "setting up auto-bid", err)
	}

	e.logger.InfoContext(ctx, "auto-bid configured",
		slog.String("auction_id", auctionID),
		slog.String("bidder_id", bidderID),
		slog.Int64("max_amount", maxAmount),
	)

	if opening != nil {
		e.committed(ctx, *opening, true)
		e.resolver.Trigger(auctionID)
		return opening, nil
	}

	placed, err := e.resolve(ctx, auctionID)
	if err != nil {
		// The instruction is stored; a delayed pass retries the reaction.
		e.logger.WarnContext(ctx, "immediate resolution failed",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
		e.resolver.Trigger(auctionID)
		return nil, nil
	}
	if len(placed) == 0 {
		return nil, nil
	}
	e.resolver.Trigger(auctionID)

	var own *auction.PlacedBid
	for i := range placed {
		if placed[i].BidderID == bidderID {
			own = &placed[i]
		}
	}
	return own, nil
}

// CancelAutoBid deactivates the bidder's instruction. Cancelling an
// instruction that is not active is a no-op.
func (e *Engine) CancelAutoBid(ctx context.Context, auctionID, bidderID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.CancelAutoBid",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("bidder_id", bidderID),
		),
	)
	defer span.End()

	var cancelled bool
	err := e.auctions.WithLock(ctx, auctionID, func(ctx context.Context, tx store.Tx) error {
		var err error
		cancelled, err = tx.DeactivateInstruction(ctx, bidderID)
		if err != nil {
			return err
		}
		if cancelled && tx.Auction().Status == auction.StatusActive {
			tx.Auction().RecordAutoBidCancelled(bidderID)
		}
		return nil
	})
	if err != nil {
		return e.fail(ctx, span, "cancelling auto-bid", err)
	}

	if cancelled {
		e.logger.InfoContext(ctx, "auto-bid cancelled",
			slog.String("auction_id", auctionID),
			slog.String("bidder_id", bidderID),
		)
	}
	return nil
}

// EndAuction closes the auction against its highest bid and the reserve
// price. Ending an auction that already ended returns the same outcome.
func (e *Engine) EndAuction(ctx context.Context, auctionID string) (auction.Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.EndAuction",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	if v, ok := e.outcomes.Get(auctionID); ok {
		return v.(auction.Outcome), nil
	}

	var (
		out   auction.Outcome
		ended bool
	)
	err := e.auctions.WithLock(ctx, auctionID, func(ctx context.Context, tx store.Tx) error {
		ended = false
		a := tx.Auction()
		highest, err := tx.HighestBid(ctx)
		if err != nil {
			return err
		}
		if a.Status == auction.StatusEnded {
			out = a.Outcome(highest)
			return nil
		}
		out, err = a.End(highest, e.clock.Now().UTC())
		if err != nil {
			return err
		}
		ended = true
		return nil
	})
	if err != nil {
		return auction.Outcome{}, e.fail(ctx, span, "ending auction", err)
	}

	e.outcomes.Add(auctionID, out)
	e.resolver.Forget(auctionID)
	span.SetAttributes(attribute.Bool("sold", out.Sold))

	if !ended {
		return out, nil
	}
	e.logger.InfoContext(ctx, "auction ended",
		slog.String("auction_id", auctionID),
		slog.Bool("sold", out.Sold),
		slog.String("winner_id", out.WinnerID),
		slog.Int64("final_price", out.FinalPrice),
	)
	if err := e.sink.OnAuctionEnded(ctx, out); err != nil {
		e.logger.WarnContext(ctx, "broadcasting outcome failed",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
	}
	return out, nil
}

// DeleteAuction withdraws an auction that has not received any bid.
func (e *Engine) DeleteAuction(ctx context.Context, auctionID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.DeleteAuction",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	err := e.auctions.WithLock(ctx, auctionID, func(_ context.Context, tx store.Tx) error {
		return tx.Auction().MarkDeleted()
	})
	if err != nil {
		return e.fail(ctx, span, "deleting auction", err)
	}
	e.resolver.Forget(auctionID)
	e.logger.InfoContext(ctx, "auction deleted", slog.String("auction_id", auctionID))
	return nil
}

// GetAuction returns the committed state of an auction.
func (e *Engine) GetAuction(ctx context.Context, auctionID string) (*auction.Auction, error) {
	a, err := e.auctions.GetByID(ctx, auctionID)
	if err != nil {
		var nf *auction.NotFoundError
		if errors.As(err, &nf) {
			return nil, err
		}
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return a, nil
}

// ListBids returns the auction's ledger in commit order.
func (e *Engine) ListBids(ctx context.Context, auctionID string) ([]auction.PlacedBid, error) {
	if _, err := e.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	bids, err := e.bids.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return bids, nil
}

// commitBid validates b against the locked auction and appends it.
func (e *Engine) commitBid(ctx context.Context, tx store.Tx, b *auction.PlacedBid) error {
	a := tx.Auction()
	if err := auction.Validate(a, b.BidderID, b.Amount, e.clock.Now()); err != nil {
		return err
	}
	if err := tx.AppendBid(ctx, b); err != nil {
		return err
	}
	a.ApplyBid(*b)
	return nil
}

// resolve runs one resolution pass and broadcasts what it placed. Within the
// lock it re-plans against the updated auction until a round places nothing,
// so a tier limit that capped a round's bids cannot leave a stale leader.
// Every committed bid raises the price, which bounds the rounds.
func (e *Engine) resolve(ctx context.Context, auctionID string) ([]auction.PlacedBid, error) {
	var placed []auction.PlacedBid
	err := e.auctions.WithLock(ctx, auctionID, func(ctx context.Context, tx store.Tx) error {
		placed = placed[:0]
		a := tx.Auction()
		if !a.IsActive(e.clock.Now()) {
			return nil
		}

		instructions, err := tx.ActiveInstructions(ctx)
		if err != nil {
			return err
		}
		highest, err := tx.HighestBid(ctx)
		if err != nil {
			return err
		}

		for {
			round := 0
			for _, b := range plan(a, highest, instructions) {
				if err := e.commitBid(ctx, tx, &b); err != nil {
					if auction.IsValidation(err) {
						e.logger.DebugContext(ctx, "skipping planned auto-bid",
							slog.String("auction_id", auctionID),
							slog.String("bidder_id", b.BidderID),
							slog.Int64("amount", b.Amount),
							slog.String("reason", auction.Reason(err)),
						)
						continue
					}
					return err
				}
				placed = append(placed, b)
				highest = &placed[len(placed)-1]
				round++
			}
			if round == 0 {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}

	for i, b := range placed {
		e.committed(ctx, b, i == len(placed)-1)
	}
	return placed, nil
}

// resolvePass adapts resolve to the Resolver's pass signature.
func (e *Engine) resolvePass(ctx context.Context, auctionID string) (int, error) {
	placed, err := e.resolve(ctx, auctionID)
	if errors.Is(err, auction.ErrNotFound) {
		return 0, nil
	}
	return len(placed), err
}

// committed records metrics and notifies the sink about a committed bid.
func (e *Engine) committed(ctx context.Context, b auction.PlacedBid, highest bool) {
	e.placed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("auto", b.IsAutoBid)))

	err := e.sink.OnPriceChanged(ctx, PriceChange{
		AuctionID: b.AuctionID,
		NewPrice:  b.Amount,
		BidderID:  b.BidderID,
		IsAutoBid: b.IsAutoBid,
		IsHighest: highest,
		PlacedAt:  b.PlacedAt,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "broadcasting price change failed",
			slog.String("auction_id", b.AuctionID),
			slog.Any("error", err),
		)
	}
}

// fail classifies err for the span and metrics. Validation and not-found
// errors are returned as is; everything else is wrapped with op.
func (e *Engine) fail(ctx context.Context, span trace.Span, op string, err error) error {
	if auction.IsValidation(err) {
		e.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", auction.Reason(err))))
		span.SetAttributes(attribute.String("rejected", auction.Reason(err)))
		return err
	}
	if errors.Is(err, auction.ErrNotFound) {
		span.SetAttributes(attribute.String("rejected", auction.Reason(err)))
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	return fmt.Errorf("%s: %w", op, err)
}
