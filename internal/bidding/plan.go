package bidding

import (
	"sort"

	"github.com/jensholdgaard/auction-bid-engine/internal/auction"
	"github.com/jensholdgaard/auction-bid-engine/internal/tier"
)

// ladder tracks the running price while a pass lays out its bids.
type ladder struct {
	price   int64
	hasBids bool
}

// next returns the smallest amount that is accepted at the running price.
func (l ladder) next() int64 {
	if !l.hasBids {
		return l.price
	}
	return tier.RoundUp(tier.NextMinimum(l.price), tier.MinIncrement(l.price))
}

// ceiling returns the largest amount at or below maxAmount that is accepted
// at the running price.
func (l ladder) ceiling(maxAmount int64) int64 {
	c := min(maxAmount, tier.MaxLimit(l.price))
	return tier.RoundDown(c, tier.MinIncrement(l.price))
}

// offer clamps amount into [next, ceiling(maxAmount)]. ok is false when no
// legal amount exists.
func (l ladder) offer(amount, maxAmount int64) (int64, bool) {
	lo, hi := l.next(), l.ceiling(maxAmount)
	if lo > hi {
		return 0, false
	}
	return min(max(amount, lo), hi), true
}

func (l *ladder) place(amount int64) {
	l.price = amount
	l.hasBids = true
}

// plan lays out the auto-bids one resolution pass places against the locked
// auction. instructions must be ordered by configuration time. The returned
// bids are in placement order; the last one, if any, is the new high bid.
func plan(a *auction.Auction, highest *auction.PlacedBid, instructions []auction.Instruction) []auction.PlacedBid {
	l := ladder{price: a.CurrentPrice, hasBids: a.HasBids()}
	floor := l.next()

	var eligible []auction.Instruction
	for _, in := range instructions {
		if in.Active && in.BidderID != a.SellerID && in.MaxAmount >= floor {
			eligible = append(eligible, in)
		}
	}

	switch len(eligible) {
	case 0:
		return nil
	case 1:
		return react(l, highest, eligible[0])
	default:
		return compete(l, eligible)
	}
}

// react answers the current high bid for a single remaining instruction.
func react(l ladder, highest *auction.PlacedBid, in auction.Instruction) []auction.PlacedBid {
	if highest != nil && highest.BidderID == in.BidderID {
		return nil
	}

	amount := l.next()
	if in.ReactionPercentage != nil && l.hasBids {
		amount = max(amount, tier.ApplyPercentage(l.price, *in.ReactionPercentage))
	}
	amount, ok := l.offer(amount, in.MaxAmount)
	if !ok {
		return nil
	}
	return []auction.PlacedBid{autoBid(in.BidderID, amount)}
}

// compete settles two or more instructions the way an English auction with
// proxies would: every strictly outbid instruction bids its ceiling and the
// top instruction takes the lead one increment above the runner-up.
func compete(l ladder, eligible []auction.Instruction) []auction.PlacedBid {
	ranked := append([]auction.Instruction(nil), eligible...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].MaxAmount != ranked[j].MaxAmount {
			return ranked[i].MaxAmount > ranked[j].MaxAmount
		}
		return ranked[i].ConfiguredAt.Before(ranked[j].ConfiguredAt)
	})

	winner, second := ranked[0], ranked[1]
	tied := winner.MaxAmount == second.MaxAmount

	var bids []auction.PlacedBid
	for i := len(ranked) - 1; i >= 1; i-- {
		loser := ranked[i]
		if loser.MaxAmount == winner.MaxAmount {
			continue
		}
		amount, ok := l.offer(loser.MaxAmount, loser.MaxAmount)
		if !ok {
			continue
		}
		bids = append(bids, autoBid(loser.BidderID, amount))
		l.place(amount)
	}

	target := winner.MaxAmount
	if !tied {
		target = min(winner.MaxAmount, second.MaxAmount+tier.MinIncrement(second.MaxAmount))
	}
	if amount, ok := l.offer(target, winner.MaxAmount); ok {
		bids = append(bids, autoBid(winner.BidderID, amount))
	}
	return bids
}

func autoBid(bidderID string, amount int64) auction.PlacedBid {
	return auction.PlacedBid{BidderID: bidderID, Amount: amount, IsAutoBid: true}
}
