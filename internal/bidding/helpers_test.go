package bidding_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auction-bid-engine/internal/auction"
	"github.com/jensholdgaard/auction-bid-engine/internal/bidding"
	"github.com/jensholdgaard/auction-bid-engine/internal/clock"
	"github.com/jensholdgaard/auction-bid-engine/internal/store"
	"github.com/jensholdgaard/auction-bid-engine/internal/store/memory"
)

var t0 = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// --- mock helpers ---

// manualClock holds AfterFunc callbacks until the test fires them.
type manualClock struct {
	now time.Time

	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) AfterFunc(_ time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, f: f}
	c.pending = append(c.pending, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fireAll runs pending callbacks in order, including ones they schedule,
// until none remain. It returns how many callbacks ran.
func (c *manualClock) fireAll() int {
	n := 0
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return n
		}
		t := c.pending[0]
		c.pending = c.pending[1:]
		run := !t.stopped
		t.fired = true
		c.mu.Unlock()

		if run {
			t.f()
			n++
		}
	}
}

func (c *manualClock) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu       sync.Mutex
	changes  []bidding.PriceChange
	outcomes []auction.Outcome
	err      error
}

func (s *recordingSink) OnPriceChanged(_ context.Context, c bidding.PriceChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
	return s.err
}

func (s *recordingSink) OnAuctionEnded(_ context.Context, o auction.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return s.err
}

func (s *recordingSink) priceChanges() []bidding.PriceChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bidding.PriceChange(nil), s.changes...)
}

func (s *recordingSink) endedOutcomes() []auction.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auction.Outcome(nil), s.outcomes...)
}

type harness struct {
	engine *bidding.Engine
	repos  *store.Repositories
	clock  *manualClock
	sink   *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &manualClock{now: t0}
	repos := memory.New(clk).Repositories()
	sink := &recordingSink{}
	e, err := bidding.NewEngine(repos, sink, slog.Default(), noop.NewTracerProvider(), metricnoop.NewMeterProvider(), clk,
		bidding.Options{SettleDelay: time.Second, PassTimeout: 5 * time.Second, OutcomeCacheSize: 16})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &harness{engine: e, repos: repos, clock: clk, sink: sink}
}

func (h *harness) newAuction(t *testing.T, startPrice int64, reserve *int64) string {
	t.Helper()
	a := auction.New("", "seller", startPrice, t0.Add(time.Hour))
	a.ReservePrice = reserve
	if err := h.repos.Auctions.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return a.ID
}

// settle fires scheduled resolution passes until the resolver is idle.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	h.clock.fireAll()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.engine.Resolver().Drain(ctx); err != nil {
		t.Fatalf("resolver did not drain: %v", err)
	}
}

func (h *harness) auction(t *testing.T, id string) *auction.Auction {
	t.Helper()
	a, err := h.engine.GetAuction(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAuction: %v", err)
	}
	return a
}

func (h *harness) ledger(t *testing.T, id string) []auction.PlacedBid {
	t.Helper()
	bids, err := h.engine.ListBids(context.Background(), id)
	if err != nil {
		t.Fatalf("ListBids: %v", err)
	}
	return bids
}

func mustPlace(t *testing.T, h *harness, auctionID, bidder string, amount int64) {
	t.Helper()
	if _, err := h.engine.PlaceBid(context.Background(), auctionID, bidder, amount); err != nil {
		t.Fatalf("PlaceBid(%s, %d): %v", bidder, amount, err)
	}
}

func mustSetup(t *testing.T, h *harness, auctionID, bidder string, maxAmount int64, pct *int) *auction.PlacedBid {
	t.Helper()
	b, err := h.engine.SetupAutoBid(context.Background(), auctionID, bidder, maxAmount, pct)
	if err != nil {
		t.Fatalf("SetupAutoBid(%s, %d): %v", bidder, maxAmount, err)
	}
	return b
}

func ptr[T any](v T) *T { return &v }

var errSink = errors.New("sink unavailable")
