package leader_test

import (
	"context"
	"log/slog"
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

// strandedAuction is an auction whose standing instruction was stored by a
// previous leader that never got to resolve it.
type strandedAuction struct {
	engine    *bidding.Engine
	id        string
	recovered chan struct{}
}

func newStrandedAuction(t *testing.T) *strandedAuction {
	t.Helper()
	ctx := context.Background()
	clk := clock.Real{}
	repos := memory.New(clk).Repositories()

	a := auction.New("", "seller", 50_000, time.Now().Add(time.Hour))
	if err := repos.Auctions.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := repos.Auctions.WithLock(ctx, a.ID, func(ctx context.Context, tx store.Tx) error {
		b := &auction.PlacedBid{BidderID: "opener", Amount: 50_000}
		if err := tx.AppendBid(ctx, b); err != nil {
			return err
		}
		tx.Auction().ApplyBid(*b)
		return tx.PutInstruction(ctx, &auction.Instruction{BidderID: "proxy", MaxAmount: 70_000})
	})
	if err != nil {
		t.Fatalf("seeding auction: %v", err)
	}

	e, err := bidding.NewEngine(repos, nil, slog.Default(), noop.NewTracerProvider(), metricnoop.NewMeterProvider(), clk,
		bidding.Options{SettleDelay: time.Millisecond, PassTimeout: 5 * time.Second, OutcomeCacheSize: 16})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &strandedAuction{engine: e, id: a.ID, recovered: make(chan struct{})}
}

// onLeading recovers pending resolutions the way the service does when it
// gains leadership.
func (s *strandedAuction) onLeading(t *testing.T) func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := s.engine.Resolver().RecoverPending(ctx); err != nil {
			t.Errorf("RecoverPending: %v", err)
		}
		close(s.recovered)
		<-ctx.Done()
		s.engine.Resolver().Stop()
	}
}

// assertResolved checks that the stranded instruction reacted to the opener.
func (s *strandedAuction) assertResolved(t *testing.T) {
	t.Helper()
	select {
	case <-s.recovered:
	case <-time.After(10 * time.Second):
		t.Fatal("leader never recovered pending resolutions")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.engine.Resolver().Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	a, err := s.engine.GetAuction(context.Background(), s.id)
	if err != nil {
		t.Fatalf("GetAuction: %v", err)
	}
	if a.CurrentPrice != 51_000 {
		t.Errorf("CurrentPrice = %d, want 51000 after recovery", a.CurrentPrice)
	}
	bids, err := s.engine.ListBids(context.Background(), s.id)
	if err != nil {
		t.Fatalf("ListBids: %v", err)
	}
	if top := bids[len(bids)-1]; top.BidderID != "proxy" || !top.IsAutoBid {
		t.Errorf("high bid = %+v, want the proxy's auto-bid", top)
	}
}
