package bidding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/auction-bid-engine/internal/clock"
	"github.com/jensholdgaard/auction-bid-engine/internal/store"
	"github.com/jensholdgaard/auction-bid-engine/internal/telemetry"
)

// recoverConcurrency bounds the passes RecoverPending runs at once.
const recoverConcurrency = 8

// PassFunc runs one resolution pass and reports how many bids it placed.
type PassFunc func(ctx context.Context, auctionID string) (int, error)

// Resolver schedules resolution passes per auction. Triggers that arrive
// while a pass is waiting out the settle delay join that pass; a trigger that
// arrives while a pass is running schedules exactly one more pass after it.
type Resolver struct {
	pass         PassFunc
	instructions store.InstructionRepository
	logger       *slog.Logger
	tracer       trace.Tracer
	clock        clock.Clock
	delay        time.Duration
	timeout      time.Duration

	passes metric.Int64Counter
	bids   metric.Int64Counter

	mu      sync.Mutex
	states  map[string]*passState
	idle    chan struct{} // closed while states is empty
	stopped bool
}

type passState struct {
	timer   clock.Timer
	running bool
	again   bool
}

// NewResolver returns a Resolver that runs pass after delay.
func NewResolver(pass PassFunc, instructions store.InstructionRepository, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, clk clock.Clock, delay, timeout time.Duration) (*Resolver, error) {
	meter := mp.Meter(instrumentationName)
	passes, err := meter.Int64Counter("resolver.passes",
		metric.WithDescription("Auto-bid resolution passes run."))
	if err != nil {
		return nil, fmt.Errorf("creating resolver.passes counter: %w", err)
	}
	bids, err := meter.Int64Counter("resolver.bids",
		metric.WithDescription("Auto-bids placed by resolution passes."))
	if err != nil {
		return nil, fmt.Errorf("creating resolver.bids counter: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	idle := make(chan struct{})
	close(idle)
	return &Resolver{
		pass:         pass,
		instructions: instructions,
		logger:       logger,
		tracer:       tp.Tracer(instrumentationName),
		clock:        clk,
		delay:        delay,
		timeout:      timeout,
		passes:       passes,
		bids:         bids,
		states:       make(map[string]*passState),
		idle:         idle,
	}, nil
}

// Trigger asks for a resolution pass on the auction after the settle delay.
func (r *Resolver) Trigger(auctionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	s, ok := r.states[auctionID]
	if !ok {
		s = &passState{}
		if len(r.states) == 0 {
			r.idle = make(chan struct{})
		}
		r.states[auctionID] = s
		r.schedule(auctionID, s)
		return
	}
	if s.running {
		s.again = true
	}
}

// schedule must be called with r.mu held.
func (r *Resolver) schedule(auctionID string, s *passState) {
	s.timer = r.clock.AfterFunc(r.delay, func() { r.fire(auctionID, s) })
}

func (r *Resolver) fire(auctionID string, s *passState) {
	r.mu.Lock()
	if r.states[auctionID] != s || s.running {
		r.mu.Unlock()
		return
	}
	s.timer = nil
	s.running = true
	r.mu.Unlock()

	r.finish(auctionID, s, r.run(auctionID))
}

// finish records the end of a pass and schedules a follow-up when the pass
// placed bids or was triggered while running.
func (r *Resolver) finish(auctionID string, s *passState, placed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.running = false
	if r.states[auctionID] != s {
		return
	}
	if !r.stopped && (placed > 0 || s.again) {
		s.again = false
		r.schedule(auctionID, s)
		return
	}
	r.remove(auctionID)
}

// remove must be called with r.mu held.
func (r *Resolver) remove(auctionID string) {
	delete(r.states, auctionID)
	if len(r.states) == 0 {
		close(r.idle)
	}
}

// run executes one pass. Errors and panics are logged and dropped.
func (r *Resolver) run(auctionID string) (placed int) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "Resolver.Pass",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()
	logger := telemetry.LogWithTrace(ctx, r.logger)

	defer func() {
		if p := recover(); p != nil {
			logger.ErrorContext(ctx, "resolution pass panicked",
				slog.String("auction_id", auctionID),
				slog.Any("panic", p),
			)
			span.SetStatus(codes.Error, "panic")
			placed = 0
		}
	}()

	r.passes.Add(ctx, 1)
	n, err := r.pass(ctx, auctionID)
	if err != nil {
		logger.WarnContext(ctx, "resolution pass failed",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pass failed")
		return 0
	}

	span.SetAttributes(attribute.Int("bids", n))
	if n > 0 {
		r.bids.Add(ctx, int64(n))
		logger.DebugContext(ctx, "resolution pass placed bids",
			slog.String("auction_id", auctionID),
			slog.Int("bids", n),
		)
	}
	return n
}

// ResolveNow runs a pass immediately on the calling goroutine. A pass waiting
// out its settle delay is replaced by this one; if a pass is already running
// for the auction, it is asked to run once more instead and ResolveNow
// returns 0. The pass counts toward Pending and Drain like a scheduled one.
func (r *Resolver) ResolveNow(auctionID string) int {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return 0
	}
	s, ok := r.states[auctionID]
	switch {
	case !ok:
		s = &passState{}
		if len(r.states) == 0 {
			r.idle = make(chan struct{})
		}
		r.states[auctionID] = s
	case s.running:
		s.again = true
		r.mu.Unlock()
		return 0
	case s.timer != nil:
		s.timer.Stop()
		s.timer = nil
	}
	s.running = true
	r.mu.Unlock()

	placed := r.run(auctionID)
	r.finish(auctionID, s, placed)
	return placed
}

// Forget drops any pending pass for the auction. A pass already running
// completes but is not rescheduled.
func (r *Resolver) Forget(auctionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[auctionID]
	if !ok {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	r.remove(auctionID)
}

// Pending returns the number of auctions with a scheduled or running pass.
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// RecoverPending runs a pass for every active auction that still has
// standing instructions. It is meant for process start and leadership
// changes, when timers from a previous owner were lost.
func (r *Resolver) RecoverPending(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "Resolver.RecoverPending")
	defer span.End()

	ids, err := r.instructions.AuctionsWithActive(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("listing auctions with instructions: %w", err)
	}
	span.SetAttributes(attribute.Int("auctions", len(ids)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recoverConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.ResolveNow(id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "recovered pending resolutions", slog.Int("auctions", len(ids)))
	return nil
}

// Drain blocks until no pass is scheduled or running, or ctx is done.
func (r *Resolver) Drain(ctx context.Context) error {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels scheduled passes and refuses new triggers. Running passes
// finish; use Drain to wait for them.
func (r *Resolver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for id, s := range r.states {
		if s.running {
			continue
		}
		if s.timer != nil {
			s.timer.Stop()
		}
		r.remove(id)
	}
}
