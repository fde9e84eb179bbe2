// Package memory provides an in-process store.Driver. Each auction is guarded
// by its own mutex, giving the same single-writer-per-auction guarantee the
// Postgres driver gets from SELECT ... FOR UPDATE.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/jensholdgaard/auction-bid-engine/internal/auction"
	"github.com/jensholdgaard/auction-bid-engine/internal/clock"
	"github.com/jensholdgaard/auction-bid-engine/internal/config"
	"github.com/jensholdgaard/auction-bid-engine/internal/event"
	"github.com/jensholdgaard/auction-bid-engine/internal/store"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func init() {
	store.Register("memory", openMemory)
}

func openMemory(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	return New(clk).Repositories(), nil
}

// Store keeps auctions, the bid ledger, instructions and events in memory.
type Store struct {
	clock clock.Clock
	locks *keyedMutex

	mu           sync.RWMutex
	auctions     map[string]auction.Auction
	bids         map[string][]auction.PlacedBid
	instructions map[string][]auction.Instruction // active only, by configuration time
	events       []event.Event
	eventSeq     int
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{
		clock:        clk,
		locks:        newKeyedMutex(),
		auctions:     make(map[string]auction.Auction),
		bids:         make(map[string][]auction.PlacedBid),
		instructions: make(map[string][]auction.Instruction),
	}
}

// Repositories exposes the Store through the store interfaces.
func (s *Store) Repositories() *store.Repositories {
	return &store.Repositories{
		Auctions:     (*AuctionRepo)(s),
		Bids:         (*BidRepo)(s),
		Instructions: (*InstructionRepo)(s),
		Events:       (*EventStore)(s),
		Closer:       closerFunc(func() error { return nil }),
		Ping:         func(context.Context) error { return nil },
	}
}

// AuctionRepo implements store.AuctionRepository.
type AuctionRepo Store

func (r *AuctionRepo) Create(_ context.Context, a *auction.Auction) error {
	s := (*Store)(r)
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = auction.StatusActive
	}
	if a.CurrentPrice == 0 {
		a.CurrentPrice = a.StartPrice
	}
	a.CreatedAt = s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auctions[a.ID]; ok {
		return fmt.Errorf("auction %s already exists", a.ID)
	}
	s.auctions[a.ID] = snapshot(a)
	return nil
}

func (r *AuctionRepo) GetByID(_ context.Context, id string) (*auction.Auction, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, &auction.NotFoundError{Kind: "auction", ID: id}
	}
	return &a, nil
}

func (r *AuctionRepo) ListActive(_ context.Context) ([]auction.Auction, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auction.Auction
	for _, a := range s.auctions {
		if a.Status == auction.StatusActive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *AuctionRepo) WithLock(ctx context.Context, id string, fn func(ctx context.Context, tx store.Tx) error) error {
	s := (*Store)(r)
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	a, ok := s.auctions[id]
	instructions := append([]auction.Instruction(nil), s.instructions[id]...)
	var highest *auction.PlacedBid
	if bids := s.bids[id]; len(bids) > 0 {
		h := highestOf(bids)
		highest = &h
	}
	s.mu.RUnlock()
	if !ok {
		return &auction.NotFoundError{Kind: "auction", ID: id}
	}

	tx := &memTx{
		store:        s,
		auction:      &a,
		highest:      highest,
		instructions: instructions,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *memTx) {
	now := s.clock.Now().UTC()
	pending := tx.auction.PendingEvents()

	s.mu.Lock()
	defer s.mu.Unlock()
	id := tx.auction.ID
	s.auctions[id] = *tx.auction
	s.bids[id] = append(s.bids[id], tx.appended...)
	if len(tx.instructions) == 0 {
		delete(s.instructions, id)
	} else {
		s.instructions[id] = tx.instructions
	}
	for _, e := range pending {
		s.eventSeq++
		e.ID = strconv.Itoa(s.eventSeq)
		e.CreatedAt = now
		s.events = append(s.events, e)
	}
}

// memTx stages changes made while an auction is locked.
type memTx struct {
	store        *Store
	auction      *auction.Auction
	highest      *auction.PlacedBid
	appended     []auction.PlacedBid
	instructions []auction.Instruction
}

func (t *memTx) Auction() *auction.Auction { return t.auction }

func (t *memTx) HighestBid(context.Context) (*auction.PlacedBid, error) {
	if t.highest == nil {
		return nil, nil
	}
	h := *t.highest
	return &h, nil
}

func (t *memTx) AppendBid(_ context.Context, b *auction.PlacedBid) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.PlacedAt.IsZero() {
		b.PlacedAt = t.store.clock.Now().UTC()
	}
	b.AuctionID = t.auction.ID
	t.appended = append(t.appended, *b)
	if t.highest == nil || b.Amount > t.highest.Amount {
		h := *b
		t.highest = &h
	}
	return nil
}

func (t *memTx) ActiveInstructions(context.Context) ([]auction.Instruction, error) {
	return append([]auction.Instruction(nil), t.instructions...), nil
}

func (t *memTx) PutInstruction(_ context.Context, in *auction.Instruction) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.ConfiguredAt.IsZero() {
		in.ConfiguredAt = t.store.clock.Now().UTC()
	}
	in.AuctionID = t.auction.ID
	in.Active = true
	t.removeInstruction(in.BidderID)
	t.instructions = append(t.instructions, *in)
	return nil
}

func (t *memTx) DeactivateInstruction(_ context.Context, bidderID string) (bool, error) {
	return t.removeInstruction(bidderID), nil
}

func (t *memTx) removeInstruction(bidderID string) bool {
	for i, in := range t.instructions {
		if in.BidderID == bidderID {
			t.instructions = append(t.instructions[:i:i], t.instructions[i+1:]...)
			return true
		}
	}
	return false
}

// BidRepo implements store.BidRepository.
type BidRepo Store

func (r *BidRepo) ListByAuction(_ context.Context, auctionID string) ([]auction.PlacedBid, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]auction.PlacedBid(nil), s.bids[auctionID]...), nil
}

func (r *BidRepo) Highest(_ context.Context, auctionID string) (*auction.PlacedBid, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	bids := s.bids[auctionID]
	if len(bids) == 0 {
		return nil, nil
	}
	h := highestOf(bids)
	return &h, nil
}

// InstructionRepo implements store.InstructionRepository.
type InstructionRepo Store

func (r *InstructionRepo) Get(_ context.Context, auctionID, bidderID string) (*auction.Instruction, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, in := range s.instructions[auctionID] {
		if in.BidderID == bidderID {
			found := in
			return &found, nil
		}
	}
	return nil, nil
}

func (r *InstructionRepo) ListActive(_ context.Context, auctionID string) ([]auction.Instruction, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]auction.Instruction(nil), s.instructions[auctionID]...), nil
}

func (r *InstructionRepo) AuctionsWithActive(_ context.Context) ([]string, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, ins := range s.instructions {
		if len(ins) == 0 {
			continue
		}
		if a, ok := s.auctions[id]; ok && a.Status == auction.StatusActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// EventStore implements event.Store.
type EventStore Store

func (es *EventStore) Append(_ context.Context, events ...event.Event) error {
	s := (*Store)(es)
	now := s.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.eventSeq++
		e.ID = strconv.Itoa(s.eventSeq)
		e.CreatedAt = now
		s.events = append(s.events, e)
	}
	return nil
}

func (es *EventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	s := (*Store)(es)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []event.Event
	for _, e := range s.events {
		if e.AggregateID == aggregateID {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}

func (es *EventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	s := (*Store)(es)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []event.Event
	for _, e := range s.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result, nil
}

func highestOf(bids []auction.PlacedBid) auction.PlacedBid {
	h := bids[0]
	for _, b := range bids[1:] {
		if b.Amount >= h.Amount {
			h = b
		}
	}
	return h
}

// snapshot copies an auction without its pending events.
func snapshot(a *auction.Auction) auction.Auction {
	c := *a
	c.PendingEvents()
	return c
}
