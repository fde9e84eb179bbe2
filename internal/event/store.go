package event

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store persists the auction history. Drivers append an auction's events in
// the same transaction that changes the auction.
type Store interface {
	// Append persists one or more events atomically.
	Append(ctx context.Context, events ...Event) error
	// Load returns an auction's events ordered by version.
	Load(ctx context.Context, aggregateID string) ([]Event, error)
	// LoadByType returns events of one kind across all auctions.
	LoadByType(ctx context.Context, eventType Type) ([]Event, error)
}

// Decode unmarshals the payload of e into T, for example BidPlacedData for
// an AuctionBidPlaced event.
func Decode[T any](e Event) (T, error) {
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return v, fmt.Errorf("decoding %s event %s: %w", e.Type, e.ID, err)
	}
	return v, nil
}
