// Package broadcast delivers price changes and auction outcomes to
// subscribers.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/auction-bid-engine/internal/auction"
	"github.com/jensholdgaard/auction-bid-engine/internal/bidding"
)

// LogSink writes every notification to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) OnPriceChanged(ctx context.Context, c bidding.PriceChange) error {
	s.logger.InfoContext(ctx, "price changed",
		slog.String("auction_id", c.AuctionID),
		slog.Int64("price", c.NewPrice),
		slog.String("bidder_id", c.BidderID),
		slog.Bool("auto_bid", c.IsAutoBid),
		slog.Bool("highest", c.IsHighest),
	)
	return nil
}

func (s *LogSink) OnAuctionEnded(ctx context.Context, o auction.Outcome) error {
	attrs := []any{
		slog.String("auction_id", o.AuctionID),
		slog.Bool("sold", o.Sold),
	}
	if o.Sold {
		attrs = append(attrs, slog.String("winner_id", o.WinnerID), slog.Int64("final_price", o.FinalPrice))
	} else if o.HighestBid != nil {
		attrs = append(attrs, slog.Int64("highest_bid", *o.HighestBid))
	}
	s.logger.InfoContext(ctx, "auction outcome", attrs...)
	return nil
}

// Fanout forwards notifications to every sink and joins their errors.
type Fanout []bidding.Sink

func (f Fanout) OnPriceChanged(ctx context.Context, c bidding.PriceChange) error {
	var errs []error
	for _, s := range f {
		if err := s.OnPriceChanged(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) OnAuctionEnded(ctx context.Context, o auction.Outcome) error {
	var errs []error
	for _, s := range f {
		if err := s.OnAuctionEnded(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MessageSender is the part of *discordgo.Session a DiscordSink needs.
type MessageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts high-bid changes and outcomes to a Discord channel.
// Losing proxy bids recorded in the same pass are not announced.
type DiscordSink struct {
	sender    MessageSender
	channelID string
}

// NewDiscordSink returns a DiscordSink posting to channelID.
func NewDiscordSink(sender MessageSender, channelID string) *DiscordSink {
	return &DiscordSink{sender: sender, channelID: channelID}
}

func (s *DiscordSink) OnPriceChanged(ctx context.Context, c bidding.PriceChange) error {
	if !c.IsHighest {
		return nil
	}
	kind := "bid"
	if c.IsAutoBid {
		kind = "auto-bid"
	}
	msg := fmt.Sprintf("Auction `%s`: new high %s of **%d** by <@%s>", c.AuctionID, kind, c.NewPrice, c.BidderID)
	return s.send(ctx, msg)
}

func (s *DiscordSink) OnAuctionEnded(ctx context.Context, o auction.Outcome) error {
	var msg string
	switch {
	case o.Sold:
		msg = fmt.Sprintf("Auction `%s` ended! Winner: <@%s> with **%d**", o.AuctionID, o.WinnerID, o.FinalPrice)
	case o.HighestBid != nil:
		msg = fmt.Sprintf("Auction `%s` ended without a sale. The highest bid of **%d** did not meet the reserve.", o.AuctionID, *o.HighestBid)
	default:
		msg = fmt.Sprintf("Auction `%s` ended with no bids.", o.AuctionID)
	}
	return s.send(ctx, msg)
}

func (s *DiscordSink) send(ctx context.Context, msg string) error {
	if _, err := s.sender.ChannelMessageSend(s.channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending discord message: %w", err)
	}
	return nil
}
