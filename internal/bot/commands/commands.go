package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-bid-engine/internal/auction"
	"github.com/jensholdgaard/auction-bid-engine/internal/tier"
)

// Engine is the bidding surface the commands drive.
type Engine interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) (*auction.PlacedBid, error)
	SetupAutoBid(ctx context.Context, auctionID, bidderID string, maxAmount int64, pct *int) (*auction.PlacedBid, error)
	CancelAutoBid(ctx context.Context, auctionID, bidderID string) error
	EndAuction(ctx context.Context, auctionID string) (auction.Outcome, error)
	DeleteAuction(ctx context.Context, auctionID string) error
	GetAuction(ctx context.Context, auctionID string) (*auction.Auction, error)
}

// Handlers process Discord interactions.
type Handlers struct {
	engine Engine
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(engine Engine, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		engine: engine,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/auction-bid-engine/internal/bot/commands"),
	}
}

var auctionIDOption = &discordgo.ApplicationCommandOption{
	Type:        discordgo.ApplicationCommandOptionString,
	Name:        "auction-id",
	Description: "Auction ID",
	Required:    true,
}

var adminOnly = int64(discordgo.PermissionManageServer)

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	minPct, maxPct := float64(auction.MinReactionPercentage), float64(auction.MaxReactionPercentage)
	return []*discordgo.ApplicationCommand{
		{
			Name:        "bid",
			Description: "Place a bid on an auction",
			Options: []*discordgo.ApplicationCommandOption{
				auctionIDOption,
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Bid amount",
					Required:    true,
				},
			},
		},
		{
			Name:        "autobid",
			Description: "Let the engine bid for you up to a maximum",
			Options: []*discordgo.ApplicationCommandOption{
				auctionIDOption,
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "max",
					Description: "The most you are willing to pay",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "percentage",
					Description: "React to competitors by this percentage instead of the minimum increment",
					Required:    false,
					MinValue:    &minPct,
					MaxValue:    maxPct,
				},
			},
		},
		{
			Name:        "autobid-cancel",
			Description: "Cancel your auto-bid on an auction",
			Options:     []*discordgo.ApplicationCommandOption{auctionIDOption},
		},
		{
			Name:        "auction",
			Description: "Show the current state of an auction",
			Options:     []*discordgo.ApplicationCommandOption{auctionIDOption},
		},
		{
			Name:                     "auction-end",
			Description:              "End an auction (admin only)",
			DefaultMemberPermissions: &adminOnly,
			Options:                  []*discordgo.ApplicationCommandOption{auctionIDOption},
		},
		{
			Name:                     "auction-delete",
			Description:              "Withdraw an auction that has no bids (admin only)",
			DefaultMemberPermissions: &adminOnly,
			Options:                  []*discordgo.ApplicationCommandOption{auctionIDOption},
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	respond(s, i, h.Execute(context.Background(), data.Name, userID(i), data.Options))
}

// Execute runs a command on behalf of a user and returns the reply.
func (h *Handlers) Execute(ctx context.Context, name, user string, opts []*discordgo.ApplicationCommandInteractionDataOption) string {
	ctx, span := h.tracer.Start(ctx, "InteractionCreate",
		trace.WithAttributes(
			attribute.String("command", name),
			attribute.String("user_id", user),
		),
	)
	defer span.End()

	o := optionMap(opts)
	auctionID := ""
	if opt, ok := o["auction-id"]; ok {
		auctionID = opt.StringValue()
	}

	switch name {
	case "bid":
		return h.handleBid(ctx, auctionID, user, o)
	case "autobid":
		return h.handleAutoBid(ctx, auctionID, user, o)
	case "autobid-cancel":
		return h.handleAutoBidCancel(ctx, auctionID, user)
	case "auction":
		return h.handleAuction(ctx, auctionID)
	case "auction-end":
		return h.handleAuctionEnd(ctx, auctionID)
	case "auction-delete":
		return h.handleAuctionDelete(ctx, auctionID)
	default:
		return "Unknown command"
	}
}

func (h *Handlers) handleBid(ctx context.Context, auctionID, user string, o options) string {
	amount := o.integer("amount")
	b, err := h.engine.PlaceBid(ctx, auctionID, user, amount)
	if err != nil {
		return h.failure(ctx, "Bid failed", err)
	}
	return fmt.Sprintf("Bid of **%d** placed on auction `%s`", b.Amount, auctionID)
}

func (h *Handlers) handleAutoBid(ctx context.Context, auctionID, user string, o options) string {
	maxAmount := o.integer("max")
	var pct *int
	if opt, ok := o["percentage"]; ok {
		p := int(opt.IntValue())
		pct = &p
	}

	b, err := h.engine.SetupAutoBid(ctx, auctionID, user, maxAmount, pct)
	if err != nil {
		return h.failure(ctx, "Auto-bid failed", err)
	}

	msg := fmt.Sprintf("Auto-bid up to **%d** set on auction `%s`", maxAmount, auctionID)
	if pct != nil {
		msg += fmt.Sprintf(" (reacting by %d%%)", *pct)
	}
	if b != nil {
		msg += fmt.Sprintf(". You are bidding **%d**.", b.Amount)
	}
	return msg
}

func (h *Handlers) handleAutoBidCancel(ctx context.Context, auctionID, user string) string {
	if err := h.engine.CancelAutoBid(ctx, auctionID, user); err != nil {
		return h.failure(ctx, "Cancel failed", err)
	}
	return fmt.Sprintf("Auto-bid on auction `%s` cancelled. Bids already placed remain.", auctionID)
}

func (h *Handlers) handleAuction(ctx context.Context, auctionID string) string {
	a, err := h.engine.GetAuction(ctx, auctionID)
	if err != nil {
		return h.failure(ctx, "Lookup failed", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Auction `%s`** (%s)\n", a.ID, a.Status)
	if a.Status == auction.StatusActive {
		fmt.Fprintf(&sb, "Current price: **%d** after %d bids\n", a.CurrentPrice, a.BidCount)
		next := a.StartPrice
		if a.HasBids() {
			next = tier.RoundUp(tier.NextMinimum(a.CurrentPrice), tier.MinIncrement(a.CurrentPrice))
		}
		fmt.Fprintf(&sb, "Next bid from **%d**, up to **%d**\n", next, tier.MaxLimit(a.CurrentPrice))
		fmt.Fprintf(&sb, "Ends <t:%d:R>", a.EndAt.Unix())
	} else if a.WinnerID != nil {
		fmt.Fprintf(&sb, "Sold to <@%s> for **%d**", *a.WinnerID, a.CurrentPrice)
	}
	return sb.String()
}

func (h *Handlers) handleAuctionEnd(ctx context.Context, auctionID string) string {
	out, err := h.engine.EndAuction(ctx, auctionID)
	if err != nil {
		return h.failure(ctx, "Failed to end auction", err)
	}
	if out.Sold {
		return fmt.Sprintf("Auction `%s` ended! Winner: <@%s> with **%d**", auctionID, out.WinnerID, out.FinalPrice)
	}
	return fmt.Sprintf("Auction `%s` ended without a sale.", auctionID)
}

func (h *Handlers) handleAuctionDelete(ctx context.Context, auctionID string) string {
	if err := h.engine.DeleteAuction(ctx, auctionID); err != nil {
		return h.failure(ctx, "Failed to delete auction", err)
	}
	return fmt.Sprintf("Auction `%s` withdrawn.", auctionID)
}

// failure turns an engine error into a reply. Rule violations are shown as
// is; anything else is logged and hidden.
func (h *Handlers) failure(ctx context.Context, prefix string, err error) string {
	if auction.IsValidation(err) || errors.Is(err, auction.ErrNotFound) {
		return fmt.Sprintf("%s: %s", prefix, err)
	}
	h.logger.ErrorContext(ctx, "command failed", slog.String("reply", prefix), slog.Any("error", err))
	return prefix + ": something went wrong, please try again."
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(opts))
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func (o options) integer(name string) int64 {
	if opt, ok := o[name]; ok {
		return opt.IntValue()
	}
	return 0
}

func userID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
		},
	})
}
