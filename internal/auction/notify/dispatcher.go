package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/bidhaus/auctiond/internal/auction/events"
)

// Kind classifies a targeted notification.
type Kind string

const (
	KindOutbid      Kind = "Outbid"
	KindOwnerNewBid Kind = "OwnerNewBid"
	KindAuctionWon  Kind = "AuctionWon"
)

// Notification is the targeted per-user message derived from a committed
// event. Its ID is deterministic in the source event and kind, so a
// redelivered event produces the same notification and receivers can
// deduplicate by id.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	Kind      Kind             `json:"kind"`
	AuctionID uuid.UUID        `json:"auction_id"`
	BidID     *uuid.UUID       `json:"bid_id,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Sender delivers raw bytes to every live connection of one user.
type Sender interface {
	SendToUser(userID uuid.UUID, data []byte)
}

// Dispatcher turns committed auction events into targeted notifications.
// It never blocks the room broadcast; the two consume the stream
// independently.
type Dispatcher struct {
	sender Sender
}

func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{sender: sender}
}

// HandleEnvelope derives and sends the notifications for one committed
// event: at most Outbid plus OwnerNewBid for a bid, AuctionWon on close.
func (d *Dispatcher) HandleEnvelope(env *events.Envelope) error {
	payload, err := events.ParsePayload(env)
	if err != nil {
		return fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
	}

	switch p := payload.(type) {
	case events.BidAcceptedPayload:
		d.handleBidAccepted(env, p)
	case events.AuctionClosedPayload:
		d.handleAuctionClosed(env, p)
	case events.AuctionCancelledPayload:
		// nothing targeted to send; the room broadcast covers observers
	default:
		log.Warn().
			Str("event_type", string(env.Type)).
			Str("auction_id", env.AuctionID.String()).
			Msg("unknown event type - ignoring")
	}
	return nil
}

func (d *Dispatcher) handleBidAccepted(env *events.Envelope, p events.BidAcceptedPayload) {
	if prev := p.PreviousHighestBidderID; prev != nil && *prev != p.BidderID {
		d.send(*prev, Notification{
			ID:        notificationID(p.BidID, KindOutbid),
			Kind:      KindOutbid,
			AuctionID: env.AuctionID,
			BidID:     &p.BidID,
			Amount:    &p.Amount,
			CreatedAt: p.AcceptedAt,
		})
	}
	d.send(p.SellerID, Notification{
		ID:        notificationID(p.BidID, KindOwnerNewBid),
		Kind:      KindOwnerNewBid,
		AuctionID: env.AuctionID,
		BidID:     &p.BidID,
		Amount:    &p.Amount,
		CreatedAt: p.AcceptedAt,
	})
}

func (d *Dispatcher) handleAuctionClosed(env *events.Envelope, p events.AuctionClosedPayload) {
	if p.WinnerID == nil {
		return
	}
	d.send(*p.WinnerID, Notification{
		ID:        notificationID(*p.FinalBidID, KindAuctionWon),
		Kind:      KindAuctionWon,
		AuctionID: env.AuctionID,
		BidID:     p.FinalBidID,
		Amount:    p.FinalAmount,
		CreatedAt: p.ClosedAt,
	})
}

func (d *Dispatcher) send(userID uuid.UUID, n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Str("notification_id", n.ID.String()).Msg("failed to marshal notification")
		return
	}
	d.sender.SendToUser(userID, data)
	log.Debug().
		Str("notification_id", n.ID.String()).
		Str("kind", string(n.Kind)).
		Str("user_id", userID.String()).
		Msg("notification dispatched")
}

// notificationID derives a stable id from the bid and kind.
func notificationID(bidID uuid.UUID, kind Kind) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("auctiond:"+string(kind)+":"+bidID.String()))
}
