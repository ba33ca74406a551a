package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type identifies a committed auction event.
type Type string

const (
	TypeBidAccepted      Type = "BidAccepted"
	TypeAuctionClosed    Type = "AuctionClosed"
	TypeAuctionCancelled Type = "AuctionCancelled"
)

// Envelope is the wire structure every committed event travels in. Sequence
// increases monotonically per auction so consumers can discard duplicate or
// out-of-order deliveries.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	AuctionID uuid.UUID       `json:"auction_id"`
	Type      Type            `json:"type"`
	Sequence  int64           `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// BidAcceptedPayload carries a committed bid plus the context the fan-out
// consumers need: the displaced bidder (for Outbid) and the new highest amount.
type BidAcceptedPayload struct {
	BidID                   uuid.UUID       `json:"bid_id"`
	BidderID                uuid.UUID       `json:"bidder_id"`
	SellerID                uuid.UUID       `json:"seller_id"`
	Amount                  decimal.Decimal `json:"amount"`
	AcceptedAt              time.Time       `json:"accepted_at"`
	NewHighest              decimal.Decimal `json:"new_highest"`
	PreviousHighestBidderID *uuid.UUID      `json:"previous_highest_bidder_id,omitempty"`
}

// AuctionClosedPayload carries the final state at deadline close. The winner
// fields are nil when the auction finished without bids.
type AuctionClosedPayload struct {
	SellerID    uuid.UUID        `json:"seller_id"`
	ClosedAt    time.Time        `json:"closed_at"`
	FinalBidID  *uuid.UUID       `json:"final_bid_id,omitempty"`
	WinnerID    *uuid.UUID       `json:"winner_id,omitempty"`
	FinalAmount *decimal.Decimal `json:"final_amount,omitempty"`
}

// AuctionCancelledPayload marks a seller-initiated cancellation of a bidless
// auction.
type AuctionCancelledPayload struct {
	SellerID    uuid.UUID `json:"seller_id"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// ParsePayload decodes an envelope's data into its typed payload.
func ParsePayload(env *Envelope) (interface{}, error) {
	switch env.Type {
	case TypeBidAccepted:
		var payload BidAcceptedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal BidAccepted payload: %w", err)
		}
		return payload, nil

	case TypeAuctionClosed:
		var payload AuctionClosedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal AuctionClosed payload: %w", err)
		}
		return payload, nil

	case TypeAuctionCancelled:
		var payload AuctionCancelledPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal AuctionCancelled payload: %w", err)
		}
		return payload, nil

	default:
		return nil, nil // unknown event type
	}
}
