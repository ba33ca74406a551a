package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus defines the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionStatusOpen      AuctionStatus = "OPEN"
	AuctionStatusFinished  AuctionStatus = "FINISHED"
	AuctionStatusCancelled AuctionStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are defined out of the status.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionStatusFinished || s == AuctionStatusCancelled
}

// Auction represents a time-boxed sale process for one product.
// HighestBid is denormalized from the bid ledger; it is nil exactly when the
// ledger is empty, and its amount never decreases while the auction is open.
type Auction struct {
	ID         uuid.UUID       `json:"id"`
	ProductID  uuid.UUID       `json:"product_id"`
	SellerID   uuid.UUID       `json:"seller_id"`
	StartPrice decimal.Decimal `json:"start_price"`
	Status     AuctionStatus   `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	HighestBid *Bid            `json:"highest_bid,omitempty"`
}

// Deadline derives the closing instant from the creation time. The deadline is
// never stored independently.
func (a *Auction) Deadline(duration time.Duration) time.Time {
	return a.CreatedAt.Add(duration)
}

// MinimumAcceptable returns the smallest amount the next bid must reach:
// the current highest bid (or the start price when the ledger is empty) plus
// the configured increment.
func (a *Auction) MinimumAcceptable(increment decimal.Decimal) decimal.Decimal {
	base := a.StartPrice
	if a.HighestBid != nil {
		base = a.HighestBid.Amount
	}
	return base.Add(increment)
}

// Bid represents an immutable accepted offer against an auction. ID and
// AcceptedAt are assigned server-side at accept time.
type Bid struct {
	ID         uuid.UUID       `json:"id"`
	AuctionID  uuid.UUID       `json:"auction_id"`
	BidderID   uuid.UUID       `json:"bidder_id"`
	Amount     decimal.Decimal `json:"amount"`
	AcceptedAt time.Time       `json:"accepted_at"`
}

// Product is the immutable auction subject metadata read from the catalog.
type Product struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	FloorPrice decimal.Decimal `json:"floor_price"`
}
