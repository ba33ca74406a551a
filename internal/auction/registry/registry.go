package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/bidhaus/auctiond/internal/auction/events"
	"github.com/bidhaus/auctiond/internal/auction/repository"
	"github.com/bidhaus/auctiond/internal/auctionerrors"
	"github.com/bidhaus/auctiond/internal/config"
	"github.com/bidhaus/auctiond/internal/models"
)

// Store is what the registry needs from the durable auction store. Every
// mutation commits before the registry reports success or lets an event out.
type Store interface {
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	AppendBid(ctx context.Context, bid models.Bid, payload events.BidAcceptedPayload) error
	CloseAuction(ctx context.Context, id uuid.UUID, payload events.AuctionClosedPayload) (bool, error)
	CancelAuction(ctx context.Context, id uuid.UUID, payload events.AuctionCancelledPayload) error
}

// Registry is the single writer for auction status and highest bid. All
// mutating operations on one auction id run one at a time in arrival order;
// operations on different auctions proceed in parallel.
type Registry struct {
	store Store
	rules config.Rules
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

// entry is the serialization point for one auction id. Its mutex is the
// serialized section; the cached snapshot is only read or written under it.
type entry struct {
	mu      sync.Mutex
	refs    int
	auction *models.Auction
}

func New(store Store, rules config.Rules, clock clockwork.Clock) *Registry {
	return &Registry{
		store:   store,
		rules:   rules,
		clock:   clock,
		entries: make(map[uuid.UUID]*entry),
	}
}

// SubmitBid runs the acceptance algorithm inside the auction's serialized
// section. On success the bid is durably committed, the snapshot advanced,
// and exactly one BidAccepted event staged; every rejection is side-effect
// free.
func (r *Registry) SubmitBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (*models.Bid, error) {
	if !amount.IsPositive() {
		return nil, auctionerrors.ErrInvalidAmount
	}

	e, err := r.acquire(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer r.release(auctionID, e)

	a := e.auction
	now := r.clock.Now().UTC()
	if a.Status != models.AuctionStatusOpen || !now.Before(a.Deadline(r.rules.Duration)) {
		return nil, auctionerrors.ErrAuctionClosed
	}
	if bidderID == a.SellerID {
		return nil, auctionerrors.ErrSelfBid
	}
	minimum := a.MinimumAcceptable(r.rules.MinIncrement)
	if amount.LessThan(minimum) {
		return nil, fmt.Errorf("%w: minimum acceptable is %s", auctionerrors.ErrBelowMinimum, minimum)
	}

	bid := models.Bid{
		ID:         uuid.New(),
		AuctionID:  auctionID,
		BidderID:   bidderID,
		Amount:     amount,
		AcceptedAt: now,
	}
	payload := events.BidAcceptedPayload{
		BidID:      bid.ID,
		BidderID:   bid.BidderID,
		SellerID:   a.SellerID,
		Amount:     bid.Amount,
		AcceptedAt: bid.AcceptedAt,
		NewHighest: bid.Amount,
	}
	if a.HighestBid != nil {
		prev := a.HighestBid.BidderID
		payload.PreviousHighestBidderID = &prev
	}

	if err := r.store.AppendBid(ctx, bid, payload); err != nil {
		if errors.Is(err, repository.ErrHighestBidConflict) {
			// The store disagrees with the serialized snapshot about the
			// highest bid. That is a broken invariant, not a rejection.
			log.Panic().
				Str("auction_id", auctionID.String()).
				Str("bid_id", bid.ID.String()).
				Msg("highest bid diverged from serialized snapshot")
		}
		return nil, fmt.Errorf("failed to commit bid: %w", err)
	}

	e.auction.HighestBid = &bid
	log.Info().
		Str("auction_id", auctionID.String()).
		Str("bid_id", bid.ID.String()).
		Str("bidder_id", bidderID.String()).
		Str("amount", amount.String()).
		Msg("bid accepted")
	return &bid, nil
}

// Close drives an open auction past its deadline to FINISHED. It is
// idempotent: a second call, or a call on an already-terminal auction, is a
// no-op. It reports whether this call performed the transition.
func (r *Registry) Close(ctx context.Context, auctionID uuid.UUID) (bool, error) {
	e, err := r.acquire(ctx, auctionID)
	if err != nil {
		return false, err
	}
	defer r.release(auctionID, e)

	a := e.auction
	if a.Status.Terminal() {
		return false, nil
	}
	now := r.clock.Now().UTC()
	if now.Before(a.Deadline(r.rules.Duration)) {
		return false, nil
	}

	payload := events.AuctionClosedPayload{
		SellerID: a.SellerID,
		ClosedAt: now,
	}
	if a.HighestBid != nil {
		bidID := a.HighestBid.ID
		winner := a.HighestBid.BidderID
		amount := a.HighestBid.Amount
		payload.FinalBidID = &bidID
		payload.WinnerID = &winner
		payload.FinalAmount = &amount
	}

	closed, err := r.store.CloseAuction(ctx, auctionID, payload)
	if err != nil {
		return false, fmt.Errorf("failed to commit close: %w", err)
	}
	if !closed {
		log.Panic().
			Str("auction_id", auctionID.String()).
			Msg("store reports auction terminal while serialized snapshot is open")
	}

	e.auction.Status = models.AuctionStatusFinished
	log.Info().
		Str("auction_id", auctionID.String()).
		Bool("had_bids", a.HighestBid != nil).
		Msg("auction finished at deadline")
	return true, nil
}

// Cancel transitions a bidless open auction to CANCELLED on behalf of its
// seller.
func (r *Registry) Cancel(ctx context.Context, auctionID, requesterID uuid.UUID) error {
	e, err := r.acquire(ctx, auctionID)
	if err != nil {
		return err
	}
	defer r.release(auctionID, e)

	a := e.auction
	if requesterID != a.SellerID {
		return auctionerrors.ErrNotOwner
	}
	if a.Status.Terminal() {
		return auctionerrors.ErrAuctionClosed
	}
	// HighestBid is nil exactly when the ledger is empty.
	if a.HighestBid != nil {
		return auctionerrors.ErrHasBids
	}

	now := r.clock.Now().UTC()
	payload := events.AuctionCancelledPayload{SellerID: a.SellerID, CancelledAt: now}
	if err := r.store.CancelAuction(ctx, auctionID, payload); err != nil {
		if errors.Is(err, repository.ErrCancelConflict) {
			log.Panic().
				Str("auction_id", auctionID.String()).
				Msg("store rejected cancel the serialized snapshot allowed")
		}
		return fmt.Errorf("failed to commit cancel: %w", err)
	}

	e.auction.Status = models.AuctionStatusCancelled
	log.Info().
		Str("auction_id", auctionID.String()).
		Msg("auction cancelled by seller")
	return nil
}

// acquire enters the serialized section for an auction id, loading the
// snapshot from the store on first use. The wait is bounded by the bid rate
// on that single auction and never blocks other auctions.
func (r *Registry) acquire(ctx context.Context, auctionID uuid.UUID) (*entry, error) {
	r.mu.Lock()
	e, ok := r.entries[auctionID]
	if !ok {
		e = &entry{}
		r.entries[auctionID] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()

	if e.auction == nil {
		auction, err := r.store.GetAuction(ctx, auctionID)
		if err != nil {
			e.mu.Unlock()
			r.unref(auctionID, e)
			return nil, err
		}
		e.auction = auction
	}
	return e, nil
}

// release leaves the serialized section and evicts the entry once it is both
// unused and terminal; the next caller, if any, reloads from the store.
func (r *Registry) release(auctionID uuid.UUID, e *entry) {
	e.mu.Unlock()
	r.unref(auctionID, e)
}

func (r *Registry) unref(auctionID uuid.UUID, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.auction != nil && e.auction.Status.Terminal() {
		delete(r.entries, auctionID)
	}
}
