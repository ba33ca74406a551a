package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bidhaus/auctiond/internal/auction/events"
	"github.com/bidhaus/auctiond/internal/auctionerrors"
	"github.com/bidhaus/auctiond/internal/config"
	"github.com/bidhaus/auctiond/internal/models"
)

// fakeStore mirrors the repository's commit semantics in memory so the
// registry can be driven without a database.
type fakeStore struct {
	mu       sync.Mutex
	auctions map[uuid.UUID]*models.Auction
	bids     map[uuid.UUID][]models.Bid
	staged   []stagedEvent

	appendErr error
	getErr    error
}

type stagedEvent struct {
	auctionID uuid.UUID
	eventType events.Type
	payload   any
}

func newFakeStore(auctions ...*models.Auction) *fakeStore {
	s := &fakeStore{
		auctions: make(map[uuid.UUID]*models.Auction),
		bids:     make(map[uuid.UUID][]models.Bid),
	}
	for _, a := range auctions {
		copied := *a
		s.auctions[a.ID] = &copied
	}
	return s
}

func (s *fakeStore) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	a, ok := s.auctions[id]
	if !ok {
		return nil, auctionerrors.ErrAuctionNotFound
	}
	copied := *a
	if a.HighestBid != nil {
		bid := *a.HighestBid
		copied.HighestBid = &bid
	}
	return &copied, nil
}

func (s *fakeStore) AppendBid(ctx context.Context, bid models.Bid, payload events.BidAcceptedPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	a := s.auctions[bid.AuctionID]
	s.bids[bid.AuctionID] = append(s.bids[bid.AuctionID], bid)
	highest := bid
	a.HighestBid = &highest
	s.staged = append(s.staged, stagedEvent{bid.AuctionID, events.TypeBidAccepted, payload})
	return nil
}

func (s *fakeStore) CloseAuction(ctx context.Context, id uuid.UUID, payload events.AuctionClosedPayload) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.auctions[id]
	if a.Status != models.AuctionStatusOpen {
		return false, nil
	}
	a.Status = models.AuctionStatusFinished
	s.staged = append(s.staged, stagedEvent{id, events.TypeAuctionClosed, payload})
	return true, nil
}

func (s *fakeStore) CancelAuction(ctx context.Context, id uuid.UUID, payload events.AuctionCancelledPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.auctions[id]
	if a.Status != models.AuctionStatusOpen || len(s.bids[id]) > 0 {
		return errors.New("cancel conflict")
	}
	a.Status = models.AuctionStatusCancelled
	s.staged = append(s.staged, stagedEvent{id, events.TypeAuctionCancelled, payload})
	return nil
}

func (s *fakeStore) stagedEvents() []stagedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stagedEvent, len(s.staged))
	copy(out, s.staged)
	return out
}

func testRules() config.Rules {
	return config.Rules{
		Duration:     48 * time.Hour,
		MinIncrement: decimal.NewFromInt(10),
	}
}

func openAuction(sellerID uuid.UUID, createdAt time.Time) *models.Auction {
	return &models.Auction{
		ID:         uuid.New(),
		ProductID:  uuid.New(),
		SellerID:   sellerID,
		StartPrice: decimal.NewFromInt(100),
		Status:     models.AuctionStatusOpen,
		CreatedAt:  createdAt,
	}
}

func TestSubmitBidAcceptance(t *testing.T) {
	seller := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(t0.Add(time.Minute))

	auction := openAuction(seller, t0)
	store := newFakeStore(auction)
	reg := New(store, testRules(), clock)
	ctx := context.Background()

	// First bid must clear start price plus increment.
	_, err := reg.SubmitBid(ctx, auction.ID, alice, decimal.NewFromInt(105))
	require.ErrorIs(t, err, auctionerrors.ErrBelowMinimum)

	first, err := reg.SubmitBid(ctx, auction.ID, alice, decimal.NewFromInt(110))
	require.NoError(t, err)
	require.Equal(t, alice, first.BidderID)
	require.True(t, first.Amount.Equal(decimal.NewFromInt(110)))
	require.Equal(t, clock.Now().UTC(), first.AcceptedAt)

	// The bar moved: highest plus increment, not start price plus increment.
	_, err = reg.SubmitBid(ctx, auction.ID, bob, decimal.NewFromInt(115))
	require.ErrorIs(t, err, auctionerrors.ErrBelowMinimum)

	second, err := reg.SubmitBid(ctx, auction.ID, bob, decimal.NewFromInt(130))
	require.NoError(t, err)
	require.Equal(t, bob, second.BidderID)

	staged := store.stagedEvents()
	require.Len(t, staged, 2)

	firstPayload := staged[0].payload.(events.BidAcceptedPayload)
	require.Equal(t, events.TypeBidAccepted, staged[0].eventType)
	require.Nil(t, firstPayload.PreviousHighestBidderID)
	require.Equal(t, seller, firstPayload.SellerID)

	secondPayload := staged[1].payload.(events.BidAcceptedPayload)
	require.NotNil(t, secondPayload.PreviousHighestBidderID)
	require.Equal(t, alice, *secondPayload.PreviousHighestBidderID)
	require.True(t, secondPayload.NewHighest.Equal(decimal.NewFromInt(130)))
}

func TestSubmitBidRejections(t *testing.T) {
	seller := uuid.New()
	bidder := uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		setup   func(a *models.Auction, clock *clockwork.FakeClock)
		bidder  uuid.UUID
		amount  decimal.Decimal
		wantErr error
	}{
		{
			name:    "non_positive_amount",
			bidder:  bidder,
			amount:  decimal.Zero,
			wantErr: auctionerrors.ErrInvalidAmount,
		},
		{
			name:    "negative_amount",
			bidder:  bidder,
			amount:  decimal.NewFromInt(-5),
			wantErr: auctionerrors.ErrInvalidAmount,
		},
		{
			name:    "seller_bids_own_auction",
			bidder:  seller,
			amount:  decimal.NewFromInt(500),
			wantErr: auctionerrors.ErrSelfBid,
		},
		{
			name: "auction_already_finished",
			setup: func(a *models.Auction, clock *clockwork.FakeClock) {
				a.Status = models.AuctionStatusFinished
			},
			bidder:  bidder,
			amount:  decimal.NewFromInt(500),
			wantErr: auctionerrors.ErrAuctionClosed,
		},
		{
			name: "deadline_passed_but_not_yet_swept",
			setup: func(a *models.Auction, clock *clockwork.FakeClock) {
				clock.Advance(49 * time.Hour)
			},
			bidder:  bidder,
			amount:  decimal.NewFromInt(500),
			wantErr: auctionerrors.ErrAuctionClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(t0.Add(time.Minute))
			auction := openAuction(seller, t0)
			if tt.setup != nil {
				tt.setup(auction, clock)
			}
			store := newFakeStore(auction)
			reg := New(store, testRules(), clock)

			_, err := reg.SubmitBid(context.Background(), auction.ID, tt.bidder, tt.amount)
			require.ErrorIs(t, err, tt.wantErr)
			require.Empty(t, store.stagedEvents(), "rejection must be side-effect free")
		})
	}
}

func TestSubmitBidUnknownAuction(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	store := newFakeStore()
	reg := New(store, testRules(), clock)

	_, err := reg.SubmitBid(context.Background(), uuid.New(), uuid.New(), decimal.NewFromInt(200))
	require.ErrorIs(t, err, auctionerrors.ErrAuctionNotFound)
}

func TestSubmitBidStoreFailureLeavesSnapshotIntact(t *testing.T) {
	seller := uuid.New()
	bidder := uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(t0.Add(time.Minute))

	auction := openAuction(seller, t0)
	store := newFakeStore(auction)
	reg := New(store, testRules(), clock)
	ctx := context.Background()

	store.appendErr = errors.New("connection reset")
	_, err := reg.SubmitBid(ctx, auction.ID, bidder, decimal.NewFromInt(110))
	require.Error(t, err)
	require.Empty(t, store.stagedEvents())

	// The failed bid did not advance the minimum.
	store.appendErr = nil
	bid, err := reg.SubmitBid(ctx, auction.ID, bidder, decimal.NewFromInt(110))
	require.NoError(t, err)
	require.True(t, bid.Amount.Equal(decimal.NewFromInt(110)))
}

func TestSubmitBidConcurrentEqualAmounts(t *testing.T) {
	seller := uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(t0.Add(time.Minute))

	auction := openAuction(seller, t0)
	store := newFakeStore(auction)
	reg := New(store, testRules(), clock)

	const bidders = 16
	amount := decimal.NewFromInt(110)

	var wg sync.WaitGroup
	errs := make([]error, bidders)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = reg.SubmitBid(context.Background(), auction.ID, uuid.New(), amount)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		require.ErrorIs(t, err, auctionerrors.ErrBelowMinimum)
	}
	require.Equal(t, 1, accepted, "exactly one of the equal bids wins")
	require.Len(t, store.stagedEvents(), 1)
}

func TestCloseIdempotent(t *testing.T) {
	seller := uuid.New()
	bidder := uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(t0.Add(time.Minute))

	auction := openAuction(seller, t0)
	store := newFakeStore(auction)
	reg := New(store, testRules(), clock)
	ctx := context.Background()

	bid, err := reg.SubmitBid(ctx, auction.ID, bidder, decimal.NewFromInt(110))
	require.NoError(t, err)

	// Before the deadline the close is refused, not performed.
	closed, err := reg.Close(ctx, auction.ID)
	require.NoError(t, err)
	require.False(t, closed)

	clock.Advance(48 * time.Hour)

	closed, err = reg.Close(ctx, auction.ID)
	require.NoError(t, err)
	require.True(t, closed)

	closed, err = reg.Close(ctx, auction.ID)
	require.NoError(t, err)
	require.False(t, closed, "second close is a no-op")

	staged := store.stagedEvents()
	require.Len(t, staged, 2)
	payload := staged[1].payload.(events.AuctionClosedPayload)
	require.Equal(t, events.TypeAuctionClosed, staged[1].eventType)
	require.NotNil(t, payload.WinnerID)
	require.Equal(t, bidder, *payload.WinnerID)
	require.Equal(t, bid.ID, *payload.FinalBidID)
	require.True(t, payload.FinalAmount.Equal(decimal.NewFromInt(110)))

	// Bids against a finished auction are rejected even after eviction
	// forces a fresh load from the store.
	_, err = reg.SubmitBid(ctx, auction.ID, bidder, decimal.NewFromInt(200))
	require.ErrorIs(t, err, auctionerrors.ErrAuctionClosed)
}

func TestCloseWithoutBids(t *testing.T) {
	seller := uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(t0)

	auction := openAuction(seller, t0)
	store := newFakeStore(auction)
	reg := New(store, testRules(), clock)

	clock.Advance(48 * time.Hour)
	closed, err := reg.Close(context.Background(), auction.ID)
	require.NoError(t, err)
	require.True(t, closed)

	staged := store.stagedEvents()
	require.Len(t, staged, 1)
	payload := staged[0].payload.(events.AuctionClosedPayload)
	require.Nil(t, payload.WinnerID)
	require.Nil(t, payload.FinalBidID)
	require.Nil(t, payload.FinalAmount)
}

func TestCancel(t *testing.T) {
	seller := uuid.New()
	stranger := uuid.New()
	bidder := uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		requester uuid.UUID
		setup     func(ctx context.Context, t *testing.T, reg *Registry, auctionID uuid.UUID)
		wantErr   error
	}{
		{
			name:      "seller_cancels_bidless_auction",
			requester: seller,
		},
		{
			name:      "non_owner_rejected",
			requester: stranger,
			wantErr:   auctionerrors.ErrNotOwner,
		},
		{
			name:      "auction_with_bids_rejected",
			requester: seller,
			setup: func(ctx context.Context, t *testing.T, reg *Registry, auctionID uuid.UUID) {
				_, err := reg.SubmitBid(ctx, auctionID, bidder, decimal.NewFromInt(110))
				require.NoError(t, err)
			},
			wantErr: auctionerrors.ErrHasBids,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(t0.Add(time.Minute))
			auction := openAuction(seller, t0)
			store := newFakeStore(auction)
			reg := New(store, testRules(), clock)
			ctx := context.Background()

			if tt.setup != nil {
				tt.setup(ctx, t, reg, auction.ID)
			}

			err := reg.Cancel(ctx, auction.ID, tt.requester)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			staged := store.stagedEvents()
			require.Len(t, staged, 1)
			require.Equal(t, events.TypeAuctionCancelled, staged[0].eventType)
			require.Equal(t, seller, staged[0].payload.(events.AuctionCancelledPayload).SellerID)

			// Cancelled is terminal.
			err = reg.Cancel(ctx, auction.ID, seller)
			require.ErrorIs(t, err, auctionerrors.ErrAuctionClosed)
		})
	}
}

func TestEntryEvictionAfterTerminal(t *testing.T) {
	seller := uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(t0)

	auction := openAuction(seller, t0)
	store := newFakeStore(auction)
	reg := New(store, testRules(), clock)
	ctx := context.Background()

	clock.Advance(48 * time.Hour)
	_, err := reg.Close(ctx, auction.ID)
	require.NoError(t, err)

	reg.mu.Lock()
	_, resident := reg.entries[auction.ID]
	reg.mu.Unlock()
	require.False(t, resident, "terminal entries are evicted once unused")
}
