package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bidhaus/auctiond/internal/auction/events"
)

type sent struct {
	userID uuid.UUID
	note   Notification
}

type fakeSender struct {
	sent []sent
}

func (s *fakeSender) SendToUser(userID uuid.UUID, data []byte) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		panic(err)
	}
	s.sent = append(s.sent, sent{userID: userID, note: n})
}

func (s *fakeSender) kindsFor(userID uuid.UUID) []Kind {
	var kinds []Kind
	for _, m := range s.sent {
		if m.userID == userID {
			kinds = append(kinds, m.note.Kind)
		}
	}
	return kinds
}

func envelope(t *testing.T, auctionID uuid.UUID, eventType events.Type, payload any) *events.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &events.Envelope{
		ID:        uuid.New(),
		AuctionID: auctionID,
		Type:      eventType,
		Sequence:  1,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func TestBidAcceptedNotifications(t *testing.T) {
	seller := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	auctionID := uuid.New()
	amount := decimal.NewFromInt(130)

	tests := []struct {
		name     string
		previous *uuid.UUID
		bidder   uuid.UUID
		want     map[uuid.UUID][]Kind
	}{
		{
			name:   "first_bid_notifies_owner_only",
			bidder: alice,
			want:   map[uuid.UUID][]Kind{seller: {KindOwnerNewBid}},
		},
		{
			name:     "displaced_bidder_gets_outbid",
			previous: &alice,
			bidder:   bob,
			want: map[uuid.UUID][]Kind{
				alice:  {KindOutbid},
				seller: {KindOwnerNewBid},
			},
		},
		{
			name:     "raising_own_bid_never_outbids_self",
			previous: &alice,
			bidder:   alice,
			want:     map[uuid.UUID][]Kind{seller: {KindOwnerNewBid}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			d := NewDispatcher(sender)

			env := envelope(t, auctionID, events.TypeBidAccepted, events.BidAcceptedPayload{
				BidID:                   uuid.New(),
				BidderID:                tt.bidder,
				SellerID:                seller,
				Amount:                  amount,
				AcceptedAt:              time.Now().UTC(),
				NewHighest:              amount,
				PreviousHighestBidderID: tt.previous,
			})
			require.NoError(t, d.HandleEnvelope(env))

			total := 0
			for userID, kinds := range tt.want {
				require.Equal(t, kinds, sender.kindsFor(userID))
				total += len(kinds)
			}
			require.Len(t, sender.sent, total, "no notification to anyone else")

			for _, m := range sender.sent {
				require.Equal(t, auctionID, m.note.AuctionID)
				require.NotNil(t, m.note.Amount)
				require.True(t, m.note.Amount.Equal(amount))
			}
		})
	}
}

func TestAuctionClosedNotifications(t *testing.T) {
	seller := uuid.New()
	winner := uuid.New()
	auctionID := uuid.New()
	bidID := uuid.New()
	amount := decimal.NewFromInt(130)

	t.Run("winner_notified", func(t *testing.T) {
		sender := &fakeSender{}
		d := NewDispatcher(sender)

		env := envelope(t, auctionID, events.TypeAuctionClosed, events.AuctionClosedPayload{
			SellerID:    seller,
			ClosedAt:    time.Now().UTC(),
			FinalBidID:  &bidID,
			WinnerID:    &winner,
			FinalAmount: &amount,
		})
		require.NoError(t, d.HandleEnvelope(env))

		require.Len(t, sender.sent, 1)
		require.Equal(t, winner, sender.sent[0].userID)
		require.Equal(t, KindAuctionWon, sender.sent[0].note.Kind)
		require.Equal(t, bidID, *sender.sent[0].note.BidID)
	})

	t.Run("bidless_close_is_silent", func(t *testing.T) {
		sender := &fakeSender{}
		d := NewDispatcher(sender)

		env := envelope(t, auctionID, events.TypeAuctionClosed, events.AuctionClosedPayload{
			SellerID: seller,
			ClosedAt: time.Now().UTC(),
		})
		require.NoError(t, d.HandleEnvelope(env))
		require.Empty(t, sender.sent)
	})
}

func TestAuctionCancelledSendsNothing(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender)

	env := envelope(t, uuid.New(), events.TypeAuctionCancelled, events.AuctionCancelledPayload{
		SellerID:    uuid.New(),
		CancelledAt: time.Now().UTC(),
	})
	require.NoError(t, d.HandleEnvelope(env))
	require.Empty(t, sender.sent)
}

func TestRedeliveredEventYieldsSameNotificationID(t *testing.T) {
	seller := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	auctionID := uuid.New()
	amount := decimal.NewFromInt(130)

	payload := events.BidAcceptedPayload{
		BidID:                   uuid.New(),
		BidderID:                bob,
		SellerID:                seller,
		Amount:                  amount,
		AcceptedAt:              time.Now().UTC(),
		NewHighest:              amount,
		PreviousHighestBidderID: &alice,
	}

	sender := &fakeSender{}
	d := NewDispatcher(sender)
	require.NoError(t, d.HandleEnvelope(envelope(t, auctionID, events.TypeBidAccepted, payload)))
	require.NoError(t, d.HandleEnvelope(envelope(t, auctionID, events.TypeBidAccepted, payload)))

	require.Len(t, sender.sent, 4)
	require.Equal(t, sender.sent[0].note.ID, sender.sent[2].note.ID, "outbid id stable across redelivery")
	require.Equal(t, sender.sent[1].note.ID, sender.sent[3].note.ID, "owner id stable across redelivery")
	require.NotEqual(t, sender.sent[0].note.ID, sender.sent[1].note.ID, "different kinds get different ids")
}

func TestMalformedPayloadRejected(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender)

	env := &events.Envelope{
		ID:        uuid.New(),
		AuctionID: uuid.New(),
		Type:      events.TypeBidAccepted,
		Data:      json.RawMessage(`{"bid_id":"not-a-uuid"}`),
	}
	require.Error(t, d.HandleEnvelope(env))
	require.Empty(t, sender.sent)
}
