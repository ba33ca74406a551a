package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	require.False(t, AuctionStatusOpen.Terminal())
	require.True(t, AuctionStatusFinished.Terminal())
	require.True(t, AuctionStatusCancelled.Terminal())
}

func TestDeadlineDerivedFromCreation(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &Auction{CreatedAt: created}
	require.Equal(t, created.Add(48*time.Hour), a.Deadline(48*time.Hour))
}

func TestMinimumAcceptable(t *testing.T) {
	increment := decimal.NewFromInt(10)

	tests := []struct {
		name    string
		highest *Bid
		want    string
	}{
		{name: "empty_ledger_uses_start_price", want: "110"},
		{
			name:    "highest_bid_moves_the_bar",
			highest: &Bid{ID: uuid.New(), Amount: decimal.NewFromInt(250)},
			want:    "260",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Auction{StartPrice: decimal.NewFromInt(100), HighestBid: tt.highest}
			require.True(t, a.MinimumAcceptable(increment).Equal(decimal.RequireFromString(tt.want)))
		})
	}
}
