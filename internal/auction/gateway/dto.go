package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/bidhaus/auctiond/internal/auctionerrors"
	"github.com/bidhaus/auctiond/internal/models"
)

type createAuctionRequest struct {
	ProductID  uuid.UUID       `json:"product_id"`
	StartPrice decimal.Decimal `json:"start_price"`
}

type submitBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type auctionResponse struct {
	ID         uuid.UUID            `json:"id"`
	ProductID  uuid.UUID            `json:"product_id"`
	SellerID   uuid.UUID            `json:"seller_id"`
	StartPrice decimal.Decimal      `json:"start_price"`
	Status     models.AuctionStatus `json:"status"`
	CreatedAt  time.Time            `json:"created_at"`
	Deadline   time.Time            `json:"deadline"`
	HighestBid *models.Bid          `json:"highest_bid,omitempty"`
}

type auctionDetailsResponse struct {
	auctionResponse
	Bids []models.Bid `json:"bids"`
}

// bidResultResponse is the client-visible outcome of a submission. Rejections
// carry a stable machine-readable reason code.
type bidResultResponse struct {
	Accepted bool        `json:"accepted"`
	Bid      *models.Bid `json:"bid,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Message  string      `json:"message,omitempty"`
}

func auctionToResponse(a *models.Auction, duration time.Duration) auctionResponse {
	return auctionResponse{
		ID:         a.ID,
		ProductID:  a.ProductID,
		SellerID:   a.SellerID,
		StartPrice: a.StartPrice,
		Status:     a.Status,
		CreatedAt:  a.CreatedAt,
		Deadline:   a.Deadline(duration),
		HighestBid: a.HighestBid,
	}
}

// rejectionStatus maps a rejection to its reason code and HTTP status.
// Validation errors are 4xx on the input, business-rule rejections are
// conflicts the caller resolves by re-reading state.
func rejectionStatus(err error) (string, int) {
	switch {
	case errors.Is(err, auctionerrors.ErrInvalidAmount):
		return "InvalidAmount", http.StatusBadRequest
	case errors.Is(err, auctionerrors.ErrUnauthorized):
		return "Unauthorized", http.StatusUnauthorized
	case errors.Is(err, auctionerrors.ErrSelfBid):
		return "SelfBid", http.StatusForbidden
	case errors.Is(err, auctionerrors.ErrNotOwner):
		return "NotOwner", http.StatusForbidden
	case errors.Is(err, auctionerrors.ErrBelowMinimum):
		return "BelowMinimum", http.StatusConflict
	case errors.Is(err, auctionerrors.ErrAuctionClosed):
		return "AuctionClosed", http.StatusConflict
	case errors.Is(err, auctionerrors.ErrHasBids):
		return "HasBids", http.StatusConflict
	case errors.Is(err, auctionerrors.ErrAuctionNotFound),
		errors.Is(err, auctionerrors.ErrProductNotFound):
		return "NotFound", http.StatusNotFound
	default:
		return "Internal", http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeRejection(w http.ResponseWriter, err error) {
	reason, status := rejectionStatus(err)
	msg := ""
	if status != http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, bidResultResponse{Accepted: false, Reason: reason, Message: msg})
}
