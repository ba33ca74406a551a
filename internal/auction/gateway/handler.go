package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/bidhaus/auctiond/internal/auction/repository"
	"github.com/bidhaus/auctiond/internal/auctionerrors"
	"github.com/bidhaus/auctiond/internal/catalog"
	"github.com/bidhaus/auctiond/internal/config"
	"github.com/bidhaus/auctiond/internal/identity"
	"github.com/bidhaus/auctiond/internal/models"
)

// clientNonceHeader suppresses duplicate submissions of one logical request.
const clientNonceHeader = "X-Client-Nonce"

const nonceTTL = 5 * time.Minute

// Coordinator is the serialized entry point the gateway forwards mutations to.
type Coordinator interface {
	SubmitBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (*models.Bid, error)
	Cancel(ctx context.Context, auctionID, requesterID uuid.UUID) error
}

// AuctionStore is the read-and-create surface the gateway uses directly;
// creation is not a mutation of existing auction state and bypasses the
// serialized section.
type AuctionStore interface {
	CreateAuction(ctx context.Context, req repository.CreateAuctionRequest) (*models.Auction, error)
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
	ListAuctionsByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error)
}

// Gateway is the request-facing entry point: it validates shape and
// authorization, forwards to the registry, and translates the outcome.
type Gateway struct {
	coordinator Coordinator
	store       AuctionStore
	catalog     catalog.Reader
	identity    identity.Provider
	rules       config.Rules
	clock       clockwork.Clock
	nonces      *nonceCache
	wake        func()
}

func New(coordinator Coordinator, store AuctionStore, cat catalog.Reader, id identity.Provider, rules config.Rules, clock clockwork.Clock, wake func()) *Gateway {
	if wake == nil {
		wake = func() {}
	}
	return &Gateway{
		coordinator: coordinator,
		store:       store,
		catalog:     cat,
		identity:    id,
		rules:       rules,
		clock:       clock,
		nonces:      newNonceCache(clock, nonceTTL),
		wake:        wake,
	}
}

// RegisterRoutes registers the HTTP surface on the mux.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auctions", withAuth(g.identity, g.handleCreateAuction))
	mux.HandleFunc("GET /auctions", g.handleListAuctions)
	mux.HandleFunc("GET /auctions/{id}", g.handleGetAuction)
	mux.HandleFunc("DELETE /auctions/{id}", withAuth(g.identity, g.handleCancelAuction))
	mux.HandleFunc("POST /auctions/{id}/bids", withAuth(g.identity, g.handleSubmitBid))
	log.Info().Msg("bid gateway routes registered")
}

func (g *Gateway) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := userIDFrom(r.Context())
	if !ok {
		writeRejection(w, auctionerrors.ErrUnauthorized)
		return
	}

	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRejection(w, fmt.Errorf("%w: malformed body", auctionerrors.ErrInvalidAmount))
		return
	}
	if !req.StartPrice.IsPositive() {
		writeRejection(w, fmt.Errorf("%w: start price must be positive", auctionerrors.ErrInvalidAmount))
		return
	}

	product, err := g.catalog.Product(r.Context(), req.ProductID)
	if err != nil {
		writeRejection(w, err)
		return
	}
	if req.StartPrice.LessThan(product.FloorPrice) {
		writeRejection(w, fmt.Errorf("%w: start price below product floor %s",
			auctionerrors.ErrInvalidAmount, product.FloorPrice))
		return
	}

	auction, err := g.store.CreateAuction(r.Context(), repository.CreateAuctionRequest{
		ID:         uuid.New(),
		ProductID:  req.ProductID,
		SellerID:   sellerID,
		StartPrice: req.StartPrice,
		CreatedAt:  g.clock.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create auction")
		writeRejection(w, err)
		return
	}

	// A fresh auction may carry the soonest deadline.
	g.wake()

	log.Info().
		Str("auction_id", auction.ID.String()).
		Str("seller_id", sellerID.String()).
		Msg("auction created")
	writeJSON(w, http.StatusCreated, auctionToResponse(auction, g.rules.Duration))
}

func (g *Gateway) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	bidderID, ok := userIDFrom(r.Context())
	if !ok {
		writeRejection(w, auctionerrors.ErrUnauthorized)
		return
	}
	auctionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeRejection(w, auctionerrors.ErrAuctionNotFound)
		return
	}

	var req submitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRejection(w, fmt.Errorf("%w: malformed body", auctionerrors.ErrInvalidAmount))
		return
	}
	if !req.Amount.IsPositive() {
		writeRejection(w, auctionerrors.ErrInvalidAmount)
		return
	}

	nonce := r.Header.Get(clientNonceHeader)
	key := nonceKey{bidderID: bidderID, auctionID: auctionID, nonce: nonce}
	if nonce != "" {
		if cached, ok := g.nonces.get(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(cached.status)
			w.Write(cached.body)
			return
		}
	}

	// Cheap stateless precheck outside the serialized section; the registry
	// re-evaluates against the authoritative snapshot.
	auction, err := g.store.GetAuction(r.Context(), auctionID)
	if err != nil {
		writeRejection(w, err)
		return
	}
	if auction.SellerID == bidderID {
		g.respondBid(w, key, nonce, bidResultFromErr(auctionerrors.ErrSelfBid))
		return
	}

	bid, err := g.coordinator.SubmitBid(r.Context(), auctionID, bidderID, req.Amount)
	if err != nil {
		g.respondBid(w, key, nonce, bidResultFromErr(err))
		return
	}
	g.respondBid(w, key, nonce, bidResult{
		status: http.StatusCreated,
		body:   bidResultResponse{Accepted: true, Bid: bid},
	})
}

func (g *Gateway) handleCancelAuction(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := userIDFrom(r.Context())
	if !ok {
		writeRejection(w, auctionerrors.ErrUnauthorized)
		return
	}
	auctionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeRejection(w, auctionerrors.ErrAuctionNotFound)
		return
	}

	if err := g.coordinator.Cancel(r.Context(), auctionID, requesterID); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleGetAuction is the authoritative resync read: the auction with its
// full ledger, descending by accepted time.
func (g *Gateway) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeRejection(w, auctionerrors.ErrAuctionNotFound)
		return
	}
	auction, err := g.store.GetAuction(r.Context(), auctionID)
	if err != nil {
		writeRejection(w, err)
		return
	}
	bids, err := g.store.ListBids(r.Context(), auctionID)
	if err != nil {
		log.Error().Err(err).Str("auction_id", auctionID.String()).Msg("failed to list bids")
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionDetailsResponse{
		auctionResponse: auctionToResponse(auction, g.rules.Duration),
		Bids:            bids,
	})
}

func (g *Gateway) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	status := models.AuctionStatus(strings.ToUpper(r.URL.Query().Get("status")))
	if status == "" {
		status = models.AuctionStatusOpen
	}
	switch status {
	case models.AuctionStatusOpen, models.AuctionStatusFinished, models.AuctionStatusCancelled:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}

	auctions, err := g.store.ListAuctionsByStatus(r.Context(), status)
	if err != nil {
		log.Error().Err(err).Msg("failed to list auctions")
		writeRejection(w, err)
		return
	}
	out := make([]auctionResponse, 0, len(auctions))
	for i := range auctions {
		out = append(out, auctionToResponse(&auctions[i], g.rules.Duration))
	}
	writeJSON(w, http.StatusOK, out)
}

type bidResult struct {
	status int
	body   bidResultResponse
}

func bidResultFromErr(err error) bidResult {
	reason, status := rejectionStatus(err)
	msg := ""
	if status != http.StatusInternalServerError {
		msg = err.Error()
	} else {
		log.Error().Err(err).Msg("bid submission failed")
	}
	return bidResult{
		status: status,
		body:   bidResultResponse{Accepted: false, Reason: reason, Message: msg},
	}
}

// respondBid writes the result and, when a nonce accompanied the request,
// caches it so an identical retry is answered without re-validation.
// Transient failures are never cached; the caller retries those.
func (g *Gateway) respondBid(w http.ResponseWriter, key nonceKey, nonce string, res bidResult) {
	body, err := json.Marshal(res.body)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal bid result")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if nonce != "" && res.status < http.StatusInternalServerError {
		g.nonces.put(key, res.status, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.status)
	w.Write(body)
}
