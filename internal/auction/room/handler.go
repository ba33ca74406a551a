package room

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bidhaus/auctiond/internal/identity"
)

// Handler exposes the WebSocket subscribe endpoints. Tokens arrive as a query
// parameter because browsers cannot set headers on WebSocket upgrades.
type Handler struct {
	hub      *Hub
	identity identity.Provider
}

func NewHandler(hub *Hub, provider identity.Provider) *Handler {
	return &Handler{hub: hub, identity: provider}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/auctions/{id}", h.handleAuctionSubscribe)
	mux.HandleFunc("GET /ws/notifications", h.handleNotificationSubscribe)
	mux.HandleFunc("GET /ws/stats", h.handleStats)
	log.Info().Msg("room WebSocket routes registered")
}

func (h *Handler) handleAuctionSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	auctionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	if err := h.hub.JoinAuction(w, r, userID, auctionID); err != nil {
		log.Error().Err(err).Str("auction_id", auctionID.String()).Msg("failed to join auction room")
	}
}

func (h *Handler) handleNotificationSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if err := h.hub.JoinNotifications(w, r, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to join notification pool")
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.hub.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode stats")
	}
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	userID, err := h.identity.UserForToken(r.Context(), token)
	if err != nil {
		http.Error(w, "unknown token", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}
